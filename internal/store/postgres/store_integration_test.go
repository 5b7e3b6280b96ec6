package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"antrid/internal/models"
	"antrid/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestClaimAutoCallsOnIdleCounter(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)

	result, err := st.ClaimTicket(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Ticket.Number != 1 {
		t.Fatalf("expected number 1, got %d", result.Ticket.Number)
	}
	if result.Ticket.Status != models.StatusCalled {
		t.Fatalf("expected called, got %s", result.Ticket.Status)
	}
	if result.Counter.CurrentQueue != 1 {
		t.Fatalf("expected serving number 1, got %d", result.Counter.CurrentQueue)
	}

	got, err := st.GetCounter(ctx, counter.ID)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if got.CurrentQueue != 1 {
		t.Fatalf("serving number not persisted: %d", got.CurrentQueue)
	}
}

func TestClaimLinesUpBehindCalledTicket(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	createCounter(t, ctx, st, "Counter A", 99)

	first, err := st.ClaimTicket(ctx)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	second, err := st.ClaimTicket(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}

	if second.Ticket.Number != 2 {
		t.Fatalf("expected number 2, got %d", second.Ticket.Number)
	}
	if second.Ticket.Status != models.StatusClaimed {
		t.Fatalf("expected claimed, got %s", second.Ticket.Status)
	}
	if !models.InProgress(second.Ticket.Status) {
		t.Fatalf("claimed ticket should be in progress")
	}
	if second.Position != 1 {
		t.Fatalf("expected position 1, got %d", second.Position)
	}
	// Serving number stays on the called ticket.
	if second.Counter.CurrentQueue != first.Ticket.Number {
		t.Fatalf("serving number moved: %d", second.Counter.CurrentQueue)
	}
}

func TestClaimPrefersLowestServingNumber(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	busy := createCounter(t, ctx, st, "Counter A", 99)
	idle := createCounter(t, ctx, st, "Counter B", 99)

	// Put counter A at serving number 1.
	if _, err := st.ClaimTicket(ctx); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	result, err := st.ClaimTicket(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Counter.ID != idle.ID {
		t.Fatalf("expected idle counter %d, got %d", idle.ID, result.Counter.ID)
	}
	_ = busy
}

func TestClaimNoActiveCounter(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if _, err := st.ClaimTicket(ctx); !errors.Is(err, store.ErrNoActiveCounter) {
		t.Fatalf("expected ErrNoActiveCounter, got %v", err)
	}
}

func TestNumberWrapsAtMaxQueue(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 3)

	for i := 1; i <= 3; i++ {
		result, err := st.ClaimTicket(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if result.Ticket.Number != i {
			t.Fatalf("expected number %d, got %d", i, result.Ticket.Number)
		}
	}

	result, err := st.ClaimTicket(ctx)
	if err != nil {
		t.Fatalf("wrap claim: %v", err)
	}
	if result.Ticket.Number != 1 {
		t.Fatalf("expected wrap to 1, got %d", result.Ticket.Number)
	}
	_ = counter
}

func TestNextServesAndPromotes(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)
	for i := 0; i < 3; i++ {
		if _, err := st.ClaimTicket(ctx); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	result, err := st.NextTicket(ctx, counter.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if result.Finished == nil || result.Finished.Number != 1 || result.Finished.Status != models.StatusServed {
		t.Fatalf("unexpected finished ticket: %+v", result.Finished)
	}
	if result.Called == nil || result.Called.Number != 2 || result.Called.Status != models.StatusCalled {
		t.Fatalf("unexpected called ticket: %+v", result.Called)
	}
	if result.Counter.CurrentQueue != 2 {
		t.Fatalf("expected serving number 2, got %d", result.Counter.CurrentQueue)
	}
}

func TestNextOnEmptyCounterResetsServing(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)
	if _, err := st.ClaimTicket(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Serve the only ticket.
	result, err := st.NextTicket(ctx, counter.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if result.Called != nil {
		t.Fatalf("expected no promotion, got %+v", result.Called)
	}
	if result.Counter.CurrentQueue != 0 {
		t.Fatalf("expected serving number 0, got %d", result.Counter.CurrentQueue)
	}

	// Next again on the now-idle counter still succeeds.
	result, err = st.NextTicket(ctx, counter.ID)
	if err != nil {
		t.Fatalf("next on idle: %v", err)
	}
	if result.Finished != nil || result.Called != nil {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestSkipRequiresCalledTicket(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)

	if _, err := st.SkipTicket(ctx, counter.ID); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}

	if _, err := st.ClaimTicket(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	result, err := st.SkipTicket(ctx, counter.ID)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if result.Finished == nil || result.Finished.Status != models.StatusSkipped {
		t.Fatalf("unexpected finished ticket: %+v", result.Finished)
	}
}

func TestReleaseOnlyTouchesClaimed(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)
	called, err := st.ClaimTicket(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	waiting, err := st.ClaimTicket(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Releasing the called number finds nothing to release.
	if _, err := st.ReleaseTicket(ctx, counter.ID, called.Ticket.Number); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound for called ticket, got %v", err)
	}

	result, err := st.ReleaseTicket(ctx, counter.ID, waiting.Ticket.Number)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.Ticket.Status != models.StatusReleased {
		t.Fatalf("expected released, got %s", result.Ticket.Status)
	}
	// Serving number is untouched.
	if result.Counter.CurrentQueue != called.Ticket.Number {
		t.Fatalf("serving number moved: %d", result.Counter.CurrentQueue)
	}

	// A second release of the same number finds nothing.
	if _, err := st.ReleaseTicket(ctx, counter.ID, waiting.Ticket.Number); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound on repeat, got %v", err)
	}
}

func TestResetAbandonsInProgressOnly(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)
	for i := 0; i < 3; i++ {
		if _, err := st.ClaimTicket(ctx); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}
	if _, err := st.NextTicket(ctx, counter.ID); err != nil {
		t.Fatalf("next: %v", err)
	}

	result, err := st.ResetCounter(ctx, counter.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	// One called plus one claimed after the served ticket.
	if result.Affected != 2 {
		t.Fatalf("expected 2 affected, got %d", result.Affected)
	}
	if result.Counter.CurrentQueue != 0 {
		t.Fatalf("expected serving number 0, got %d", result.Counter.CurrentQueue)
	}

	var served int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE status = $1`, models.StatusServed)
	if err := row.Scan(&served); err != nil {
		t.Fatalf("count served: %v", err)
	}
	if served != 1 {
		t.Fatalf("served ticket should survive reset, got %d", served)
	}
}

func TestConcurrentClaimsGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	createCounter(t, ctx, st, "Counter A", 99)

	const claims = 8
	var wg sync.WaitGroup
	results := make(chan store.ClaimResult, claims)
	errs := make(chan error, claims)
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := st.ClaimTicket(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("claim: %v", err)
	}

	seen := make(map[int]bool)
	called := 0
	for result := range results {
		if seen[result.Ticket.Number] {
			t.Fatalf("duplicate number %d", result.Ticket.Number)
		}
		seen[result.Ticket.Number] = true
		if result.Ticket.Status == models.StatusCalled {
			called++
		}
	}
	if len(seen) != claims {
		t.Fatalf("expected %d distinct numbers, got %d", claims, len(seen))
	}
	if called != 1 {
		t.Fatalf("expected exactly one called ticket, got %d", called)
	}
}

func TestDeleteCounterBlockedWhileBusy(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)
	if _, err := st.ClaimTicket(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := st.DeleteCounter(ctx, counter.ID); !errors.Is(err, store.ErrCounterBusy) {
		t.Fatalf("expected ErrCounterBusy, got %v", err)
	}

	if _, err := st.NextTicket(ctx, counter.ID); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := st.DeleteCounter(ctx, counter.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := st.GetCounter(ctx, counter.ID); !errors.Is(err, store.ErrCounterNotFound) {
		t.Fatalf("expected ErrCounterNotFound after delete, got %v", err)
	}

	// The name is free again for a new counter.
	if _, err := st.CreateCounter(ctx, store.CounterInput{Name: "Counter A", MaxQueue: 99}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestDuplicateCounterName(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	createCounter(t, ctx, st, "Counter A", 99)
	if _, err := st.CreateCounter(ctx, store.CounterInput{Name: "Counter A", MaxQueue: 50}); !errors.Is(err, store.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCurrentQueuesSnapshot(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter A", 99)
	inactive := createCounter(t, ctx, st, "Counter B", 99)
	if _, err := st.ToggleCounter(ctx, inactive.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := st.ClaimTicket(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	statuses, err := st.CurrentQueues(ctx, false)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 active counter, got %d", len(statuses))
	}
	if statuses[0].ID != counter.ID || statuses[0].CalledNumber == nil || *statuses[0].CalledNumber != 1 {
		t.Fatalf("unexpected snapshot: %+v", statuses[0])
	}

	statuses, err = st.CurrentQueues(ctx, true)
	if err != nil {
		t.Fatalf("current with inactive: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(statuses))
	}
}

func TestLoginAndSession(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if _, err := st.CreateAdmin(ctx, "admin", "correct horse"); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	if _, _, err := st.Login(ctx, "admin", "wrong", time.Hour); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	session, admin, err := st.Login(ctx, "admin", "correct horse", time.Hour)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if admin.Username != "admin" {
		t.Fatalf("unexpected admin: %+v", admin)
	}

	got, err := st.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.AdminID != admin.ID {
		t.Fatalf("session admin mismatch: %d != %d", got.AdminID, admin.ID)
	}

	if _, err := st.GetSession(ctx, uuid.NewString()); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func createCounter(t *testing.T, ctx context.Context, st *Store, name string, maxQueue int) models.Counter {
	t.Helper()
	counter, err := st.CreateCounter(ctx, store.CounterInput{Name: name, MaxQueue: maxQueue})
	if err != nil {
		t.Fatalf("create counter %s: %v", name, err)
	}
	return counter
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
