package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"antrid/internal/models"
	"antrid/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const searchLimit = 20

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ClaimTicket assigns the next ticket number on the active counter with
// the lowest serving number. The counter row is locked for the whole
// read-modify-write so concurrent claims cannot both observe an idle
// counter and both take the called slot.
func (s *Store) ClaimTicket(ctx context.Context) (store.ClaimResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ClaimResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var counter models.Counter
	row := tx.QueryRow(ctx, `
		SELECT id, name, current_queue, max_queue, is_active, created_at, updated_at
		FROM counters
		WHERE is_active = TRUE AND deleted_at IS NULL
		ORDER BY current_queue ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`)
	if err = row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoActiveCounter
		}
		return store.ClaimResult{}, err
	}

	number, err := nextTicketNumber(ctx, tx, counter)
	if err != nil {
		return store.ClaimResult{}, err
	}

	now := time.Now().UTC()
	status := models.StatusClaimed
	if counter.CurrentQueue == 0 {
		status = models.StatusCalled
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (counter_id, number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id, counter_id, number, status, created_at, updated_at
	`, counter.ID, number, status, now)
	if err = row.Scan(&ticket.ID, &ticket.CounterID, &ticket.Number, &ticket.Status, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return store.ClaimResult{}, err
	}

	position := 0
	if status == models.StatusCalled {
		if err = setServingNumber(ctx, tx, counter.ID, number, now); err != nil {
			return store.ClaimResult{}, err
		}
		counter.CurrentQueue = number
	} else {
		var earlier int
		row = tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM tickets
			WHERE counter_id = $1 AND status = $2 AND id < $3
		`, counter.ID, models.StatusClaimed, ticket.ID)
		if err = row.Scan(&earlier); err != nil {
			return store.ClaimResult{}, err
		}
		position = earlier + 1
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ClaimResult{}, err
	}

	return store.ClaimResult{Ticket: ticket, Counter: counter, Position: position}, nil
}

// ReleaseTicket withdraws a claimed ticket from the waiting line. The
// serving number is untouched: release never applies to the called slot.
func (s *Store) ReleaseTicket(ctx context.Context, counterID int64, number int) (store.ReleaseResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ReleaseResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	counter, err := lockCounter(ctx, tx, counterID)
	if err != nil {
		return store.ReleaseResult{}, err
	}
	if !counter.IsActive {
		return store.ReleaseResult{}, store.ErrCounterInactive
	}

	// The latest ticket for that number is the one the client holds;
	// with wraparound an older, finished ticket may share the number.
	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		SELECT id, counter_id, number, status, created_at, updated_at
		FROM tickets
		WHERE counter_id = $1 AND number = $2 AND status = ANY($3)
		ORDER BY id DESC
		LIMIT 1
		FOR UPDATE
	`, counterID, number, store.InProgressStatuses())
	if err = row.Scan(&ticket.ID, &ticket.CounterID, &ticket.Number, &ticket.Status, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return store.ReleaseResult{}, err
	}
	if !store.ValidTransition("release", ticket.Status) {
		err = store.ErrTicketNotFound
		return store.ReleaseResult{}, err
	}

	ticket.Status = models.StatusReleased
	ticket.UpdatedAt = time.Now().UTC()
	if _, err = tx.Exec(ctx, `
		UPDATE tickets SET status = $1, updated_at = $2 WHERE id = $3
	`, ticket.Status, ticket.UpdatedAt, ticket.ID); err != nil {
		return store.ReleaseResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ReleaseResult{}, err
	}

	return store.ReleaseResult{Ticket: ticket, Counter: counter}, nil
}

// NextTicket serves the called ticket, if any, then promotes the
// earliest claimed ticket into the called slot.
func (s *Store) NextTicket(ctx context.Context, counterID int64) (store.AdvanceResult, error) {
	return s.advance(ctx, counterID, models.StatusServed, false)
}

// SkipTicket marks the called ticket skipped and promotes the earliest
// claimed ticket, sharing the promotion step with NextTicket. Unlike
// Next, skip requires a called ticket to exist.
func (s *Store) SkipTicket(ctx context.Context, counterID int64) (store.AdvanceResult, error) {
	return s.advance(ctx, counterID, models.StatusSkipped, true)
}

func (s *Store) advance(ctx context.Context, counterID int64, finishStatus string, requireCalled bool) (store.AdvanceResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.AdvanceResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	counter, err := lockCounter(ctx, tx, counterID)
	if err != nil {
		return store.AdvanceResult{}, err
	}
	if !counter.IsActive {
		return store.AdvanceResult{}, store.ErrCounterInactive
	}

	now := time.Now().UTC()

	var finished *models.Ticket
	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, updated_at = $2
		WHERE counter_id = $3 AND status = $4
		RETURNING id, counter_id, number, status, created_at, updated_at
	`, finishStatus, now, counterID, models.StatusCalled)
	if err = row.Scan(&ticket.ID, &ticket.CounterID, &ticket.Number, &ticket.Status, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return store.AdvanceResult{}, err
		}
		if requireCalled {
			err = store.ErrTicketNotFound
			return store.AdvanceResult{}, err
		}
		err = nil
	} else {
		finished = &ticket
	}

	called, err := promoteNextClaimed(ctx, tx, &counter, now)
	if err != nil {
		return store.AdvanceResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.AdvanceResult{}, err
	}

	return store.AdvanceResult{Counter: counter, Finished: finished, Called: called}, nil
}

// promoteNextClaimed moves the earliest claimed ticket into the called
// slot and points the counter's serving number at it, or resets the
// serving number to 0 when the line is empty. Callers hold the counter
// row lock.
func promoteNextClaimed(ctx context.Context, tx pgx.Tx, counter *models.Counter, now time.Time) (*models.Ticket, error) {
	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT id
			FROM tickets
			WHERE counter_id = $1 AND status = $2
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		UPDATE tickets
		SET status = $3, updated_at = $4
		FROM next_ticket
		WHERE tickets.id = next_ticket.id
		RETURNING tickets.id, tickets.counter_id, tickets.number, tickets.status, tickets.created_at, tickets.updated_at
	`, counter.ID, models.StatusClaimed, models.StatusCalled, now)
	if err := row.Scan(&ticket.ID, &ticket.CounterID, &ticket.Number, &ticket.Status, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if err := setServingNumber(ctx, tx, counter.ID, 0, now); err != nil {
			return nil, err
		}
		counter.CurrentQueue = 0
		return nil, nil
	}

	if err := setServingNumber(ctx, tx, counter.ID, ticket.Number, now); err != nil {
		return nil, err
	}
	counter.CurrentQueue = ticket.Number
	return &ticket, nil
}

// ResetCounter moves every in-progress ticket of one counter to reset
// and zeroes its serving number. Resolved tickets keep their history.
func (s *Store) ResetCounter(ctx context.Context, counterID int64) (store.ResetResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ResetResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	counter, err := lockCounter(ctx, tx, counterID)
	if err != nil {
		return store.ResetResult{}, err
	}
	if !counter.IsActive {
		return store.ResetResult{}, store.ErrCounterInactive
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = $1, updated_at = $2
		WHERE counter_id = $3 AND status = ANY($4)
	`, models.StatusReset, now, counterID, store.InProgressStatuses())
	if err != nil {
		return store.ResetResult{}, err
	}

	if err = setServingNumber(ctx, tx, counterID, 0, now); err != nil {
		return store.ResetResult{}, err
	}
	counter.CurrentQueue = 0

	if err = tx.Commit(ctx); err != nil {
		return store.ResetResult{}, err
	}

	return store.ResetResult{Counter: &counter, Affected: tag.RowsAffected()}, nil
}

// ResetAllCounters applies the same bulk transition to every active,
// non-deleted counter at once.
func (s *Store) ResetAllCounters(ctx context.Context) (store.ResetResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ResetResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = $1, updated_at = $2
		WHERE status = ANY($3)
			AND counter_id IN (
				SELECT id FROM counters WHERE is_active = TRUE AND deleted_at IS NULL
			)
	`, models.StatusReset, now, store.InProgressStatuses())
	if err != nil {
		return store.ResetResult{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE counters
		SET current_queue = 0, updated_at = $1
		WHERE is_active = TRUE AND deleted_at IS NULL
	`, now)
	if err != nil {
		return store.ResetResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ResetResult{}, err
	}

	return store.ResetResult{Affected: tag.RowsAffected()}, nil
}

func (s *Store) CurrentQueues(ctx context.Context, includeInactive bool) ([]store.CounterStatus, error) {
	query := `
		SELECT c.id, c.name, c.current_queue, c.max_queue, c.is_active, t.number, COALESCE(t.status, '')
		FROM counters c
		LEFT JOIN LATERAL (
			SELECT number, status
			FROM tickets
			WHERE counter_id = c.id AND status = $1
			ORDER BY id DESC
			LIMIT 1
		) t ON TRUE
		WHERE c.deleted_at IS NULL
	`
	if !includeInactive {
		query += " AND c.is_active = TRUE"
	}
	query += " ORDER BY c.name ASC"

	rows, err := s.pool.Query(ctx, query, models.StatusCalled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []store.CounterStatus
	for rows.Next() {
		var status store.CounterStatus
		if err := rows.Scan(&status.ID, &status.Name, &status.CurrentQueue, &status.MaxQueue, &status.IsActive, &status.CalledNumber, &status.CalledStatus); err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (s *Store) QueueMetrics(ctx context.Context) (store.Metrics, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM tickets
		GROUP BY status
	`)
	if err != nil {
		return store.Metrics{}, err
	}
	defer rows.Close()

	var metrics store.Metrics
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return store.Metrics{}, err
		}
		switch status {
		case models.StatusClaimed:
			metrics.Claimed = count
		case models.StatusCalled:
			metrics.Called = count
		case models.StatusServed:
			metrics.Served = count
		case models.StatusSkipped:
			metrics.Skipped = count
		case models.StatusReleased:
			metrics.Released = count
		case models.StatusReset:
			metrics.Reset = count
		}
	}
	if err := rows.Err(); err != nil {
		return store.Metrics{}, err
	}
	return metrics, nil
}

// SearchTickets finds recent tickets by number or counter-name
// substring across active, non-deleted counters. Results are capped.
func (s *Store) SearchTickets(ctx context.Context, query string, limit int) ([]store.SearchHit, error) {
	if limit <= 0 || limit > searchLimit {
		limit = searchLimit
	}

	where := "c.is_active = TRUE AND c.deleted_at IS NULL"
	args := []interface{}{limit}
	query = strings.TrimSpace(query)
	if query != "" {
		if number, convErr := strconv.Atoi(query); convErr == nil {
			where += " AND (t.number = $2 OR c.name ILIKE $3)"
			args = append(args, number, "%"+query+"%")
		} else {
			where += " AND c.name ILIKE $2"
			args = append(args, "%"+query+"%")
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.counter_id, t.number, t.status, t.created_at, t.updated_at, c.name
		FROM tickets t
		JOIN counters c ON c.id = t.counter_id
		WHERE `+where+`
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $1
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []store.SearchHit
	for rows.Next() {
		var hit store.SearchHit
		if err := rows.Scan(&hit.Ticket.ID, &hit.Ticket.CounterID, &hit.Ticket.Number, &hit.Ticket.Status, &hit.Ticket.CreatedAt, &hit.Ticket.UpdatedAt, &hit.CounterName); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

func (s *Store) ListCounters(ctx context.Context, includeInactive bool) ([]models.Counter, error) {
	query := `
		SELECT id, name, current_queue, max_queue, is_active, created_at, updated_at
		FROM counters
		WHERE deleted_at IS NULL
	`
	if !includeInactive {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		var counter models.Counter
		if err := rows.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
			return nil, err
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

func (s *Store) GetCounter(ctx context.Context, id int64) (models.Counter, error) {
	var counter models.Counter
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, current_queue, max_queue, is_active, created_at, updated_at
		FROM counters
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err := row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) CreateCounter(ctx context.Context, input store.CounterInput) (models.Counter, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureNameFree(ctx, tx, input.Name, 0); err != nil {
		return models.Counter{}, err
	}

	now := time.Now().UTC()
	var counter models.Counter
	row := tx.QueryRow(ctx, `
		INSERT INTO counters (name, current_queue, max_queue, is_active, created_at, updated_at)
		VALUES ($1, 0, $2, TRUE, $3, $3)
		RETURNING id, name, current_queue, max_queue, is_active, created_at, updated_at
	`, input.Name, input.MaxQueue, now)
	if err = row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
		return models.Counter{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) UpdateCounter(ctx context.Context, id int64, update store.CounterUpdate) (models.Counter, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = lockCounter(ctx, tx, id); err != nil {
		return models.Counter{}, err
	}
	if update.Name != nil {
		if err = ensureNameFree(ctx, tx, *update.Name, id); err != nil {
			return models.Counter{}, err
		}
	}

	setClause := "updated_at = $1"
	args := []interface{}{time.Now().UTC()}
	argPos := 2
	if update.Name != nil {
		setClause += fmt.Sprintf(", name = $%d", argPos)
		args = append(args, *update.Name)
		argPos++
	}
	if update.MaxQueue != nil {
		setClause += fmt.Sprintf(", max_queue = $%d", argPos)
		args = append(args, *update.MaxQueue)
		argPos++
	}
	if update.IsActive != nil {
		setClause += fmt.Sprintf(", is_active = $%d", argPos)
		args = append(args, *update.IsActive)
		argPos++
	}
	args = append(args, id)

	var counter models.Counter
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE counters
		SET %s
		WHERE id = $%d
		RETURNING id, name, current_queue, max_queue, is_active, created_at, updated_at
	`, setClause, argPos), args...)
	if err = row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
		return models.Counter{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Counter{}, err
	}
	return counter, nil
}

// DeleteCounter soft-deletes a counter. Refused while any of its
// tickets is still in progress, so the called/claimed history can never
// point at a deleted counter.
func (s *Store) DeleteCounter(ctx context.Context, id int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = lockCounter(ctx, tx, id); err != nil {
		return err
	}

	var busy int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE counter_id = $1 AND status = ANY($2)
	`, id, store.InProgressStatuses())
	if err = row.Scan(&busy); err != nil {
		return err
	}
	if busy > 0 {
		err = store.ErrCounterBusy
		return err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE counters
		SET deleted_at = $1, is_active = FALSE, updated_at = $1
		WHERE id = $2
	`, now, id)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) ToggleCounter(ctx context.Context, id int64) (models.Counter, error) {
	var counter models.Counter
	row := s.pool.QueryRow(ctx, `
		UPDATE counters
		SET is_active = NOT is_active, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
		RETURNING id, name, current_queue, max_queue, is_active, created_at, updated_at
	`, time.Now().UTC(), id)
	if err := row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) Login(ctx context.Context, username, password string, ttl time.Duration) (models.Session, models.Admin, error) {
	var admin models.Admin
	var passwordHash string
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM admins
		WHERE lower(username) = lower($1)
	`, username)
	if err := row.Scan(&admin.ID, &admin.Username, &passwordHash, &admin.CreatedAt, &admin.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, models.Admin{}, store.ErrInvalidCredentials
		}
		return models.Session{}, models.Admin{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return models.Session{}, models.Admin{}, store.ErrInvalidCredentials
	}

	session := models.Session{
		SessionID: uuid.NewString(),
		AdminID:   admin.ID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, admin_id, expires_at)
		VALUES ($1, $2, $3)
	`, session.SessionID, session.AdminID, session.ExpiresAt)
	if err != nil {
		return models.Session{}, models.Admin{}, err
	}

	return session, admin, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, admin_id, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.AdminID, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) CreateAdmin(ctx context.Context, username, password string) (models.Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Admin{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Admin{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM admins WHERE lower(username) = lower($1))
	`, username)
	if err = row.Scan(&exists); err != nil {
		return models.Admin{}, err
	}
	if exists {
		err = store.ErrDuplicateUsername
		return models.Admin{}, err
	}

	now := time.Now().UTC()
	var admin models.Admin
	row = tx.QueryRow(ctx, `
		INSERT INTO admins (username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id, username, created_at, updated_at
	`, username, string(hash), now)
	if err = row.Scan(&admin.ID, &admin.Username, &admin.CreatedAt, &admin.UpdatedAt); err != nil {
		return models.Admin{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Admin{}, err
	}
	return admin, nil
}

func (s *Store) UpdateAdmin(ctx context.Context, id int64, username, password string) (models.Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Admin{}, err
	}

	var admin models.Admin
	row := s.pool.QueryRow(ctx, `
		UPDATE admins
		SET username = $1, password_hash = $2, updated_at = $3
		WHERE id = $4
		RETURNING id, username, created_at, updated_at
	`, username, string(hash), time.Now().UTC(), id)
	if err := row.Scan(&admin.ID, &admin.Username, &admin.CreatedAt, &admin.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Admin{}, store.ErrAdminNotFound
		}
		return models.Admin{}, err
	}
	return admin, nil
}

func (s *Store) DeleteAdmin(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admins WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAdminNotFound
	}
	return nil
}

// nextTicketNumber derives the next number from the most recently
// issued in-progress ticket, falling back to the serving number for an
// idle counter. Numbers wrap to 1 past maxQueue; resolved prior-cycle
// tickets may share a number with the new cycle.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, counter models.Counter) (int, error) {
	last := counter.CurrentQueue
	var issued int
	row := tx.QueryRow(ctx, `
		SELECT number
		FROM tickets
		WHERE counter_id = $1 AND status = ANY($2)
		ORDER BY id DESC
		LIMIT 1
	`, counter.ID, store.InProgressStatuses())
	if err := row.Scan(&issued); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
	} else {
		last = issued
	}

	next := last + 1
	if next > counter.MaxQueue {
		next = 1
	}
	return next, nil
}

func lockCounter(ctx context.Context, tx pgx.Tx, id int64) (models.Counter, error) {
	var counter models.Counter
	row := tx.QueryRow(ctx, `
		SELECT id, name, current_queue, max_queue, is_active, created_at, updated_at
		FROM counters
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	if err := row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	return counter, nil
}

func setServingNumber(ctx context.Context, tx pgx.Tx, counterID int64, number int, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE counters
		SET current_queue = $1, updated_at = $2
		WHERE id = $3
	`, number, now, counterID)
	return err
}

func ensureNameFree(ctx context.Context, tx pgx.Tx, name string, excludeID int64) error {
	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM counters
			WHERE name = $1 AND deleted_at IS NULL AND id <> $2
		)
	`, name, excludeID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrDuplicateName
	}
	return nil
}
