package store

import (
	"context"
	"time"

	"antrid/internal/models"
)

type CounterInput struct {
	Name     string
	MaxQueue int
}

type CounterUpdate struct {
	Name     *string
	MaxQueue *int
	IsActive *bool
}

type ClaimResult struct {
	Ticket   models.Ticket
	Counter  models.Counter
	Position int
}

type ReleaseResult struct {
	Ticket  models.Ticket
	Counter models.Counter
}

// AdvanceResult describes the outcome of Next and Skip. Finished is the
// ticket moved out of the called slot (served or skipped), nil when the
// counter had none. Called is the promoted ticket, nil when no claimed
// ticket remained and the serving number was reset to 0.
type AdvanceResult struct {
	Counter  models.Counter
	Finished *models.Ticket
	Called   *models.Ticket
}

type ResetResult struct {
	Counter  *models.Counter
	Affected int64
}

// CounterStatus is the per-counter snapshot served by the current-state
// query: the serving number plus the called ticket, if any.
type CounterStatus struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CurrentQueue int    `json:"current_queue"`
	MaxQueue     int    `json:"max_queue"`
	IsActive     bool   `json:"is_active"`
	CalledNumber *int   `json:"called_number,omitempty"`
	CalledStatus string `json:"called_status,omitempty"`
}

type Metrics struct {
	Claimed  int64 `json:"claimed"`
	Called   int64 `json:"called"`
	Served   int64 `json:"served"`
	Skipped  int64 `json:"skipped"`
	Released int64 `json:"released"`
	Reset    int64 `json:"reset"`
}

type SearchHit struct {
	Ticket      models.Ticket `json:"ticket"`
	CounterName string        `json:"counter_name"`
}

type Store interface {
	ClaimTicket(ctx context.Context) (ClaimResult, error)
	ReleaseTicket(ctx context.Context, counterID int64, number int) (ReleaseResult, error)
	NextTicket(ctx context.Context, counterID int64) (AdvanceResult, error)
	SkipTicket(ctx context.Context, counterID int64) (AdvanceResult, error)
	ResetCounter(ctx context.Context, counterID int64) (ResetResult, error)
	ResetAllCounters(ctx context.Context) (ResetResult, error)

	CurrentQueues(ctx context.Context, includeInactive bool) ([]CounterStatus, error)
	QueueMetrics(ctx context.Context) (Metrics, error)
	SearchTickets(ctx context.Context, query string, limit int) ([]SearchHit, error)

	ListCounters(ctx context.Context, includeInactive bool) ([]models.Counter, error)
	GetCounter(ctx context.Context, id int64) (models.Counter, error)
	CreateCounter(ctx context.Context, input CounterInput) (models.Counter, error)
	UpdateCounter(ctx context.Context, id int64, update CounterUpdate) (models.Counter, error)
	DeleteCounter(ctx context.Context, id int64) error
	ToggleCounter(ctx context.Context, id int64) (models.Counter, error)

	Login(ctx context.Context, username, password string, ttl time.Duration) (models.Session, models.Admin, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	CreateAdmin(ctx context.Context, username, password string) (models.Admin, error)
	UpdateAdmin(ctx context.Context, id int64, username, password string) (models.Admin, error)
	DeleteAdmin(ctx context.Context, id int64) error
}
