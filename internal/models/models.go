package models

import "time"

type Counter struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	CurrentQueue int        `json:"current_queue"`
	MaxQueue     int        `json:"max_queue"`
	IsActive     bool       `json:"is_active"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Ticket struct {
	ID        int64     `json:"id"`
	CounterID int64     `json:"counter_id"`
	Number    int       `json:"number"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	StatusClaimed  = "claimed"
	StatusCalled   = "called"
	StatusServed   = "served"
	StatusSkipped  = "skipped"
	StatusReleased = "released"
	StatusReset    = "reset"
)

// InProgress reports whether a ticket status still occupies the queue.
// Claimed tickets wait in line, called tickets are at the counter;
// everything else is a terminal resolution.
func InProgress(status string) bool {
	return status == StatusClaimed || status == StatusCalled
}

type Admin struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Session struct {
	SessionID string    `json:"session_id"`
	AdminID   int64     `json:"admin_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
