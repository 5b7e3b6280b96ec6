package store

import "errors"

var (
	ErrNoActiveCounter    = errors.New("no active counters found")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrCounterInactive    = errors.New("counter is not active")
	ErrTicketNotFound     = errors.New("ticket not found or already processed")
	ErrDuplicateName      = errors.New("counter with this name already exists")
	ErrCounterBusy        = errors.New("counter has tickets in progress")
	ErrAdminNotFound      = errors.New("admin not found")
	ErrDuplicateUsername  = errors.New("admin with this username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found or expired")
)
