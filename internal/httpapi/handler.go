// Package httpapi exposes the queue over REST plus SSE and SockJS
// streams.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"antrid/internal/hub"
	"antrid/internal/models"
	"antrid/internal/queue"
	"antrid/internal/store"
)

const maxQueueLimit = 999

// QueueService is the slice of the queue engine the handlers use.
type QueueService interface {
	Claim(ctx context.Context) (store.ClaimResult, time.Duration, error)
	Release(ctx context.Context, counterID int64, number int) (store.ReleaseResult, error)
	Next(ctx context.Context, counterID int64) (store.AdvanceResult, error)
	Skip(ctx context.Context, counterID int64) (store.AdvanceResult, error)
	Reset(ctx context.Context, counterID int64) (store.ResetResult, error)
	ResetAll(ctx context.Context) (store.ResetResult, error)
	Current(ctx context.Context, includeInactive bool) ([]store.CounterStatus, error)
	Metrics(ctx context.Context) (store.Metrics, error)
	Search(ctx context.Context, query string, limit int) ([]store.SearchHit, error)
}

type Handler struct {
	queue      QueueService
	store      store.Store
	hub        *hub.Hub
	sessionTTL time.Duration
}

type releaseRequest struct {
	CounterID   int64 `json:"counter_id"`
	QueueNumber int   `json:"queue_number"`
}

type counterActionRequest struct {
	CounterID int64 `json:"counter_id"`
}

type counterCreateRequest struct {
	Name     string `json:"name"`
	MaxQueue int    `json:"max_queue"`
}

type counterUpdateRequest struct {
	Name     *string `json:"name"`
	MaxQueue *int    `json:"max_queue"`
	IsActive *bool   `json:"is_active"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func NewHandler(q QueueService, st store.Store, h *hub.Hub, sessionTTL time.Duration) *Handler {
	return &Handler{queue: q, store: st, hub: h, sessionTTL: sessionTTL}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/queues/claim", h.handleClaim)
	mux.HandleFunc("/api/v1/queues/release", h.handleRelease)
	mux.HandleFunc("/api/v1/queues/current", h.handleCurrent)
	mux.HandleFunc("/api/v1/queues/metrics", h.handleMetrics)
	mux.HandleFunc("/api/v1/queues/search", h.handleSearch)
	mux.HandleFunc("/api/v1/queues/next", h.handleNext)
	mux.HandleFunc("/api/v1/queues/skip", h.handleSkip)
	mux.HandleFunc("/api/v1/queues/reset", h.handleReset)
	mux.HandleFunc("/api/v1/counters", h.handleCounters)
	mux.HandleFunc("/api/v1/counters/", h.handleCounterByID)
	mux.HandleFunc("/api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("/api/v1/auth/create", h.handleCreateAdmin)
	mux.HandleFunc("/api/v1/auth/", h.handleAdminByID)
	mux.HandleFunc("/api/v1/sse", h.handleEvents)
	mux.Handle("/realtime/", h.sockJSHandler())
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", expvar.Handler())
	return h.requireSession(mux)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	result, wait, err := h.queue.Claim(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	reqCounter.Add("claim", 1)
	writeSuccess(w, http.StatusCreated, "queue claimed", map[string]interface{}{
		"queue_number":           result.Ticket.Number,
		"status":                 result.Ticket.Status,
		"counter_id":             result.Counter.ID,
		"counter_name":           result.Counter.Name,
		"position":               result.Position,
		"estimated_wait_minutes": int(wait / time.Minute),
	})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req releaseRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.queue.Release(r.Context(), req.CounterID, req.QueueNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	reqCounter.Add("release", 1)
	writeSuccess(w, http.StatusOK, "queue released", map[string]interface{}{
		"queue_number": result.Ticket.Number,
		"counter_id":   result.Counter.ID,
		"counter_name": result.Counter.Name,
	})
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.handleAdvance(w, r, h.queue.Next, "next")
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	h.handleAdvance(w, r, h.queue.Skip, "skip")
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request, advance func(context.Context, int64) (store.AdvanceResult, error), name string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req counterActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := advance(r.Context(), req.CounterID)
	if err != nil {
		writeError(w, err)
		return
	}

	reqCounter.Add(name, 1)
	data := map[string]interface{}{
		"counter_id":    result.Counter.ID,
		"counter_name":  result.Counter.Name,
		"current_queue": result.Counter.CurrentQueue,
	}
	if result.Finished != nil {
		data["finished_number"] = result.Finished.Number
		data["finished_status"] = result.Finished.Status
	}
	if result.Called != nil {
		data["called_number"] = result.Called.Number
	}
	writeSuccess(w, http.StatusOK, queue.CallMessage(result), data)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req counterActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	var result store.ResetResult
	var err error
	if req.CounterID == 0 {
		result, err = h.queue.ResetAll(r.Context())
	} else {
		result, err = h.queue.Reset(r.Context(), req.CounterID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	reqCounter.Add("reset", 1)
	data := map[string]interface{}{"affected": result.Affected}
	if result.Counter != nil {
		data["counter_id"] = result.Counter.ID
		data["counter_name"] = result.Counter.Name
	}
	writeSuccess(w, http.StatusOK, "queues reset", data)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	statuses, err := h.queue.Current(r.Context(), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}
	if statuses == nil {
		statuses = []store.CounterStatus{}
	}
	writeSuccess(w, http.StatusOK, "current queues", statuses)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	metrics, err := h.queue.Metrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "queue metrics", metrics)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	hits, err := h.queue.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if hits == nil {
		hits = []store.SearchHit{}
	}
	writeSuccess(w, http.StatusOK, "search results", hits)
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeInactive := r.URL.Query().Get("include_inactive") == "true"
		counters, err := h.store.ListCounters(r.Context(), includeInactive)
		if err != nil {
			writeError(w, err)
			return
		}
		if counters == nil {
			counters = []models.Counter{}
		}
		writeSuccess(w, http.StatusOK, "counters", counters)
	case http.MethodPost:
		var req counterCreateRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if err := validateCounterInput(req.Name, req.MaxQueue); err != nil {
			writeError(w, err)
			return
		}
		counter, err := h.store.CreateCounter(r.Context(), store.CounterInput{Name: req.Name, MaxQueue: req.MaxQueue})
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, "counter created", counter)
	default:
		writeMethodNotAllowed(w)
	}
}

func (h *Handler) handleCounterByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/counters/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeFieldError(w, "counterId", "counterId must be a positive integer")
		return
	}

	if action == "toggle" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		counter, err := h.store.ToggleCounter(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, "counter toggled", counter)
		return
	}
	if action != "" {
		writeNotFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		counter, err := h.store.GetCounter(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, "counter", counter)
	case http.MethodPut:
		var req counterUpdateRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if req.Name == nil && req.MaxQueue == nil && req.IsActive == nil {
			writeFieldError(w, "", "nothing to update")
			return
		}
		if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
			writeFieldError(w, "name", "name must not be empty")
			return
		}
		if req.MaxQueue != nil && (*req.MaxQueue < 1 || *req.MaxQueue > maxQueueLimit) {
			writeFieldError(w, "maxQueue", "maxQueue must be between 1 and 999")
			return
		}
		counter, err := h.store.UpdateCounter(r.Context(), id, store.CounterUpdate{
			Name:     req.Name,
			MaxQueue: req.MaxQueue,
			IsActive: req.IsActive,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, "counter updated", counter)
	case http.MethodDelete:
		if err := h.store.DeleteCounter(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, "counter deleted", nil)
	default:
		writeMethodNotAllowed(w)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req credentialsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeFieldError(w, "username", "username and password are required")
		return
	}

	session, admin, err := h.store.Login(r.Context(), req.Username, req.Password, h.sessionTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "login successful", map[string]interface{}{
		"session_id": session.SessionID,
		"expires_at": session.ExpiresAt,
		"admin":      admin,
	})
}

func (h *Handler) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req credentialsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := validateCredentials(req.Username, req.Password); err != nil {
		writeError(w, err)
		return
	}

	admin, err := h.store.CreateAdmin(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "admin created", admin)
}

func (h *Handler) handleAdminByID(w http.ResponseWriter, r *http.Request) {
	idPart := strings.TrimPrefix(r.URL.Path, "/api/v1/auth/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeNotFound(w)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req credentialsRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if err := validateCredentials(req.Username, req.Password); err != nil {
			writeError(w, err)
			return
		}
		admin, err := h.store.UpdateAdmin(r.Context(), id, req.Username, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, "admin updated", admin)
	case http.MethodDelete:
		if err := h.store.DeleteAdmin(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, "admin deleted", nil)
	default:
		writeMethodNotAllowed(w)
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func validateCounterInput(name string, maxQueue int) error {
	if strings.TrimSpace(name) == "" {
		return &queue.FieldError{Field: "name", Message: "name must not be empty"}
	}
	if maxQueue < 1 || maxQueue > maxQueueLimit {
		return &queue.FieldError{Field: "maxQueue", Message: "maxQueue must be between 1 and 999"}
	}
	return nil
}

func validateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &queue.FieldError{Field: "username", Message: "username must not be empty"}
	}
	if len(password) < 8 {
		return &queue.FieldError{Field: "password", Message: "password must be at least 8 characters"}
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type envelope struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Status: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status, field := mapError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("httpapi: internal error: %v", err)
		message = "internal server error"
	}
	writeJSON(w, status, envelope{
		Status:  false,
		Message: message,
		Error:   &errorBody{Message: message, Field: field},
	})
}

func writeFieldError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, envelope{
		Status:  false,
		Message: message,
		Error:   &errorBody{Message: message, Field: field},
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	message := "method not allowed"
	writeJSON(w, http.StatusMethodNotAllowed, envelope{
		Status:  false,
		Message: message,
		Error:   &errorBody{Message: message},
	})
}

func writeNotFound(w http.ResponseWriter) {
	message := "not found"
	writeJSON(w, http.StatusNotFound, envelope{
		Status:  false,
		Message: message,
		Error:   &errorBody{Message: message},
	})
}

func mapError(err error) (int, string) {
	var fieldErr *queue.FieldError
	if errors.As(err, &fieldErr) {
		return http.StatusBadRequest, fieldErr.Field
	}

	switch {
	case errors.Is(err, store.ErrCounterInactive):
		return http.StatusBadRequest, "counterId"
	case errors.Is(err, store.ErrNoActiveCounter),
		errors.Is(err, store.ErrCounterNotFound),
		errors.Is(err, store.ErrTicketNotFound),
		errors.Is(err, store.ErrAdminNotFound):
		return http.StatusNotFound, ""
	case errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrCounterBusy),
		errors.Is(err, store.ErrDuplicateUsername):
		return http.StatusConflict, ""
	case errors.Is(err, store.ErrInvalidCredentials),
		errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, ""
	}
	return http.StatusInternalServerError, ""
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		// An empty body is equivalent to an empty object.
		if errors.Is(err, io.EOF) {
			return true
		}
		writeFieldError(w, "", "invalid request body")
		return false
	}
	return true
}
