// Package queue implements the ticket state machine on top of the
// store and fans out a notification per transition.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"antrid/internal/models"
	"antrid/internal/pubsub"
	"antrid/internal/store"
)

// FieldError reports a rejected input along with the field it came from.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

type Service struct {
	store         store.Store
	pub           pubsub.Publisher
	waitPerTicket time.Duration
}

func NewService(st store.Store, pub pubsub.Publisher, waitPerTicket time.Duration) *Service {
	if waitPerTicket <= 0 {
		waitPerTicket = 5 * time.Minute
	}
	return &Service{store: st, pub: pub, waitPerTicket: waitPerTicket}
}

// Claim issues the next ticket on the least-loaded active counter. An
// idle counter calls the ticket immediately; otherwise the ticket
// waits in line and the estimated wait grows with its position.
func (s *Service) Claim(ctx context.Context) (store.ClaimResult, time.Duration, error) {
	result, err := s.store.ClaimTicket(ctx)
	if err != nil {
		return store.ClaimResult{}, 0, err
	}

	// The claim is a single transition, so exactly one event goes
	// out: called when the counter picked the ticket up right away,
	// claimed when it went into the line.
	event := pubsub.EventClaimed
	if result.Ticket.Status == models.StatusCalled {
		event = pubsub.EventCalled
	}
	s.publish(ctx, pubsub.Event{
		Event:       event,
		CounterID:   result.Counter.ID,
		CounterName: result.Counter.Name,
		QueueNumber: result.Ticket.Number,
	})

	return result, s.WaitEstimate(result.Position), nil
}

// Release withdraws a waiting ticket before it is called.
func (s *Service) Release(ctx context.Context, counterID int64, number int) (store.ReleaseResult, error) {
	if counterID <= 0 {
		return store.ReleaseResult{}, &FieldError{Field: "counterId", Message: "counterId must be a positive integer"}
	}
	if number <= 0 {
		return store.ReleaseResult{}, &FieldError{Field: "queueNumber", Message: "queueNumber must be a positive integer"}
	}

	result, err := s.store.ReleaseTicket(ctx, counterID, number)
	if err != nil {
		return store.ReleaseResult{}, err
	}

	s.publish(ctx, pubsub.Event{
		Event:       pubsub.EventReleased,
		CounterID:   result.Counter.ID,
		CounterName: result.Counter.Name,
		QueueNumber: result.Ticket.Number,
	})
	return result, nil
}

// Next serves the currently called ticket and promotes the next one in
// line. Succeeds on an empty counter: serving drops to zero and no
// notification fires for the missing call.
func (s *Service) Next(ctx context.Context, counterID int64) (store.AdvanceResult, error) {
	if counterID <= 0 {
		return store.AdvanceResult{}, &FieldError{Field: "counterId", Message: "counterId must be a positive integer"}
	}

	result, err := s.store.NextTicket(ctx, counterID)
	if err != nil {
		return store.AdvanceResult{}, err
	}

	if result.Finished != nil {
		s.publish(ctx, pubsub.Event{
			Event:       pubsub.EventServed,
			CounterID:   result.Counter.ID,
			CounterName: result.Counter.Name,
			QueueNumber: result.Finished.Number,
		})
	}
	s.publishCalled(ctx, result)
	return result, nil
}

// Skip marks the called ticket skipped instead of served, then
// promotes the next one. Unlike Next, skip demands a called ticket.
func (s *Service) Skip(ctx context.Context, counterID int64) (store.AdvanceResult, error) {
	if counterID <= 0 {
		return store.AdvanceResult{}, &FieldError{Field: "counterId", Message: "counterId must be a positive integer"}
	}

	result, err := s.store.SkipTicket(ctx, counterID)
	if err != nil {
		return store.AdvanceResult{}, err
	}

	s.publish(ctx, pubsub.Event{
		Event:       pubsub.EventSkipped,
		CounterID:   result.Counter.ID,
		CounterName: result.Counter.Name,
		QueueNumber: result.Finished.Number,
	})
	s.publishCalled(ctx, result)
	return result, nil
}

// Reset abandons every in-progress ticket on one counter.
func (s *Service) Reset(ctx context.Context, counterID int64) (store.ResetResult, error) {
	if counterID <= 0 {
		return store.ResetResult{}, &FieldError{Field: "counterId", Message: "counterId must be a positive integer"}
	}

	result, err := s.store.ResetCounter(ctx, counterID)
	if err != nil {
		return store.ResetResult{}, err
	}

	s.publish(ctx, pubsub.Event{
		Event:       pubsub.EventReset,
		CounterID:   result.Counter.ID,
		CounterName: result.Counter.Name,
	})
	return result, nil
}

// ResetAll abandons in-progress tickets on every active counter.
func (s *Service) ResetAll(ctx context.Context) (store.ResetResult, error) {
	result, err := s.store.ResetAllCounters(ctx)
	if err != nil {
		return store.ResetResult{}, err
	}

	s.publish(ctx, pubsub.Event{Event: pubsub.EventResetAll})
	return result, nil
}

func (s *Service) Current(ctx context.Context, includeInactive bool) ([]store.CounterStatus, error) {
	return s.store.CurrentQueues(ctx, includeInactive)
}

func (s *Service) Metrics(ctx context.Context) (store.Metrics, error) {
	return s.store.QueueMetrics(ctx)
}

func (s *Service) Search(ctx context.Context, query string, limit int) ([]store.SearchHit, error) {
	return s.store.SearchTickets(ctx, query, limit)
}

// WaitEstimate converts a line position into a wait duration.
func (s *Service) WaitEstimate(position int) time.Duration {
	if position <= 0 {
		return 0
	}
	return time.Duration(position) * s.waitPerTicket
}

func (s *Service) publishCalled(ctx context.Context, result store.AdvanceResult) {
	if result.Called == nil {
		return
	}
	s.publish(ctx, pubsub.Event{
		Event:       pubsub.EventCalled,
		CounterID:   result.Counter.ID,
		CounterName: result.Counter.Name,
		QueueNumber: result.Called.Number,
	})
}

// publish runs after the state change committed; a failed notification
// must not fail the request, so errors are logged and dropped.
func (s *Service) publish(ctx context.Context, event pubsub.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, event); err != nil {
		log.Printf("pubsub: publish %s failed: %v", event.Event, err)
	}
}

// CallMessage is the operator-facing outcome of a next/skip call.
func CallMessage(result store.AdvanceResult) string {
	if result.Called == nil {
		return "no more queues to call"
	}
	return fmt.Sprintf("queue %d called to %s", result.Called.Number, result.Counter.Name)
}
