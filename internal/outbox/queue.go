// Package outbox is a durable at-least-once delivery queue for binding
// change events. Entries are persisted before dispatch so a crash between
// producing an event and delivering it cannot lose it.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/storage"
)

// QueuePath is the workspace-relative location of the durable queue blob.
const QueuePath = ".weft/outbox.json"

const (
	maxAttempts = 3
	backoffBase = 500 * time.Millisecond
	retention   = time.Hour
)

// Event is one pending delivery.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Detail      json.RawMessage `json:"detail"`
	Attempts    int             `json:"attempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastAttempt time.Time       `json:"lastAttempt,omitempty"`
}

// Subscriber receives events. A nil return acknowledges the event; an error
// leaves it queued for retry.
type Subscriber func(ctx context.Context, ev Event) error

// Queue is a persist-then-dispatch event queue. Publish appends the event to
// the durable blob before any delivery is attempted; Run drains the queue with
// exponential backoff and drops events that exhaust their attempts.
type Queue struct {
	store  storage.Provider
	sub    Subscriber
	logger *slog.Logger

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
}

// New creates a queue, restoring any persisted events. Restored events older
// than the retention window are discarded.
func New(store storage.Provider, sub Subscriber, logger *slog.Logger) (*Queue, error) {
	q := &Queue{
		store:  store,
		sub:    sub,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}

	data, err := store.Read(QueuePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// nothing persisted yet
	case err != nil:
		return nil, fmt.Errorf("outbox: restore: %w", err)
	default:
		var restored []Event
		if uErr := json.Unmarshal(data, &restored); uErr != nil {
			return nil, fmt.Errorf("outbox: restore decode: %w", uErr)
		}
		cutoff := time.Now().Add(-retention)
		for _, ev := range restored {
			if ev.EnqueuedAt.Before(cutoff) {
				logger.Warn("outbox: discarding stale event",
					slog.String("id", ev.ID),
					slog.String("type", ev.Type))
				continue
			}
			q.pending = append(q.pending, ev)
		}
		if len(q.pending) != len(restored) {
			if pErr := q.persistLocked(); pErr != nil {
				return nil, pErr
			}
		}
		if len(q.pending) > 0 {
			logger.Info("outbox: restored", slog.Int("events", len(q.pending)))
		}
	}
	return q, nil
}

// Publish enqueues an event. The event is persisted before Publish returns;
// delivery happens asynchronously from Run.
func (q *Queue) Publish(eventType string, detail any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("outbox: encode detail: %w", err)
	}
	ev := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Detail:     raw,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, ev)
	err = q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run drains the queue until ctx is cancelled. Each event is retried with
// exponential backoff (500ms, 1s, 2s); after maxAttempts failures the event
// is dropped and logged.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(backoffBase)
	defer ticker.Stop()

	for {
		q.drain(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// drain attempts delivery of every due event once.
func (q *Queue) drain(ctx context.Context) {
	now := time.Now()

	q.mu.Lock()
	due := make([]Event, 0, len(q.pending))
	for _, ev := range q.pending {
		if ev.Attempts == 0 || now.Sub(ev.LastAttempt) >= backoff(ev.Attempts) {
			due = append(due, ev)
		}
	}
	q.mu.Unlock()

	for _, ev := range due {
		if ctx.Err() != nil {
			return
		}
		err := q.sub(ctx, ev)
		if err == nil {
			q.ack(ev.ID)
			continue
		}
		q.failed(ev.ID, err)
	}
}

// ack removes a delivered event.
func (q *Queue) ack(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(id)
	if err := q.persistLocked(); err != nil {
		q.logger.Error("outbox: persist after ack", slog.String("error", err.Error()))
	}
}

// failed records a delivery failure, dropping the event once its attempts
// are exhausted.
func (q *Queue) failed(id string, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		if q.pending[i].ID != id {
			continue
		}
		q.pending[i].Attempts++
		q.pending[i].LastAttempt = time.Now()
		if q.pending[i].Attempts >= maxAttempts {
			q.logger.Warn("outbox: dropping event after max attempts",
				slog.String("id", id),
				slog.String("type", q.pending[i].Type),
				slog.String("error", cause.Error()))
			q.remove(id)
		} else {
			q.logger.Debug("outbox: delivery failed, will retry",
				slog.String("id", id),
				slog.Int("attempts", q.pending[i].Attempts),
				slog.String("error", cause.Error()))
		}
		break
	}
	if err := q.persistLocked(); err != nil {
		q.logger.Error("outbox: persist after failure", slog.String("error", err.Error()))
	}
}

// remove deletes the event with the given id. Caller holds q.mu.
func (q *Queue) remove(id string) {
	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// persistLocked writes the whole queue to the durable blob. Caller holds q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.MarshalIndent(q.pending, "", "  ")
	if err != nil {
		return fmt.Errorf("outbox: encode queue: %w", err)
	}
	if err := q.store.Write(QueuePath, data); err != nil {
		return fmt.Errorf("outbox: persist queue: %w", err)
	}
	return nil
}

// backoff returns the wait before retry number attempts+1.
func backoff(attempts int) time.Duration {
	return backoffBase << (attempts - 1)
}
