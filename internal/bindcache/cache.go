// Package bindcache is an optimistic client-side cache of a document's
// bindings. Status mutations apply locally first and are flushed to the
// authoritative store in batches; a failed flush keeps the entries dirty so
// the next flush retries them.
package bindcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/arbiter"
	"github.com/weftlabs/weft/internal/models"
)

// Remote is the authoritative binding store the cache synchronizes with.
type Remote interface {
	DocumentBindings(ctx context.Context, documentID string) ([]models.Binding, error)
	BatchUpdateStatus(ctx context.Context, updates []arbiter.StatusUpdate, actor arbiter.Actor) error
}

// Publisher receives change events as mutations happen, before any flush.
type Publisher interface {
	Publish(eventType string, detail any) error
}

// Cache holds one document's bindings with secondary indexes by canvas
// element and by block. All state changes funnel through apply, so the
// indexes can never drift from the primary map.
type Cache struct {
	remote   Remote
	events   Publisher
	actor    arbiter.Actor
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	documentID string
	byID       map[string]*models.Binding
	byElement  map[string][]string
	byBlock    map[string][]string
	dirty      map[string]models.BindingStatus
	closed     bool
}

// New creates an empty cache. Call Load before using lookups or mutations.
func New(remote Remote, events Publisher, actor arbiter.Actor, flushInterval time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		remote:   remote,
		events:   events,
		actor:    actor,
		interval: flushInterval,
		logger:   logger,
		byID:     make(map[string]*models.Binding),
		byElement: make(map[string][]string),
		byBlock:  make(map[string][]string),
		dirty:    make(map[string]models.BindingStatus),
	}
}

// Load replaces the cache contents with the document's current bindings.
// Pending local changes are discarded.
func (c *Cache) Load(ctx context.Context, documentID string) error {
	bindings, err := c.remote.DocumentBindings(ctx, documentID)
	if err != nil {
		return fmt.Errorf("bindcache: load %s: %w", documentID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("bindcache: cache closed: %w", apperr.ErrConflict)
	}

	c.documentID = documentID
	c.byID = make(map[string]*models.Binding, len(bindings))
	c.byElement = make(map[string][]string)
	c.byBlock = make(map[string][]string)
	c.dirty = make(map[string]models.BindingStatus)
	for i := range bindings {
		b := bindings[i]
		c.byID[b.ID] = &b
		if b.ElementID != "" {
			c.byElement[b.ElementID] = append(c.byElement[b.ElementID], b.ID)
		}
		if b.BlockID != "" {
			c.byBlock[b.BlockID] = append(c.byBlock[b.BlockID], b.ID)
		}
	}
	return nil
}

// Get returns a copy of the binding, or nil if unknown.
func (c *Cache) Get(id string) *models.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byID[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// ByElement returns copies of all bindings attached to a canvas element.
func (c *Cache) ByElement(elementID string) []models.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byElement[elementID])
}

// ByBlock returns copies of all bindings attached to a block.
func (c *Cache) ByBlock(blockID string) []models.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byBlock[blockID])
}

// collect resolves ids to binding copies. Caller holds c.mu.
func (c *Cache) collect(ids []string) []models.Binding {
	var out []models.Binding
	for _, id := range ids {
		if b, ok := c.byID[id]; ok {
			out = append(out, *b)
		}
	}
	return out
}

// Hide marks a binding hidden.
func (c *Cache) Hide(id string) error { return c.apply(id, models.StatusHidden) }

// Show restores a hidden binding to visible.
func (c *Cache) Show(id string) error { return c.apply(id, models.StatusVisible) }

// Delete soft-deletes a binding. The entry stays in the cache so repeated
// deletes stay idempotent, but lookups callers filter on status.
func (c *Cache) Delete(id string) error { return c.apply(id, models.StatusDeleted) }

// apply is the single mutation entry point: flips the local status, marks the
// binding dirty, and publishes the action's change event immediately.
func (c *Cache) apply(id string, status models.BindingStatus) error {
	c.mu.Lock()
	b, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("bindcache: unknown binding %s: %w", id, apperr.ErrNotFound)
	}
	if b.CurrentStatus == status {
		c.mu.Unlock()
		return nil
	}
	if b.CurrentStatus.Terminal() {
		c.mu.Unlock()
		return fmt.Errorf("bindcache: binding %s is %s: %w", id, b.CurrentStatus, apperr.ErrTerminalStatus)
	}
	change := models.BindingChange{
		BindingID:      id,
		ElementID:      b.ElementID,
		BlockID:        b.BlockID,
		Status:         status,
		PreviousStatus: b.CurrentStatus,
	}
	b.CurrentStatus = status
	b.UpdatedAt = time.Now().UTC()
	c.dirty[id] = status
	c.mu.Unlock()

	if c.events != nil {
		if err := c.events.Publish(models.StatusEventType(status), change); err != nil {
			c.logger.Warn("bindcache: publish failed", slog.String("binding", id), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Flush pushes all dirty statuses to the remote in one batch. On failure the
// entries remain dirty and the next flush retries them.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return nil
	}
	updates := make([]arbiter.StatusUpdate, 0, len(c.dirty))
	for id, status := range c.dirty {
		updates = append(updates, arbiter.StatusUpdate{BindingID: id, Status: status})
	}
	c.mu.Unlock()

	if err := c.remote.BatchUpdateStatus(ctx, updates, c.actor); err != nil {
		return fmt.Errorf("bindcache: flush %d updates: %w", len(updates), err)
	}

	c.mu.Lock()
	// Clear only entries that were not re-dirtied mid-flight.
	for _, u := range updates {
		if c.dirty[u.BindingID] == u.Status {
			delete(c.dirty, u.BindingID)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("bindcache: flushed", slog.Int("updates", len(updates)))
	return nil
}

// Run flushes on the configured interval until ctx is cancelled, then does a
// final flush.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.Close()
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("bindcache: flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close flushes remaining dirty entries and rejects further loads.
func (c *Cache) Close() error {
	// Detached context: Close runs during shutdown when the run context is
	// already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Flush(ctx)

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}
