// Package events is the in-process fan-out between slices and the
// coordinator. Slices publish; persistence, observers, refreshes and the
// optional broker sink subscribe.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/logging"
)

// Kind identifies what happened.
type Kind string

const (
	// Changed fires after any slice state transition.
	Changed Kind = "changed"
	// MutationCompleted fires after a successful mutation whose response
	// did not carry the authoritative resource. Subscribers re-read it.
	MutationCompleted Kind = "mutation_completed"
	// LoggedOut fires after a voluntary or forced logout.
	LoggedOut Kind = "logged_out"
	// OrderPlaced fires after a successful checkout.
	OrderPlaced Kind = "order_placed"
)

// Event carries the slice or resource it concerns.
type Event struct {
	Kind      Kind          `json:"kind"`
	Slice     string        `json:"slice,omitempty"`
	Resource  string        `json:"resource,omitempty"`
	ProductID int64         `json:"product_id,omitempty"`
	Forced    bool          `json:"forced,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Order     *domain.Order `json:"order,omitempty"`
	At        time.Time     `json:"at"`
}

// Handler reacts to one event. Handlers run synchronously on the
// publisher's goroutine.
type Handler func(ctx context.Context, ev Event) error

type entry struct {
	id uint64
	fn Handler
}

// Publisher is the narrow side slices depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus manages handlers per kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]entry
	nextID   uint64
	recovery *logging.RecoveryHandler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]entry),
		recovery: logging.NewRecoveryHandler("events"),
	}
}

// Subscribe adds a handler for kind and returns a function removing it.
func (b *Bus) Subscribe(kind Kind, fn Handler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[kind]
			for i, h := range hs {
				if h.id == id {
					b.handlers[kind] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish runs every handler for ev.Kind in subscription order. A failing or
// panicking handler does not stop the rest; all errors are joined.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	hs := make([]entry, len(b.handlers[ev.Kind]))
	copy(hs, b.handlers[ev.Kind])
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		fn := h.fn
		if err := b.recovery.WrapError(func() error { return fn(ctx, ev) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Has checks if any handlers are registered for kind.
func (b *Bus) Has(kind Kind) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind]) > 0
}

// Clear removes all handlers of kind.
func (b *Bus) Clear(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, kind)
}

// ClearAll removes all handlers.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Kind][]entry)
}

// Discard is a Publisher that drops everything. Slices use it when built
// without a bus.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
