// Package order is the checkout slice plus order history.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/joss/kotoshop/internal/cart"
	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/gateway"
	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/state"
)

// Key is the slice name and its durable key.
const Key = "order"

const (
	resCreate  = "create"
	resHistory = "history"
)

// State is the order slice. Current is the last confirmed checkout.
type State struct {
	Current *domain.Order         `json:"current,omitempty"`
	History []domain.OrderSummary `json:"history,omitempty"`
	Status  state.Status          `json:"status"`
	Error   string                `json:"error,omitempty"`
}

// ErrEmptyCart rejects a checkout before dispatch.
var ErrEmptyCart = domain.Invalid("cart", "is empty")

// Slice owns State.
type Slice struct {
	mu  sync.RWMutex
	st  State
	api gateway.Requester
	bus events.Publisher
	seq *state.Tracker
	log *logging.Logger
}

// New creates an empty order slice.
func New(api gateway.Requester, bus events.Publisher) *Slice {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Slice{
		st:  State{Status: state.Idle},
		api: api,
		bus: bus,
		seq: state.NewTracker(),
		log: logging.New("order"),
	}
}

// Key returns the durable key.
func (s *Slice) Key() string { return Key }

// State returns a copy of the current state.
func (s *Slice) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	if st.Current != nil {
		o := *st.Current
		st.Current = &o
	}
	st.History = append([]domain.OrderSummary(nil), s.st.History...)
	return st
}

// Persisted serializes the whole slice.
func (s *Slice) Persisted() ([]byte, error) {
	return json.Marshal(s.State())
}

// Restore seeds the slice from a persisted value.
func (s *Slice) Restore(data []byte) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode order state: %w", err)
	}
	st.Status = st.Status.Restored()
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	return nil
}

// Reset forgets orders of the previous session.
func (s *Slice) Reset(ctx context.Context) {
	s.seq.Invalidate(resCreate)
	s.seq.Invalidate(resHistory)
	s.mu.Lock()
	s.st = State{Status: state.Idle}
	s.mu.Unlock()
	s.changed(ctx)
}

func (s *Slice) changed(ctx context.Context) {
	_ = s.bus.Publish(ctx, events.Event{Kind: events.Changed, Slice: Key})
}

// Create places an order for the given cart snapshot. The snapshot is a
// read-only copy taken by the caller; the cart slice is never written here.
func (s *Slice) Create(ctx context.Context, address string, snapshot []domain.CartItem) error {
	if len(snapshot) == 0 {
		return ErrEmptyCart
	}
	if err := domain.ValidateAddress(address); err != nil {
		return err
	}

	tk := s.begin(ctx, resCreate)
	var o domain.Order
	if err := s.api.Do(ctx, http.MethodPost, "/order/create", map[string]string{"address": address}, &o); err != nil {
		return s.fail(ctx, tk, "create_failed", err)
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		s.st.Current = &o
	}
	if s.settled(out) {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.log.Info("order_placed", map[string]interface{}{
		"order_number": o.OrderNumber,
		"items":        len(snapshot),
		"total":        domain.Total(snapshot),
	})
	s.changed(ctx)

	placed := o
	_ = s.bus.Publish(ctx, events.Event{Kind: events.OrderPlaced, Slice: Key, Order: &placed})
	// the server empties the cart on checkout
	_ = s.bus.Publish(ctx, events.Event{Kind: events.MutationCompleted, Slice: Key, Resource: cart.Key})
	return nil
}

// FetchHistory reads the order list.
func (s *Slice) FetchHistory(ctx context.Context) error {
	tk := s.begin(ctx, resHistory)
	var resp struct {
		Orders []domain.OrderSummary `json:"orders"`
	}
	if err := s.api.Do(ctx, http.MethodGet, "/order/get_all", nil, &resp); err != nil {
		return s.fail(ctx, tk, "history_failed", err)
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		s.st.History = resp.Orders
	}
	if s.settled(out) {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

// settled reports whether out may move Status out of loading: it is the
// latest request for its resource and no other tracked request is pending.
func (s *Slice) settled(out state.Outcome) bool {
	return out.Latest && s.seq.Idle(resCreate, resHistory)
}

func (s *Slice) begin(ctx context.Context, resource string) state.Ticket {
	tk := s.seq.Begin(resource)
	s.mu.Lock()
	s.st.Status = state.Loading
	s.st.Error = ""
	s.mu.Unlock()
	s.changed(ctx)
	return tk
}

func (s *Slice) fail(ctx context.Context, tk state.Ticket, event string, err error) error {
	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		s.st.Error = gateway.Message(err)
	}
	if s.settled(out) {
		s.st.Status = state.Failed
	}
	s.mu.Unlock()
	s.log.Warn(event, nil, err)
	s.changed(ctx)
	return err
}
