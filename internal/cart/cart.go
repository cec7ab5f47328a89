// Package cart is the cart slice. The item collection is always the last
// one the server returned; the total is derived from it on read.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/gateway"
	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/state"
)

// Key is the slice name and its durable key.
const Key = "cart"

const resItems = "items"

// State is the cart slice. There is deliberately no stored total.
type State struct {
	Items  []domain.CartItem `json:"items"`
	Status state.Status      `json:"status"`
	Error  string            `json:"error,omitempty"`
}

// Total is derived from Items.
func (s State) Total() float64 {
	return domain.Total(s.Items)
}

// Count is the number of units in the cart.
func (s State) Count() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

// Find returns the line for productID.
func (s State) Find(productID int64) (domain.CartItem, bool) {
	for _, it := range s.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return domain.CartItem{}, false
}

// Slice owns State.
type Slice struct {
	mu  sync.RWMutex
	st  State
	api gateway.Requester
	bus events.Publisher
	seq *state.Tracker
	log *logging.Logger
}

// New creates an empty cart slice.
func New(api gateway.Requester, bus events.Publisher) *Slice {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Slice{
		st:  State{Items: []domain.CartItem{}, Status: state.Idle},
		api: api,
		bus: bus,
		seq: state.NewTracker(),
		log: logging.New("cart"),
	}
}

// Key returns the durable key.
func (s *Slice) Key() string { return Key }

// State returns a copy of the current state.
func (s *Slice) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	st.Items = append([]domain.CartItem(nil), s.st.Items...)
	return st
}

// Persisted serializes the items and status.
func (s *Slice) Persisted() ([]byte, error) {
	return json.Marshal(s.State())
}

// Restore seeds the slice from a persisted value. A later fetch replaces it.
func (s *Slice) Restore(data []byte) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode cart state: %w", err)
	}
	if st.Items == nil {
		st.Items = []domain.CartItem{}
	}
	st.Status = st.Status.Restored()
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	return nil
}

// Reset empties the cart and makes in-flight responses stale.
func (s *Slice) Reset(ctx context.Context) {
	s.seq.Invalidate(resItems)
	s.mu.Lock()
	s.st = State{Items: []domain.CartItem{}, Status: state.Idle}
	s.mu.Unlock()
	s.changed(ctx)
}

func (s *Slice) changed(ctx context.Context) {
	_ = s.bus.Publish(ctx, events.Event{Kind: events.Changed, Slice: Key})
}

type cartResponse struct {
	Items []domain.CartItem `json:"items"`
}

// Bootstrap is the startup fetch. It may run anonymously, so a 401 is
// returned without forcing a logout.
func (s *Slice) Bootstrap(ctx context.Context) error {
	return s.fetch(ctx, gateway.SkipAuthIntercept())
}

// Fetch re-reads the cart.
func (s *Slice) Fetch(ctx context.Context) error {
	return s.fetch(ctx)
}

func (s *Slice) fetch(ctx context.Context, opts ...gateway.Option) error {
	tk := s.begin(ctx)
	var resp cartResponse
	if err := s.api.Do(ctx, http.MethodGet, "/cart/get_cart", nil, &resp, opts...); err != nil {
		return s.fail(ctx, tk, "fetch_failed", err)
	}
	if resp.Items == nil {
		resp.Items = []domain.CartItem{}
	}
	s.apply(ctx, tk, resp.Items)
	return nil
}

// Add adds quantity units of productID.
func (s *Slice) Add(ctx context.Context, productID int64, quantity int) error {
	if productID <= 0 {
		return domain.Invalid("product_id", "required")
	}
	if quantity <= 0 {
		return domain.Invalid("quantity", "must be positive")
	}
	body := map[string]interface{}{"product_id": productID, "quantity": quantity}
	return s.mutate(ctx, http.MethodPost, "/cart/add_product", body)
}

// Remove takes one unit of productID out of the cart.
func (s *Slice) Remove(ctx context.Context, productID int64) error {
	if productID <= 0 {
		return domain.Invalid("product_id", "required")
	}
	return s.mutate(ctx, http.MethodPut, "/cart/remove_product", map[string]interface{}{"product_id": productID})
}

// Clear empties the server-side cart.
func (s *Slice) Clear(ctx context.Context) error {
	return s.mutate(ctx, http.MethodDelete, "/cart/clean_cart", nil)
}

// mutate sends one cart mutation. A response carrying items is applied
// directly; otherwise MutationCompleted asks the coordinator to re-read.
func (s *Slice) mutate(ctx context.Context, method, path string, body interface{}) error {
	tk := s.begin(ctx)
	var raw json.RawMessage
	if err := s.api.Do(ctx, method, path, body, &raw); err != nil {
		return s.fail(ctx, tk, "mutation_failed", err)
	}

	if items := gjson.GetBytes(raw, "items"); items.IsArray() {
		var resp cartResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return s.fail(ctx, tk, "mutation_failed", fmt.Errorf("%w: %s %s: %v", gateway.ErrMalformed, method, path, err))
		}
		if resp.Items == nil {
			resp.Items = []domain.CartItem{}
		}
		s.apply(ctx, tk, resp.Items)
	} else {
		out := s.seq.Settle(tk)
		s.mu.Lock()
		if out.Latest {
			s.st.Status = state.Succeeded
		}
		s.mu.Unlock()
		s.changed(ctx)
	}

	s.log.Debug("mutated", map[string]interface{}{"method": method, "path": path})
	_ = s.bus.Publish(ctx, events.Event{Kind: events.MutationCompleted, Slice: Key, Resource: Key})
	return nil
}

func (s *Slice) begin(ctx context.Context) state.Ticket {
	tk := s.seq.Begin(resItems)
	s.mu.Lock()
	s.st.Status = state.Loading
	s.st.Error = ""
	s.mu.Unlock()
	s.changed(ctx)
	return tk
}

func (s *Slice) apply(ctx context.Context, tk state.Ticket, items []domain.CartItem) {
	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		s.st.Items = items
	}
	if out.Latest {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.changed(ctx)
}

func (s *Slice) fail(ctx context.Context, tk state.Ticket, event string, err error) error {
	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		s.st.Error = gateway.Message(err)
	}
	if out.Latest {
		s.st.Status = state.Failed
	}
	s.mu.Unlock()
	s.log.Warn(event, nil, err)
	s.changed(ctx)
	return err
}
