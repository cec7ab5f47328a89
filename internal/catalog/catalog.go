// Package catalog is the products slice.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/gateway"
	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/state"
)

// Key is the slice name. The catalog is never persisted.
const Key = "products"

const resAll = "all"

// AllCategories selects every product. The storefront also sends "Все".
const AllCategories = "all"

// State is the products slice.
type State struct {
	Items    []domain.Product `json:"items"`
	Category string           `json:"category"`
	Status   state.Status     `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// Visible is Items narrowed to the selected category.
func (s State) Visible() []domain.Product {
	return ByCategory(s.Items, s.Category)
}

// Find returns the product with id.
func (s State) Find(id int64) (domain.Product, bool) {
	for _, p := range s.Items {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Product{}, false
}

// Categories lists the distinct non-empty categories in name order.
func (s State) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range s.Items {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// IsAll reports whether category means no filtering.
func IsAll(category string) bool {
	c := strings.TrimSpace(category)
	return c == "" || strings.EqualFold(c, AllCategories) || c == "Все"
}

// ByCategory filters products by exact category.
func ByCategory(items []domain.Product, category string) []domain.Product {
	if IsAll(category) {
		return append([]domain.Product(nil), items...)
	}
	out := make([]domain.Product, 0, len(items))
	for _, p := range items {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Slice owns State.
type Slice struct {
	mu     sync.RWMutex
	st     State
	api    gateway.Requester
	bus    events.Publisher
	seq    *state.Tracker
	filter *Filter
	log    *logging.Logger
}

// New creates an empty products slice.
func New(api gateway.Requester, bus events.Publisher) *Slice {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Slice{
		st:     State{Items: []domain.Product{}, Category: AllCategories, Status: state.Idle},
		api:    api,
		bus:    bus,
		seq:    state.NewTracker(),
		filter: NewFilter(),
		log:    logging.New("catalog"),
	}
}

// State returns a copy of the current state.
func (s *Slice) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	st.Items = append([]domain.Product(nil), s.st.Items...)
	return st
}

func (s *Slice) changed(ctx context.Context) {
	_ = s.bus.Publish(ctx, events.Event{Kind: events.Changed, Slice: Key})
}

// Fetch reads the whole catalog. The endpoint answers either a bare array
// or {"products": [...]}.
func (s *Slice) Fetch(ctx context.Context) error {
	tk := s.seq.Begin(resAll)
	s.mu.Lock()
	s.st.Status = state.Loading
	s.st.Error = ""
	s.mu.Unlock()
	s.changed(ctx)

	var raw json.RawMessage
	err := s.api.Do(ctx, http.MethodGet, "/products/get_all", nil, &raw)
	var items []domain.Product
	if err == nil {
		items, err = decodeProducts(raw)
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		if err != nil {
			s.st.Error = gateway.Message(err)
		} else {
			s.st.Items = items
		}
	}
	if out.Latest {
		if err != nil {
			s.st.Status = state.Failed
		} else {
			s.st.Status = state.Succeeded
		}
	}
	s.mu.Unlock()
	s.changed(ctx)

	if err != nil {
		s.log.Warn("fetch_failed", nil, err)
		return err
	}
	s.log.Debug("fetched", map[string]interface{}{"count": len(items)})
	return nil
}

func decodeProducts(raw json.RawMessage) ([]domain.Product, error) {
	body := raw
	if r := gjson.ParseBytes(raw); r.IsObject() {
		list := r.Get("products")
		if !list.IsArray() {
			return nil, fmt.Errorf("%w: /products/get_all: no products array", gateway.ErrMalformed)
		}
		body = json.RawMessage(list.Raw)
	}
	var items []domain.Product
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: /products/get_all: %v", gateway.ErrMalformed, err)
	}
	if items == nil {
		items = []domain.Product{}
	}
	return items, nil
}

// SelectCategory changes the category shown by Visible.
func (s *Slice) SelectCategory(ctx context.Context, category string) {
	if IsAll(category) {
		category = AllCategories
	}
	s.mu.Lock()
	s.st.Category = category
	s.mu.Unlock()
	s.changed(ctx)
}

// Find looks a product up in the loaded catalog.
func (s *Slice) Find(id int64) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Find(id)
}

// Query narrows the visible products with a filter expression such as
// `price < 30 && category == "books"`. An empty expression returns Visible.
func (s *Slice) Query(expression string) ([]domain.Product, error) {
	visible := s.State().Visible()
	if strings.TrimSpace(expression) == "" {
		return visible, nil
	}
	return s.filter.Apply(expression, visible)
}
