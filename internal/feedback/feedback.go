// Package feedback is the product review slice. Submissions and edits are
// optimistic: the list changes before the server answers and is reconciled
// or rolled back when it does.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"

	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/gateway"
	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/state"
)

// Key is the slice name. Feedback is never persisted.
const Key = "feedback"

const (
	resList = "list"
	resMine = "mine"
)

// TempPrefix marks locally generated identifiers.
const TempPrefix = "tmp-"

var (
	// ErrMissingID rejects an edit without the server-assigned id.
	ErrMissingID = domain.Invalid("id", "feedback id is required for an update")
	// ErrDuplicate rejects a second review of the same product by the same user.
	ErrDuplicate = errors.New("feedback already exists for this product")
	// ErrPending rejects a mutation while another one on the same entry is unresolved.
	ErrPending = errors.New("feedback mutation already in flight")
)

// State is the feedback slice for the product currently shown.
type State struct {
	ProductID int64             `json:"product_id"`
	Items     []domain.Feedback `json:"items"`
	Mine      *domain.Feedback  `json:"mine,omitempty"`
	Status    state.Status      `json:"status"`
	Error     string            `json:"error,omitempty"`
}

// Input is a submission or edit.
type Input struct {
	ID        domain.FlexID
	ProductID int64
	Rating    float64
	Comment   string
}

type payload struct {
	ID        interface{} `json:"id,omitempty"`
	Comment   string      `json:"comment"`
	Rating    float64     `json:"rating"`
	ProductID int64       `json:"product_id"`
}

// Slice owns State.
type Slice struct {
	mu        sync.RWMutex
	st        State
	api       gateway.Requester
	bus       events.Publisher
	seq       *state.Tracker
	user      func() string
	newTempID func() string
	log       *logging.Logger
}

// New creates an empty feedback slice. user returns the signed-in user id
// ("" when unknown) and is used for the one-entry-per-user rule.
func New(api gateway.Requester, bus events.Publisher, user func() string) *Slice {
	if bus == nil {
		bus = events.Discard{}
	}
	if user == nil {
		user = func() string { return "" }
	}
	return &Slice{
		st:   State{Items: []domain.Feedback{}, Status: state.Idle},
		api:  api,
		bus:  bus,
		seq:  state.NewTracker(),
		user: user,
		newTempID: func() string {
			return TempPrefix + ulid.Make().String()
		},
		log: logging.New("feedback"),
	}
}

// State returns a copy of the current state.
func (s *Slice) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	st.Items = append([]domain.Feedback(nil), s.st.Items...)
	if st.Mine != nil {
		m := *st.Mine
		st.Mine = &m
	}
	return st
}

// Reset drops all entries, including provisional ones.
func (s *Slice) Reset(ctx context.Context) {
	s.seq.Invalidate(resList)
	s.seq.Invalidate(resMine)
	s.mu.Lock()
	s.st = State{Items: []domain.Feedback{}, Status: state.Idle}
	s.mu.Unlock()
	s.changed(ctx)
}

func (s *Slice) changed(ctx context.Context) {
	_ = s.bus.Publish(ctx, events.Event{Kind: events.Changed, Slice: Key})
}

// Fetch reads the list for productID. Provisional entries and unresolved
// edits for the product survive unless the server list already holds an
// entry by the same user.
func (s *Slice) Fetch(ctx context.Context, productID int64) error {
	if productID <= 0 {
		return domain.Invalid("product_id", "required")
	}
	tk := s.begin(ctx, resList)
	var list []domain.Feedback
	if err := s.api.Do(ctx, http.MethodGet, "/feedback/get_all", nil, &list, gateway.ProductQuery(productID)); err != nil {
		return s.fail(ctx, tk, "fetch_failed", err)
	}
	for i := range list {
		if list[i].ProductID == 0 {
			list[i].ProductID = productID
		}
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		s.st.Items = merge(list, s.st.Items, productID)
		s.st.ProductID = productID
	}
	if s.settled(out) {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

// merge builds the visible list from a server list and the local one.
func merge(server, local []domain.Feedback, productID int64) []domain.Feedback {
	pendingEdits := make(map[domain.FlexID]domain.Feedback)
	var provisional []domain.Feedback
	for _, f := range local {
		if f.ProductID != productID {
			continue
		}
		switch {
		case f.Provisional():
			provisional = append(provisional, f)
		case f.Pending:
			pendingEdits[f.ID] = f
		}
	}

	merged := make([]domain.Feedback, 0, len(server)+len(provisional))
	for _, f := range server {
		if edit, ok := pendingEdits[f.ID]; ok {
			f = edit
		}
		merged = append(merged, f)
	}
	for _, p := range provisional {
		if p.UserID != "" && indexByUser(merged, p.UserID, productID) >= 0 {
			continue
		}
		merged = append(merged, p)
	}
	return merged
}

// FetchMine reads the signed-in user's own review of productID. A 404 means
// there is none.
func (s *Slice) FetchMine(ctx context.Context, productID int64) error {
	if productID <= 0 {
		return domain.Invalid("product_id", "required")
	}
	tk := s.begin(ctx, resMine)
	var mine domain.Feedback
	err := s.api.Do(ctx, http.MethodGet, "/feedback/get_feedback", nil, &mine, gateway.ProductQuery(productID))
	if gateway.StatusOf(err) == http.StatusNotFound {
		mine, err = domain.Feedback{}, nil
	}
	if err != nil {
		return s.fail(ctx, tk, "fetch_mine_failed", err)
	}
	if mine.ProductID == 0 {
		mine.ProductID = productID
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply {
		s.st.Mine = &mine
	}
	if s.settled(out) {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

// Submit creates a review. A provisional entry is visible immediately; on
// success it is replaced in place by the confirmed entry, on failure it is
// removed. It returns the temporary id used.
func (s *Slice) Submit(ctx context.Context, in Input) (string, error) {
	if in.ProductID <= 0 {
		return "", domain.Invalid("product_id", "required")
	}
	if err := domain.ValidateRating(in.Rating); err != nil {
		return "", err
	}

	user := s.user()
	tempID := s.newTempID()
	provisional := domain.Feedback{
		TempID:    tempID,
		ProductID: in.ProductID,
		UserID:    domain.FlexID(user),
		Rating:    in.Rating,
		Comment:   in.Comment,
		Pending:   true,
	}

	s.mu.Lock()
	if err := s.checkNew(user, in.ProductID); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.st.Items = append(s.st.Items, provisional)
	s.st.Status = state.Loading
	s.st.Error = ""
	s.mu.Unlock()
	tk := s.seq.Begin(resList)
	s.changed(ctx)

	var raw json.RawMessage
	err := s.api.Do(ctx, http.MethodPost, "/feedback/post", payload{
		Comment:   in.Comment,
		Rating:    in.Rating,
		ProductID: in.ProductID,
	}, &raw)

	var confirmed *domain.Feedback
	if err == nil && gjson.GetBytes(raw, "id").Exists() {
		var fb domain.Feedback
		if uerr := json.Unmarshal(raw, &fb); uerr != nil {
			err = fmt.Errorf("%w: /feedback/post: %v", gateway.ErrMalformed, uerr)
		} else {
			confirmed = fill(fb, provisional)
		}
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	idx := indexByKey(s.st.Items, tempID)
	switch {
	case err != nil:
		if idx >= 0 {
			s.st.Items = removeAt(s.st.Items, idx)
		}
		s.st.Error = gateway.Message(err)
	case confirmed != nil:
		// a fetch may have brought the confirmed entry in already
		if dup := indexByKeyExcept(s.st.Items, string(confirmed.ID), idx); dup >= 0 {
			confirmed = fill(*confirmed, s.st.Items[dup])
			s.st.Items[dup] = *confirmed
			if idx >= 0 {
				s.st.Items = removeAt(s.st.Items, idx)
			}
		} else if idx >= 0 {
			s.st.Items[idx] = *confirmed
		}
		mine := *confirmed
		s.st.Mine = &mine
	default:
		// accepted without the entry; a re-read brings the confirmed one
		if idx >= 0 {
			s.st.Items = removeAt(s.st.Items, idx)
		}
	}
	if s.settled(out) {
		if err != nil {
			s.st.Status = state.Failed
		} else {
			s.st.Status = state.Succeeded
		}
	}
	s.mu.Unlock()
	s.changed(ctx)

	if err != nil {
		s.log.Warn("submit_rolled_back", map[string]interface{}{"temp_id": tempID, "product_id": in.ProductID}, err)
		return tempID, err
	}
	s.log.Info("submitted", map[string]interface{}{"temp_id": tempID, "product_id": in.ProductID})
	if confirmed == nil {
		_ = s.bus.Publish(ctx, events.Event{Kind: events.MutationCompleted, Slice: Key, Resource: Key, ProductID: in.ProductID})
	}
	return tempID, nil
}

// checkNew enforces one entry per (user, product). Caller holds mu.
func (s *Slice) checkNew(user string, productID int64) error {
	for _, f := range s.st.Items {
		if f.ProductID != productID {
			continue
		}
		if f.Provisional() && f.Pending {
			// provisional entries are always ours
			return ErrPending
		}
		if user != "" && string(f.UserID) == user {
			if f.Pending {
				return ErrPending
			}
			return ErrDuplicate
		}
	}
	if m := s.st.Mine; m != nil && m.ProductID == productID && m.Exists() {
		return ErrDuplicate
	}
	return nil
}

// Update edits a confirmed review in place, keyed by its server id. The
// previous version is restored if the server rejects the edit.
func (s *Slice) Update(ctx context.Context, in Input) error {
	if in.ID == "" {
		return ErrMissingID
	}
	if in.ProductID <= 0 {
		return domain.Invalid("product_id", "required")
	}
	if err := domain.ValidateRating(in.Rating); err != nil {
		return err
	}

	s.mu.Lock()
	idx := indexByKey(s.st.Items, string(in.ID))
	var previous domain.Feedback
	if idx >= 0 {
		previous = s.st.Items[idx]
		if previous.Pending {
			s.mu.Unlock()
			return ErrPending
		}
		edited := previous
		edited.Rating = in.Rating
		edited.Comment = in.Comment
		edited.Pending = true
		s.st.Items[idx] = edited
	}
	s.st.Status = state.Loading
	s.st.Error = ""
	s.mu.Unlock()
	tk := s.seq.Begin(resList)
	s.changed(ctx)

	var raw json.RawMessage
	err := s.api.Do(ctx, http.MethodPut, "/feedback/update_feedback", payload{
		ID:        in.ID.Wire(),
		Comment:   in.Comment,
		Rating:    in.Rating,
		ProductID: in.ProductID,
	}, &raw)

	var confirmed *domain.Feedback
	if err == nil && gjson.GetBytes(raw, "id").Exists() {
		var fb domain.Feedback
		if uerr := json.Unmarshal(raw, &fb); uerr != nil {
			err = fmt.Errorf("%w: /feedback/update_feedback: %v", gateway.ErrMalformed, uerr)
		} else {
			base := previous
			base.Rating, base.Comment = in.Rating, in.Comment
			confirmed = fill(fb, base)
		}
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	cur := indexByKey(s.st.Items, string(in.ID))
	switch {
	case err != nil:
		if cur >= 0 && idx >= 0 {
			s.st.Items[cur] = previous
		}
		s.st.Error = gateway.Message(err)
	default:
		result := domain.Feedback{ID: in.ID, ProductID: in.ProductID, Rating: in.Rating, Comment: in.Comment}
		if cur >= 0 {
			result = s.st.Items[cur]
			result.Pending = false
		}
		if confirmed != nil {
			result = *confirmed
		}
		if cur >= 0 {
			s.st.Items[cur] = result
		}
		if s.st.Mine != nil && s.st.Mine.ID == in.ID {
			if result.UserID == "" {
				result.UserID = s.st.Mine.UserID
			}
			mine := result
			s.st.Mine = &mine
		}
	}
	if s.settled(out) {
		if err != nil {
			s.st.Status = state.Failed
		} else {
			s.st.Status = state.Succeeded
		}
	}
	s.mu.Unlock()
	s.changed(ctx)

	if err != nil {
		s.log.Warn("update_rolled_back", map[string]interface{}{"id": string(in.ID)}, err)
		return err
	}
	if confirmed == nil {
		_ = s.bus.Publish(ctx, events.Event{Kind: events.MutationCompleted, Slice: Key, Resource: Key, ProductID: in.ProductID})
	}
	return nil
}

// settled reports whether out may move Status out of loading: it is the
// latest request for its resource and no other tracked request is pending.
func (s *Slice) settled(out state.Outcome) bool {
	return out.Latest && s.seq.Idle(resList, resMine)
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

// fill completes a server entry with what the client already knows.
func fill(fb, known domain.Feedback) *domain.Feedback {
	if fb.ProductID == 0 {
		fb.ProductID = known.ProductID
	}
	if fb.UserID == "" {
		fb.UserID = known.UserID
	}
	if fb.Rating == 0 {
		fb.Rating = known.Rating
	}
	if fb.Comment == "" {
		fb.Comment = known.Comment
	}
	fb.TempID = ""
	fb.Pending = false
	return &fb
}

func indexByKey(items []domain.Feedback, key string) int {
	for i, f := range items {
		if f.Key() == key {
			return i
		}
	}
	return -1
}

func indexByKeyExcept(items []domain.Feedback, key string, skip int) int {
	for i, f := range items {
		if i != skip && f.Key() == key {
			return i
		}
	}
	return -1
}

func indexByUser(items []domain.Feedback, user domain.FlexID, productID int64) int {
	for i, f := range items {
		if f.UserID == user && f.ProductID == productID {
			return i
		}
	}
	return -1
}

func removeAt(items []domain.Feedback, i int) []domain.Feedback {
	out := make([]domain.Feedback, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}
