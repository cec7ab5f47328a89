// Package auth is the session slice: credentials exchange, profile, and the
// voluntary and forced logout paths.
package auth

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
	"github.com/joss/kotoshop/internal/session"
	"github.com/joss/kotoshop/internal/state"
)

// Key is the slice name and its durable key.
const Key = "auth"

// Resources named in MutationCompleted events.
const (
	ResourceSession = "session"
	ResourceProfile = "profile"
)

// State is the auth slice. Token != "" iff the shopper is signed in; User is
// never kept without a token.
type State struct {
	Token  string          `json:"token,omitempty"`
	User   *domain.Profile `json:"user,omitempty"`
	Status state.Status    `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// SignedIn reports whether a token is held.
func (s State) SignedIn() bool {
	return s.Token != ""
}

// ProfileUpdate is the editable part of the profile.
type ProfileUpdate struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Slice owns State and is the only writer of the session holder.
type Slice struct {
	mu     sync.RWMutex
	st     State
	api    gateway.Requester
	holder *session.Holder
	bus    events.Publisher
	seq    *state.Tracker
	log    *logging.Logger
}

// New creates an anonymous auth slice.
func New(api gateway.Requester, holder *session.Holder, bus events.Publisher) *Slice {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Slice{
		st:     State{Status: state.Idle},
		api:    api,
		holder: holder,
		bus:    bus,
		seq:    state.NewTracker(),
		log:    logging.New("auth"),
	}
}

// Key returns the durable key.
func (s *Slice) Key() string { return Key }

// State returns a copy of the current state.
func (s *Slice) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

// Claims decodes the current token, if any.
func (s *Slice) Claims() (session.Claims, bool) {
	tok := s.holder.Token()
	if tok == "" {
		return session.Claims{}, false
	}
	c, err := session.ParseClaims(tok)
	if err != nil {
		return session.Claims{}, false
	}
	return c, true
}

// UserID is the subject of the current token, or "".
func (s *Slice) UserID() string {
	c, _ := s.Claims()
	return c.UserID
}

// Persisted serializes the whole slice.
func (s *Slice) Persisted() ([]byte, error) {
	return json.Marshal(s.State())
}

// Restore seeds the slice and the session holder from a persisted value.
func (s *Slice) Restore(data []byte) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode auth state: %w", err)
	}
	st.Status = st.Status.Restored()
	if st.Token == "" {
		st.User = nil
	}

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	s.holder.Init(st.Token)
	return nil
}

func (s *Slice) changed(ctx context.Context) {
	_ = s.bus.Publish(ctx, events.Event{Kind: events.Changed, Slice: Key})
}

// settled reports whether out may move Status out of loading: it is the
// latest request for its resource and no other tracked request is pending.
func (s *Slice) settled(out state.Outcome) bool {
	return out.Latest && s.seq.Idle(ResourceSession, ResourceProfile)
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

// fail records err for tk. Caller must hold no lock.
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

// Signup registers and signs in.
func (s *Slice) Signup(ctx context.Context, email, password string) error {
	return s.exchange(ctx, "/auth/signup", email, password)
}

// Login exchanges credentials for a token.
func (s *Slice) Login(ctx context.Context, email, password string) error {
	return s.exchange(ctx, "/auth/login", email, password)
}

func (s *Slice) exchange(ctx context.Context, path, email, password string) error {
	if err := domain.ValidateCredentials(email, password); err != nil {
		return err
	}

	tk := s.begin(ctx, ResourceSession)
	var resp struct {
		Token string `json:"token"`
	}
	err := s.api.Do(ctx, http.MethodPost, path, credentials{Email: email, Password: password}, &resp,
		gateway.Anonymous(), gateway.SkipAuthIntercept())
	if err == nil && resp.Token == "" {
		err = fmt.Errorf("%w: %s: response has no token", gateway.ErrMalformed, path)
	}
	if err != nil {
		return s.fail(ctx, tk, "credentials_rejected", err)
	}

	out := s.seq.Settle(tk)
	if out.Apply {
		// a different identity invalidates any profile request in flight
		s.seq.Invalidate(ResourceProfile)
		s.holder.Set(resp.Token)
		s.mu.Lock()
		s.st.Token = resp.Token
		s.st.User = nil
		s.mu.Unlock()
	}
	s.mu.Lock()
	if s.settled(out) {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.log.Info("signed_in", map[string]interface{}{"path": path})
	s.changed(ctx)
	if out.Apply {
		_ = s.bus.Publish(ctx, events.Event{Kind: events.MutationCompleted, Slice: Key, Resource: ResourceSession})
	}
	return nil
}

// FetchProfile reads the signed-in profile.
func (s *Slice) FetchProfile(ctx context.Context) error {
	tk := s.begin(ctx, ResourceProfile)
	var p domain.Profile
	if err := s.api.Do(ctx, http.MethodGet, "/auth/profile", nil, &p); err != nil {
		return s.fail(ctx, tk, "profile_fetch_failed", err)
	}
	s.applyProfile(ctx, tk, &p)
	return nil
}

// UpdateProfile sends the editable fields. When the server answers with the
// profile it is applied; otherwise a MutationCompleted asks for a re-read.
func (s *Slice) UpdateProfile(ctx context.Context, u ProfileUpdate) error {
	if err := domain.ValidatePhone(u.PhoneNumber); err != nil {
		return err
	}

	tk := s.begin(ctx, ResourceProfile)
	var raw json.RawMessage
	if err := s.api.Do(ctx, http.MethodPut, "/auth/update", u, &raw); err != nil {
		return s.fail(ctx, tk, "profile_update_failed", err)
	}

	if gjson.GetBytes(raw, "first_name").Exists() || gjson.GetBytes(raw, "email").Exists() {
		var p domain.Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			return s.fail(ctx, tk, "profile_update_failed", fmt.Errorf("%w: %v", gateway.ErrMalformed, err))
		}
		s.applyProfile(ctx, tk, &p)
		return nil
	}

	out := s.seq.Settle(tk)
	s.mu.Lock()
	if s.settled(out) {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.changed(ctx)
	_ = s.bus.Publish(ctx, events.Event{Kind: events.MutationCompleted, Slice: Key, Resource: ResourceProfile})
	return nil
}

func (s *Slice) applyProfile(ctx context.Context, tk state.Ticket, p *domain.Profile) {
	out := s.seq.Settle(tk)
	s.mu.Lock()
	if out.Apply && s.st.Token != "" {
		if p.Email == "" && s.st.User != nil {
			p.Email = s.st.User.Email
		}
		s.st.User = p
	}
	if s.settled(out) {
		s.st.Status = state.Succeeded
	}
	s.mu.Unlock()
	s.changed(ctx)
}

// Logout clears the session voluntarily.
func (s *Slice) Logout(ctx context.Context) {
	s.holder.Clear()
	s.reset(ctx, false, "logout")
}

// Expire handles a 401 for a request that carried token. The session is
// cleared only if token is still the current one, so concurrent 401s and
// 401s from before a fresh login cause at most one logout. It reports
// whether this call logged the shopper out.
func (s *Slice) Expire(ctx context.Context, token, reason string) bool {
	if !s.holder.ClearIf(token) {
		return false
	}
	s.reset(ctx, true, reason)
	return true
}

func (s *Slice) reset(ctx context.Context, forced bool, reason string) {
	s.seq.Invalidate(ResourceSession)
	s.seq.Invalidate(ResourceProfile)
	s.mu.Lock()
	s.st = State{Status: state.Idle}
	s.mu.Unlock()

	fields := map[string]interface{}{"forced": forced, "reason": reason}
	if forced {
		s.log.Warn("forced_logout", fields, nil)
	} else {
		s.log.Info("logout", fields)
	}
	s.changed(ctx)
	_ = s.bus.Publish(ctx, events.Event{Kind: events.LoggedOut, Slice: Key, Forced: forced, Reason: reason})
}
