// Package session holds the bearer token shared by every outgoing request.
//
// The token has an explicit lifecycle: Init at startup from persisted state,
// Set on login or signup, Clear on logout or a forced expiry. Only the auth
// lifecycle and the logout trigger may write it; everything else reads.
package session

import (
	"sync"
)

// TokenSource is the read side handed to the gateway.
type TokenSource interface {
	Token() string
}

// Holder is the process-wide token store.
type Holder struct {
	mu      sync.RWMutex
	token   string
	version uint64
}

// NewHolder creates an empty (anonymous) holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Init seeds the holder from rehydrated state. It is a no-op once a token
// has been set by a live login.
func (h *Holder) Init(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.version > 0 {
		return
	}
	h.token = token
}

// Set stores a token issued by login or signup.
func (h *Holder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
	h.version++
}

// Clear drops the token.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = ""
	h.version++
}

// ClearIf drops the token only if it still equals token. It reports whether
// the holder was cleared.
func (h *Holder) ClearIf(token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if token == "" || h.token != token {
		return false
	}
	h.token = ""
	h.version++
	return true
}

// Token returns the current token or "".
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// SignedIn reports whether a token is held.
func (h *Holder) SignedIn() bool {
	return h.Token() != ""
}
