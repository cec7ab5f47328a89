package state

import "sync"

// Ticket identifies one request for a resource.
type Ticket struct {
	Resource string
	Seq      uint64
}

// Outcome says what a completed request may do to the slice.
type Outcome struct {
	// Apply is false when a newer request has already been applied.
	Apply bool
	// Latest is true when no newer request was issued; only then may the
	// status leave loading.
	Latest bool
}

// Tracker hands out monotonic sequence numbers per resource.
type Tracker struct {
	mu      sync.Mutex
	issued  map[string]uint64
	applied map[string]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		issued:  make(map[string]uint64),
		applied: make(map[string]uint64),
	}
}

// Begin issues the next ticket for resource.
func (t *Tracker) Begin(resource string) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issued[resource]++
	return Ticket{Resource: resource, Seq: t.issued[resource]}
}

// Settle records the completion of tk, successful or not. A failure still
// advances the applied mark so an older success cannot land after it.
func (t *Tracker) Settle(tk Ticket) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tk.Seq <= t.applied[tk.Resource] {
		return Outcome{Latest: tk.Seq == t.issued[tk.Resource]}
	}
	t.applied[tk.Resource] = tk.Seq
	return Outcome{Apply: true, Latest: tk.Seq == t.issued[tk.Resource]}
}

// InFlight reports whether some issued request for resource has not settled.
func (t *Tracker) InFlight(resource string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issued[resource] > t.applied[resource]
}

// Idle reports whether no request for any of resources is in flight. Slices
// whose status covers several resources leave loading only when Idle.
func (t *Tracker) Idle(resources ...string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range resources {
		if t.issued[r] > t.applied[r] {
			return false
		}
	}
	return true
}

// Invalidate makes every outstanding ticket for resource stale. Used when
// the slice is reset underneath in-flight requests (logout).
func (t *Tracker) Invalidate(resource string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issued[resource]++
	t.applied[resource] = t.issued[resource]
}
