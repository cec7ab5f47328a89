package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/metrics"
)

// Slice is a state container that can be mirrored.
type Slice interface {
	// Key is the durable key, e.g. "cart".
	Key() string
	// Persisted serializes the durable subset of the slice.
	Persisted() ([]byte, error)
	// Restore seeds the slice from a persisted value.
	Restore(data []byte) error
}

// Persister mirrors slices to a backend.
type Persister struct {
	backend Backend
	slices  map[string]Slice
	order   []string
	locks   map[string]*sync.Mutex
	log     *logging.Logger
}

// NewPersister creates a persister for the given slices.
func NewPersister(backend Backend, slices ...Slice) *Persister {
	p := &Persister{
		backend: backend,
		slices:  make(map[string]Slice, len(slices)),
		locks:   make(map[string]*sync.Mutex, len(slices)),
		log:     logging.New("persist"),
	}
	for _, s := range slices {
		p.slices[s.Key()] = s
		p.locks[s.Key()] = &sync.Mutex{}
		p.order = append(p.order, s.Key())
	}
	return p
}

// Keys lists the mirrored keys in registration order.
func (p *Persister) Keys() []string {
	return append([]string(nil), p.order...)
}

// Rehydrate restores every slice that has a stored value. A missing key is
// normal; an unreadable one is logged, skipped and reported in the joined
// error while the other slices are still restored.
func (p *Persister) Rehydrate(ctx context.Context) error {
	var errs []error
	for _, key := range p.order {
		data, err := p.backend.Load(ctx, key)
		if IsNotFound(err) {
			continue
		}
		if err == nil && IsSealed(data) {
			if _, ok := p.backend.(*Sealed); !ok {
				err = fmt.Errorf("%w: %s is sealed but no state key is configured", ErrSealed, key)
			}
		}
		if err == nil {
			err = p.slices[key].Restore(data)
		}
		if err != nil {
			p.log.Error("rehydrate_failed", map[string]interface{}{"key": key}, err)
			errs = append(errs, fmt.Errorf("rehydrate %s: %w", key, err))
			continue
		}
		p.log.Debug("rehydrated", map[string]interface{}{"key": key, "bytes": len(data)})
	}
	return errors.Join(errs...)
}

// Mirror writes the current state of key. The snapshot is taken under the
// key lock so the last writer always stores the newest state.
func (p *Persister) Mirror(ctx context.Context, key string) error {
	s, ok := p.slices[key]
	if !ok {
		return nil
	}
	mu := p.locks[key]
	mu.Lock()
	defer mu.Unlock()

	data, err := s.Persisted()
	if err == nil {
		err = p.backend.Save(ctx, key, data)
	}
	metrics.RecordPersist(key, err == nil)
	if err != nil {
		p.log.Error("mirror_failed", map[string]interface{}{"key": key}, err)
		return err
	}
	return nil
}

// Purge deletes every mirrored key.
func (p *Persister) Purge(ctx context.Context) error {
	var errs []error
	for _, key := range p.order {
		if err := p.backend.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler mirrors the slice named by a Changed event. Failures are logged
// and never fail the intent that caused the change.
func (p *Persister) Handler() events.Handler {
	return func(ctx context.Context, ev events.Event) error {
		if ev.Kind != events.Changed {
			return nil
		}
		_ = p.Mirror(context.WithoutCancel(ctx), ev.Slice)
		return nil
	}
}
