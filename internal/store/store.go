// Package store is the coordinator. It builds the session holder, gateway,
// slices, event bus and persistence, and wires the cross-slice rules:
// forced logout on 401, refresh after mutations whose responses are not
// authoritative, and observer notification on every change.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joss/kotoshop/internal/auth"
	"github.com/joss/kotoshop/internal/cart"
	"github.com/joss/kotoshop/internal/catalog"
	"github.com/joss/kotoshop/internal/config"
	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/feedback"
	"github.com/joss/kotoshop/internal/gateway"
	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/metrics"
	"github.com/joss/kotoshop/internal/order"
	"github.com/joss/kotoshop/internal/persist"
	"github.com/joss/kotoshop/internal/session"
)

// Navigator performs the redirect to the login screen. It runs after every
// logout; reason is "logout" for a voluntary one.
type Navigator interface {
	RedirectToLogin(reason string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(reason string)

// RedirectToLogin calls f.
func (f NavigatorFunc) RedirectToLogin(reason string) { f(reason) }

type noNavigator struct{}

func (noNavigator) RedirectToLogin(string) {}

// Options configures New. Zero values fall back to config.Env().
type Options struct {
	Env *config.ShopEnv

	// Backend overrides the backend selected by Env.
	Backend persist.Backend

	HTTPClient gateway.HTTPClient
	Navigator  Navigator

	// Sink receives OrderPlaced events. Defaults to the AMQP sink when
	// Env.AMQPURL is set.
	Sink events.Handler
}

// Snapshot is the read-only composite view handed to observers.
type Snapshot struct {
	Auth      auth.State     `json:"auth"`
	Cart      cart.State     `json:"cart"`
	CartTotal float64        `json:"cart_total"`
	Order     order.State    `json:"order"`
	Feedback  feedback.State `json:"feedback"`
	Products  catalog.State  `json:"products"`
}

// Store owns every slice.
type Store struct {
	Auth     *auth.Slice
	Cart     *cart.Slice
	Order    *order.Slice
	Feedback *feedback.Slice
	Products *catalog.Slice

	holder    *session.Holder
	gw        *gateway.Gateway
	bus       *events.Bus
	backend   persist.Backend
	persister *persist.Persister
	nav       Navigator
	sink      events.Handler
	recovery  *logging.RecoveryHandler
	log       *logging.Logger

	tasks   sync.WaitGroup
	taskMu  sync.Mutex
	closed  bool
	cancels []func()

	obsMu     sync.RWMutex
	observers map[uint64]func(Snapshot)
	nextObs   uint64
}

// New builds the store and restores persisted slices. Rehydration is
// synchronous and makes no network calls.
func New(ctx context.Context, opts Options) (*Store, error) {
	env := opts.Env
	if env == nil {
		env = config.Env()
	}

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = persist.Open(ctx, env)
		if err != nil {
			return nil, fmt.Errorf("open state backend: %w", err)
		}
	}

	holder := session.NewHolder()
	gw, err := gateway.New(gateway.Config{
		BaseURL:   env.APIURL,
		Tokens:    holder,
		Client:    opts.HTTPClient,
		Timeout:   env.HTTPTimeout,
		RateLimit: env.RateLimit,
		RateBurst: env.RateBurst,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	s := &Store{
		holder:    holder,
		gw:        gw,
		bus:       events.NewBus(),
		backend:   backend,
		nav:       opts.Navigator,
		sink:      opts.Sink,
		recovery:  logging.NewRecoveryHandler("store"),
		log:       logging.New("store"),
		observers: make(map[uint64]func(Snapshot)),
	}
	if s.nav == nil {
		s.nav = noNavigator{}
	}
	if s.sink == nil && env.AMQPURL != "" {
		s.sink = events.NewAMQPSink(env.AMQPURL, env.AMQPQueue).Handle
	}

	s.Auth = auth.New(gw, holder, s.bus)
	s.Cart = cart.New(gw, s.bus)
	s.Order = order.New(gw, s.bus)
	s.Feedback = feedback.New(gw, s.bus, s.Auth.UserID)
	s.Products = catalog.New(gw, s.bus)
	gw.SetUnauthorizedHandler(s.unauthorized)

	s.persister = persist.NewPersister(backend, s.Auth, s.Cart, s.Order)
	if err := s.persister.Rehydrate(ctx); err != nil {
		s.log.Warn("rehydrate_partial", nil, err)
	}

	s.cancels = append(s.cancels,
		s.bus.Subscribe(events.Changed, s.persister.Handler()),
		s.bus.Subscribe(events.Changed, s.notify),
		s.bus.Subscribe(events.MutationCompleted, s.refresh),
		s.bus.Subscribe(events.LoggedOut, s.loggedOut),
		s.bus.Subscribe(events.OrderPlaced, s.orderPlaced),
	)
	return s, nil
}

// Start runs the startup cart fetch. It may run without a session, so a 401
// is not an error here and does not log anyone out.
func (s *Store) Start(ctx context.Context) error {
	if err := s.Cart.Bootstrap(ctx); err != nil && !gateway.IsUnauthorized(err) {
		return err
	}
	return nil
}

// Dispatch runs fn as an async task. The returned channel yields fn's error
// (nil on success) and is then closed. Panics become errors.
func (s *Store) Dispatch(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	s.taskMu.Lock()
	if s.closed {
		s.taskMu.Unlock()
		done <- &TaskError{Task: name, Err: ErrClosed}
		close(done)
		return done
	}
	s.tasks.Add(1)
	s.taskMu.Unlock()

	go func() {
		defer s.tasks.Done()
		defer close(done)
		err := s.recovery.WrapError(func() error { return fn(ctx) })
		if err != nil {
			s.log.Debug("task_failed", map[string]interface{}{"task": name, "error": err.Error()})
			err = &TaskError{Task: name, Err: err}
		}
		done <- err
	}()
	return done
}

// Wait blocks until every dispatched task, including refreshes they
// triggered, has finished.
func (s *Store) Wait() {
	s.tasks.Wait()
}

// Subscribe registers an observer called with a fresh Snapshot after every
// slice change. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

// Snapshot reads every slice. The cart total is derived from the items.
func (s *Store) Snapshot() Snapshot {
	c := s.Cart.State()
	return Snapshot{
		Auth:      s.Auth.State(),
		Cart:      c,
		CartTotal: c.Total(),
		Order:     s.Order.State(),
		Feedback:  s.Feedback.State(),
		Products:  s.Products.State(),
	}
}

// Checkout places an order for the current cart contents.
func (s *Store) Checkout(ctx context.Context, address string) error {
	if !s.holder.SignedIn() {
		return ErrNotSignedIn
	}
	return s.Order.Create(ctx, address, s.Cart.State().Items)
}

// SignedIn reports whether a token is held.
func (s *Store) SignedIn() bool {
	return s.holder.SignedIn()
}

// Close waits for running tasks, unsubscribes and releases the backend.
func (s *Store) Close() error {
	s.taskMu.Lock()
	if s.closed {
		s.taskMu.Unlock()
		return nil
	}
	s.closed = true
	s.taskMu.Unlock()

	s.tasks.Wait()
	for _, cancel := range s.cancels {
		cancel()
	}
	return s.backend.Close()
}

func (s *Store) unauthorized(ctx context.Context, token string, apiErr *gateway.APIError) {
	reason := "session expired"
	if apiErr != nil && apiErr.Message != "" {
		reason = apiErr.Message
	}
	if s.Auth.Expire(ctx, token, reason) {
		metrics.RecordForcedLogout()
	}
}

func (s *Store) notify(_ context.Context, _ events.Event) error {
	s.obsMu.RLock()
	fns := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.RUnlock()
	if len(fns) == 0 {
		return nil
	}

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
	return nil
}

// refresh re-reads the resource a mutation touched. Fetches never emit
// MutationCompleted, so this cannot loop.
func (s *Store) refresh(ctx context.Context, ev events.Event) error {
	ctx = context.WithoutCancel(ctx)
	switch ev.Resource {
	case cart.Key:
		s.Dispatch(ctx, "refresh_cart", s.Cart.Fetch)
	case auth.ResourceSession:
		s.Dispatch(ctx, "refresh_profile", s.Auth.FetchProfile)
		s.Dispatch(ctx, "refresh_cart", s.Cart.Fetch)
	case auth.ResourceProfile:
		s.Dispatch(ctx, "refresh_profile", s.Auth.FetchProfile)
	case feedback.Key:
		pid := ev.ProductID
		s.Dispatch(ctx, "refresh_feedback", func(ctx context.Context) error {
			return errors.Join(
				s.Feedback.Fetch(ctx, pid),
				s.Feedback.FetchMine(ctx, pid),
			)
		})
	default:
		s.log.Debug("refresh_ignored", map[string]interface{}{"resource": ev.Resource})
	}
	return nil
}

func (s *Store) loggedOut(ctx context.Context, ev events.Event) error {
	s.Cart.Reset(ctx)
	s.Order.Reset(ctx)
	s.Feedback.Reset(ctx)
	s.nav.RedirectToLogin(ev.Reason)
	return nil
}

func (s *Store) orderPlaced(ctx context.Context, ev events.Event) error {
	if s.sink == nil {
		return nil
	}
	sink := s.sink
	s.Dispatch(context.WithoutCancel(ctx), "order_sink", func(ctx context.Context) error {
		return sink(ctx, ev)
	})
	return nil
}
