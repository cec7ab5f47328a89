// Package testutil provides common test helpers and utilities.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/gateway"
)

// Token signs a JWT whose subject is sub.
func Token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("kotoshop-test"))
	require.NoError(t, err)
	return tok
}

// Reply is one scripted response.
type Reply struct {
	Status int
	Body   string
	Err    error
	// Gate, when set, holds the reply until it is closed.
	Gate chan struct{}
}

// JSON builds a 200 reply from v.
func JSON(v interface{}) Reply {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Reply{Status: 200, Body: string(b)}
}

// Status builds an error reply with a {"message": msg} body.
func Status(code int, msg string) Reply {
	b, _ := json.Marshal(map[string]string{"message": msg})
	return Reply{Status: code, Body: string(b)}
}

// Gated returns r held until gate is closed.
func Gated(r Reply, gate chan struct{}) Reply {
	r.Gate = gate
	return r
}

// Call is one recorded request.
type Call struct {
	Method  string
	Path    string
	Body    string
	Options gateway.CallOptions
}

// Query returns the call's query parameters.
func (c Call) Query() url.Values {
	return c.Options.Query
}

// MockRequester simulates the API for slice tests.
type MockRequester struct {
	mu      sync.Mutex
	routes  map[string][]Reply
	calls   []Call
	started chan Call
}

// NewMockRequester creates a requester with no routes; unscripted calls
// answer 404.
func NewMockRequester() *MockRequester {
	return &MockRequester{
		routes:  make(map[string][]Reply),
		started: make(chan Call, 64),
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// On queues replies for method and path. The last reply repeats.
func (m *MockRequester) On(method, path string, replies ...Reply) *MockRequester {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := routeKey(method, path)
	m.routes[key] = append(m.routes[key], replies...)
	return m
}

// Started delivers each call as it begins, before any gate.
func (m *MockRequester) Started() <-chan Call {
	return m.started
}

// Do implements gateway.Requester.
func (m *MockRequester) Do(ctx context.Context, method, path string, body, out interface{}, opts ...gateway.Option) error {
	call := Call{Method: method, Path: path, Options: gateway.Resolve(opts...)}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		call.Body = string(b)
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	key := routeKey(method, path)
	queue := m.routes[key]
	reply := Reply{Status: 404, Body: `{"message":"not scripted"}`}
	if len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			m.routes[key] = queue[1:]
		}
	}
	m.mu.Unlock()

	select {
	case m.started <- call:
	default:
	}

	if reply.Gate != nil {
		select {
		case <-reply.Gate:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", gateway.ErrTransport, ctx.Err())
		}
	}

	if reply.Err != nil {
		return reply.Err
	}
	if reply.Status < 200 || reply.Status > 299 {
		msg := gjson.Get(reply.Body, "message").String()
		if msg == "" {
			msg = gjson.Get(reply.Body, "error").String()
		}
		return &gateway.APIError{Method: method, Path: path, Status: reply.Status, Message: msg}
	}
	if out == nil {
		return nil
	}
	if reply.Body == "" {
		return fmt.Errorf("%w: %s %s: empty body", gateway.ErrMalformed, method, path)
	}
	if err := json.Unmarshal([]byte(reply.Body), out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", gateway.ErrMalformed, method, path, err)
	}
	return nil
}

// Calls returns every recorded call.
func (m *MockRequester) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount counts calls to method and path.
func (m *MockRequester) CallCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// EventLog collects bus events.
type EventLog struct {
	mu     sync.Mutex
	events []events.Event
}

// RecordEvents subscribes to kinds (all kinds when none are given).
func RecordEvents(bus *events.Bus, kinds ...events.Kind) *EventLog {
	if len(kinds) == 0 {
		kinds = []events.Kind{events.Changed, events.MutationCompleted, events.LoggedOut, events.OrderPlaced}
	}
	l := &EventLog{}
	for _, k := range kinds {
		bus.Subscribe(k, func(_ context.Context, ev events.Event) error {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
			return nil
		})
	}
	return l
}

// Events returns a copy of what was recorded.
func (l *EventLog) Events() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

// Count counts recorded events of kind.
func (l *EventLog) Count(kind events.Kind) int {
	n := 0
	for _, ev := range l.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent event of kind.
func (l *EventLog) Last(kind events.Kind) (events.Event, bool) {
	evs := l.Events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Kind == kind {
			return evs[i], true
		}
	}
	return events.Event{}, false
}

// Eventually waits for cond, failing the test after a second.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond, msg)
}
