package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/session"
)

type captured struct {
	method, path, query, auth, reqID, body string
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, *[]captured) {
	t.Helper()
	var mu sync.Mutex
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, captured{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			reqID:  r.Header.Get("X-Request-ID"),
			body:   string(b),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newGateway(t *testing.T, base string, tokens session.TokenSource, onUnauth UnauthorizedFunc) *Gateway {
	t.Helper()
	g, err := New(Config{BaseURL: base + "/api/", Tokens: tokens, OnUnauthorized: onUnauth})
	require.NoError(t, err)
	return g
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "localhost:8080"})
	assert.Error(t, err)

	g, err := New(Config{BaseURL: "http://shop.test/api/"})
	require.NoError(t, err)
	assert.Equal(t, "http://shop.test/api", g.BaseURL())
}

func TestDoAttachesTokenAndDecodes(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"token": "abc"}`)
	h := session.NewHolder()
	h.Set("tok-1")
	g := newGateway(t, srv.URL, h, nil)

	var out struct{ Token string }
	err := g.Do(context.Background(), http.MethodPost, "/auth/login", map[string]string{"email": "a@b.co"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "abc", out.Token)
	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "POST", c.method)
	assert.Equal(t, "/api/auth/login", c.path)
	assert.Equal(t, "Bearer tok-1", c.auth)
	assert.NotEmpty(t, c.reqID)
	assert.JSONEq(t, `{"email": "a@b.co"}`, c.body)
}

func TestDoPropagatesRequestID(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{}`)
	g := newGateway(t, srv.URL, nil, nil)

	ctx := logging.WithRequestID(context.Background(), "req-42")
	require.NoError(t, g.Get(ctx, "cart/get_cart", nil))
	assert.Equal(t, "req-42", (*calls)[0].reqID)
}

func TestDoAnonymousAndQuery(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `[]`)
	h := session.NewHolder()
	h.Set("tok-1")
	g := newGateway(t, srv.URL, h, nil)

	var out []json.RawMessage
	require.NoError(t, g.Get(context.Background(), "/feedback/get_all", &out, Anonymous(), ProductQuery(7)))

	c := (*calls)[0]
	assert.Empty(t, c.auth)
	assert.Equal(t, "product_id=7", c.query)
}

func TestDoNoTokenWhenAnonymousSession(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{}`)
	g := newGateway(t, srv.URL, session.NewHolder(), nil)

	require.NoError(t, g.Get(context.Background(), "/cart/get_cart", nil))
	assert.Empty(t, (*calls)[0].auth)
}

func TestDoRejectsAbsolutePath(t *testing.T) {
	g := newGateway(t, "http://localhost", nil, nil)
	assert.Error(t, g.Get(context.Background(), "http://evil.test/x", nil))
}

func TestDoStatusError(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, `{"error": "Product not found"}`)
	g := newGateway(t, srv.URL, nil, nil)

	err := g.Do(context.Background(), http.MethodPost, "/cart/add_product", map[string]int{"product_id": 1}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatus)
	assert.False(t, IsUnauthorized(err))
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	assert.Equal(t, "Product not found", Message(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "/cart/add_product", apiErr.Path)
}

func TestServerMessage(t *testing.T) {
	assert.Equal(t, "m", serverMessage([]byte(`{"message": "m", "error": "e"}`)))
	assert.Equal(t, "e", serverMessage([]byte(`{"error": "e"}`)))
	assert.Equal(t, "", serverMessage([]byte(`{"code": 3}`)))
	assert.Equal(t, "Bad Gateway", serverMessage([]byte("  Bad Gateway\n")))
}

func TestDoMalformed(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `<html>`)
	g := newGateway(t, srv.URL, nil, nil)

	var out map[string]interface{}
	err := g.Get(context.Background(), "/products/get_all", &out)
	assert.ErrorIs(t, err, ErrMalformed)

	empty, _ := newServer(t, http.StatusOK, ``)
	g = newGateway(t, empty.URL, nil, nil)
	assert.ErrorIs(t, g.Get(context.Background(), "/products/get_all", &out), ErrMalformed)
	assert.NoError(t, g.Get(context.Background(), "/products/get_all", nil))
}

func TestDoTransport(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	g := newGateway(t, url, nil, nil)
	err := g.Get(context.Background(), "/cart/get_cart", nil)
	assert.True(t, IsTransport(err))
	assert.Equal(t, 0, StatusOf(err))
}

type failingClient struct{ calls int }

func (f *failingClient) Do(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, errors.New("connection reset")
}

func TestDoNeverRetries(t *testing.T) {
	client := &failingClient{}
	g, err := New(Config{BaseURL: "http://shop.test", Client: client})
	require.NoError(t, err)

	assert.ErrorIs(t, g.Get(context.Background(), "/cart/get_cart", nil), ErrTransport)
	assert.Equal(t, 1, client.calls)
}

func TestUnauthorizedIntercepted(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, `{"message": "token expired"}`)
	h := session.NewHolder()
	h.Set("old")

	var gotToken string
	var gotErr *APIError
	calls := 0
	g := newGateway(t, srv.URL, h, func(ctx context.Context, token string, err *APIError) {
		calls++
		gotToken = token
		gotErr = err
	})

	err := g.Get(context.Background(), "/auth/profile", nil)

	assert.True(t, IsUnauthorized(err), "error still propagates")
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "old", gotToken)
	assert.Equal(t, "token expired", gotErr.Message)
}

func TestUnauthorizedSkipIntercept(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, `{}`)
	calls := 0
	g := newGateway(t, srv.URL, nil, func(context.Context, string, *APIError) { calls++ })

	err := g.Get(context.Background(), "/cart/get_cart", nil, SkipAuthIntercept())

	assert.True(t, IsUnauthorized(err))
	assert.Zero(t, calls)
}

func TestRateLimit(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{}`)
	g, err := New(Config{BaseURL: srv.URL, RateLimit: 1000, RateBurst: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Get(context.Background(), "/products/get_all", nil))
	}
	assert.Len(t, *calls, 3)

	slow, err := New(Config{BaseURL: srv.URL, RateLimit: 0.001, RateBurst: 1})
	require.NoError(t, err)
	require.NoError(t, slow.Get(context.Background(), "/products/get_all", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, slow.Get(ctx, "/products/get_all", nil), ErrTransport)
}

func TestResolve(t *testing.T) {
	o := Resolve(SkipAuthIntercept(), ProductQuery(3), Query("x", "y"))
	assert.True(t, o.SkipIntercept)
	assert.False(t, o.Anonymous)
	assert.Equal(t, "3", o.Query.Get("product_id"))
	assert.Equal(t, "y", o.Query.Get("x"))
}
