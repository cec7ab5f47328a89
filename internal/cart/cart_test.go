package cart

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/gateway"
	"github.com/joss/kotoshop/internal/state"
	"github.com/joss/kotoshop/internal/testutil"
)

var cat = domain.Product{ID: 7, Name: "Cat bed", Price: 25.0}

func items(lines ...domain.CartItem) map[string]interface{} {
	if lines == nil {
		lines = []domain.CartItem{}
	}
	return map[string]interface{}{"items": lines}
}

func line(p domain.Product, qty int) domain.CartItem {
	return domain.CartItem{ProductID: p.ID, Quantity: qty, Product: p}
}

func setup(t *testing.T) (*Slice, *testutil.MockRequester, *testutil.EventLog) {
	t.Helper()
	api := testutil.NewMockRequester()
	bus := events.NewBus()
	return New(api, bus), api, testutil.RecordEvents(bus)
}

func TestAddDerivesTotal(t *testing.T) {
	s, api, _ := setup(t)
	api.On(http.MethodPost, "/cart/add_product", testutil.JSON(items(line(cat, 2))))

	require.NoError(t, s.Add(context.Background(), 7, 2))

	st := s.State()
	assert.Equal(t, 50.0, st.Total())
	assert.Equal(t, 2, st.Count())
	assert.Equal(t, state.Succeeded, st.Status)
	assert.JSONEq(t, `{"product_id":7,"quantity":2}`, api.Calls()[0].Body)
}

func TestTotalHoldsAfterEveryMutation(t *testing.T) {
	s, api, _ := setup(t)
	mouse := domain.Product{ID: 3, Price: 4.5}
	api.On(http.MethodPost, "/cart/add_product",
		testutil.JSON(items(line(cat, 1))),
		testutil.JSON(items(line(cat, 1), line(mouse, 3))),
	)
	api.On(http.MethodPut, "/cart/remove_product", testutil.JSON(items(line(mouse, 3))))
	api.On(http.MethodDelete, "/cart/clean_cart", testutil.JSON(items()))

	check := func() {
		st := s.State()
		var want float64
		for _, it := range st.Items {
			want += it.Product.Price * float64(it.Quantity)
		}
		assert.InDelta(t, want, st.Total(), 1e-9)
	}

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, 7, 1))
	check()
	require.NoError(t, s.Add(ctx, 3, 3))
	check()
	assert.Equal(t, 38.5, s.State().Total())
	require.NoError(t, s.Remove(ctx, 7))
	check()
	require.NoError(t, s.Clear(ctx))
	check()
	assert.Empty(t, s.State().Items)
}

func TestMutationWithoutItemsAsksForRefresh(t *testing.T) {
	s, api, log := setup(t)
	s.st.Items = []domain.CartItem{line(cat, 1)}
	api.On(http.MethodPut, "/cart/remove_product", testutil.JSON(map[string]string{"message": "item deleted successfully"}))

	require.NoError(t, s.Remove(context.Background(), 7))

	assert.Len(t, s.State().Items, 1, "items are never guessed locally")
	assert.Equal(t, state.Succeeded, s.State().Status)
	ev, ok := log.Last(events.MutationCompleted)
	require.True(t, ok)
	assert.Equal(t, Key, ev.Resource)
}

func TestFailedMutationKeepsItems(t *testing.T) {
	s, api, log := setup(t)
	s.st.Items = []domain.CartItem{line(cat, 1)}
	api.On(http.MethodPost, "/cart/add_product", testutil.Status(http.StatusNotFound, "product not found"))

	err := s.Add(context.Background(), 99, 1)

	assert.ErrorIs(t, err, gateway.ErrStatus)
	st := s.State()
	assert.Len(t, st.Items, 1)
	assert.Equal(t, 25.0, st.Total())
	assert.Equal(t, state.Failed, st.Status)
	assert.Equal(t, "product not found", st.Error)
	assert.Zero(t, log.Count(events.MutationCompleted))
}

func TestValidation(t *testing.T) {
	s, api, _ := setup(t)
	ctx := context.Background()

	assert.True(t, domain.IsInvalid(s.Add(ctx, 0, 1)))
	assert.True(t, domain.IsInvalid(s.Add(ctx, 7, 0)))
	assert.True(t, domain.IsInvalid(s.Remove(ctx, -1)))
	assert.Empty(t, api.Calls())
	assert.Equal(t, state.Idle, s.State().Status)
}

func TestBootstrapSkipsIntercept(t *testing.T) {
	s, api, _ := setup(t)
	api.On(http.MethodGet, "/cart/get_cart", testutil.JSON(items(line(cat, 1))), testutil.JSON(map[string]interface{}{}))

	require.NoError(t, s.Bootstrap(context.Background()))
	require.NoError(t, s.Fetch(context.Background()))

	calls := api.Calls()
	assert.True(t, calls[0].Options.SkipIntercept)
	assert.False(t, calls[1].Options.SkipIntercept)
	assert.NotNil(t, s.State().Items, "missing items decode as empty")
	assert.Empty(t, s.State().Items)
}

func TestStaleResponseDiscarded(t *testing.T) {
	s, api, _ := setup(t)
	slow := make(chan struct{})
	api.On(http.MethodGet, "/cart/get_cart",
		testutil.Gated(testutil.JSON(items(line(cat, 1))), slow),
		testutil.JSON(items(line(cat, 3))),
	)

	done := make(chan error, 1)
	go func() { done <- s.Fetch(context.Background()) }()
	<-api.Started()

	require.NoError(t, s.Fetch(context.Background()))
	assert.Equal(t, 75.0, s.State().Total())

	close(slow)
	require.NoError(t, <-done)

	st := s.State()
	assert.Equal(t, 75.0, st.Total(), "older response must not overwrite the newer one")
	assert.Equal(t, state.Succeeded, st.Status)
}

func TestLoadingKeepsLastSnapshot(t *testing.T) {
	s, api, _ := setup(t)
	slow := make(chan struct{})
	api.On(http.MethodGet, "/cart/get_cart",
		testutil.JSON(items(line(cat, 1))),
		testutil.Gated(testutil.JSON(items(line(cat, 2))), slow),
	)

	require.NoError(t, s.Fetch(context.Background()))

	s2done := make(chan error, 1)
	go func() { s2done <- s.Fetch(context.Background()) }()
	<-api.Started()
	<-api.Started()
	assert.Equal(t, state.Loading, s.State().Status)
	assert.Equal(t, 25.0, s.State().Total(), "last successful snapshot stays visible")

	close(slow)
	require.NoError(t, <-s2done)
	assert.Equal(t, 50.0, s.State().Total())
}

func TestPersistRestore(t *testing.T) {
	s, api, _ := setup(t)
	api.On(http.MethodPost, "/cart/add_product", testutil.JSON(items(line(cat, 2))))
	require.NoError(t, s.Add(context.Background(), 7, 2))

	data, err := s.Persisted()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "total")

	fresh, freshAPI, _ := setup(t)
	require.NoError(t, fresh.Restore(data))

	assert.Equal(t, s.State().Items, fresh.State().Items)
	assert.Equal(t, 50.0, fresh.State().Total())
	assert.Empty(t, freshAPI.Calls())
}

func TestReset(t *testing.T) {
	s, _, _ := setup(t)
	s.st.Items = []domain.CartItem{line(cat, 1)}

	s.Reset(context.Background())

	assert.Empty(t, s.State().Items)
	assert.Equal(t, state.Idle, s.State().Status)
}
