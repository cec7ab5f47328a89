package order

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/events"
	"github.com/joss/kotoshop/internal/state"
	"github.com/joss/kotoshop/internal/testutil"
)

const address = "Москва, Тверская, 12, 5"

var snapshot = []domain.CartItem{{ProductID: 7, Quantity: 2, Product: domain.Product{ID: 7, Price: 25}}}

func setup(t *testing.T) (*Slice, *testutil.MockRequester, *testutil.EventLog) {
	t.Helper()
	api := testutil.NewMockRequester()
	bus := events.NewBus()
	return New(api, bus), api, testutil.RecordEvents(bus)
}

func TestCreate(t *testing.T) {
	s, api, log := setup(t)
	api.On(http.MethodPost, "/order/create", testutil.JSON(map[string]string{
		"order_number": "ORD-2025-0042", "order_status": "created", "date": "2025-05-01",
	}))

	require.NoError(t, s.Create(context.Background(), address, snapshot))

	st := s.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, "ORD-2025-0042", st.Current.OrderNumber)
	assert.Equal(t, "created", st.Current.Status)
	assert.Equal(t, state.Succeeded, st.Status)
	assert.JSONEq(t, `{"address":"`+address+`"}`, api.Calls()[0].Body)

	placed, ok := log.Last(events.OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, "ORD-2025-0042", placed.Order.OrderNumber)
	refresh, ok := log.Last(events.MutationCompleted)
	require.True(t, ok)
	assert.Equal(t, "cart", refresh.Resource)
}

func TestCreateValidation(t *testing.T) {
	s, api, _ := setup(t)

	assert.ErrorIs(t, s.Create(context.Background(), address, nil), domain.ErrInvalid)
	assert.True(t, domain.IsInvalid(s.Create(context.Background(), "somewhere", snapshot)))
	assert.Empty(t, api.Calls())
	assert.Equal(t, state.Idle, s.State().Status)
}

func TestCreateFailure(t *testing.T) {
	s, api, log := setup(t)
	s.st.Current = &domain.Order{OrderNumber: "ORD-1"}
	api.On(http.MethodPost, "/order/create", testutil.Status(http.StatusInternalServerError, "payment down"))

	assert.Error(t, s.Create(context.Background(), address, snapshot))

	st := s.State()
	assert.Equal(t, "ORD-1", st.Current.OrderNumber, "prior data stays visible")
	assert.Equal(t, "payment down", st.Error)
	assert.Equal(t, state.Failed, st.Status)
	assert.Zero(t, log.Count(events.OrderPlaced))
}

func TestFetchHistory(t *testing.T) {
	s, api, _ := setup(t)
	api.On(http.MethodGet, "/order/get_all", testutil.JSON(map[string]interface{}{
		"orders": []map[string]interface{}{
			{"id": 1, "order_number": "ORD-1", "date": "2025-04-01", "status": "paid", "total": 53.99},
			{"id": "2", "order_number": "ORD-2", "date": "2025-04-02", "status": "created", "total": 10},
		},
	}))

	require.NoError(t, s.FetchHistory(context.Background()))

	h := s.State().History
	require.Len(t, h, 2)
	assert.Equal(t, domain.FlexID("1"), h[0].ID)
	assert.Equal(t, 53.99, h[0].Total)
	assert.Equal(t, domain.FlexID("2"), h[1].ID)
}

func TestStatusWaitsForEveryRequest(t *testing.T) {
	s, api, _ := setup(t)
	gate := make(chan struct{})
	api.On(http.MethodPost, "/order/create", testutil.Gated(testutil.JSON(map[string]string{
		"order_number": "ORD-3", "order_status": "created", "date": "2025-05-02",
	}), gate))
	api.On(http.MethodGet, "/order/get_all", testutil.JSON(map[string]interface{}{"orders": []interface{}{}}))

	done := make(chan error, 1)
	go func() { done <- s.Create(context.Background(), address, snapshot) }()
	<-api.Started()

	require.NoError(t, s.FetchHistory(context.Background()))
	assert.Equal(t, state.Loading, s.State().Status, "checkout still in flight")

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, state.Succeeded, s.State().Status)
	assert.Equal(t, "ORD-3", s.State().Current.OrderNumber)
}

func TestPersistRestore(t *testing.T) {
	s, _, _ := setup(t)
	s.st = State{Current: &domain.Order{OrderNumber: "ORD-7"}, Status: state.Loading}

	data, err := s.Persisted()
	require.NoError(t, err)

	fresh, _, _ := setup(t)
	require.NoError(t, fresh.Restore(data))
	assert.Equal(t, "ORD-7", fresh.State().Current.OrderNumber)
	assert.Equal(t, state.Idle, fresh.State().Status)

	fresh.Reset(context.Background())
	assert.Nil(t, fresh.State().Current)
}
