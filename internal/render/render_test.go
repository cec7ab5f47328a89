package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/kotoshop/internal/auth"
	"github.com/joss/kotoshop/internal/cart"
	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/feedback"
	"github.com/joss/kotoshop/internal/order"
	"github.com/joss/kotoshop/internal/state"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Header("orders (%d)", 2)
	w.Item("%s", "one")
	w.Nested("%s", "detail")

	assert.Equal(t, "ORDERS (2)\n\n  one\n    └─ detail\n", buf.String())
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "Кот", Truncate("Кот", 5))
	assert.Equal(t, "Котик...", Truncate("Котик учёный", 8))
	assert.Equal(t, "Ко", Truncate("Кот", 2))
}

func TestStars(t *testing.T) {
	assert.Equal(t, "★★★★☆", Stars(4))
	assert.Equal(t, "★★★⯪☆", Stars(3.5))
	assert.Equal(t, "☆☆☆☆☆", Stars(0))
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✓", StatusIcon(state.Succeeded))
	assert.Equal(t, "✗", StatusIcon(state.Failed))
	assert.Equal(t, "•", StatusIcon(state.Idle))
}

func TestCartShowsDerivedTotal(t *testing.T) {
	r := New(false)
	out := r.Cart(cart.State{Items: []domain.CartItem{
		{ProductID: 7, Quantity: 2, Product: domain.Product{ID: 7, Name: "Scratching post", Price: 25}},
	}})

	assert.Contains(t, out, "Cart (2 items)")
	assert.Contains(t, out, "50.00")
	assert.Equal(t, "Cart is empty\n", r.Cart(cart.State{}))
}

func TestPriceRoundsForDisplay(t *testing.T) {
	assert.Equal(t, "1.00", Price(0.9990000000000001))
	assert.Equal(t, "54.00", Price(53.999))
	assert.Equal(t, "20.29", Price(20.29))

	out := New(false).Cart(cart.State{Items: []domain.CartItem{
		{ProductID: 1, Quantity: 3, Product: domain.Product{ID: 1, Name: "Catnip", Price: 0.333}},
	}})
	assert.Contains(t, out, "1.00")
}

func TestFailureShown(t *testing.T) {
	out := New(false).Cart(cart.State{Status: state.Failed, Error: "db down"})
	assert.True(t, strings.HasPrefix(out, "error: db down\n"))
}

func TestProfile(t *testing.T) {
	r := New(false)
	assert.Equal(t, "Not signed in\n", r.Profile(auth.State{}))

	out := r.Profile(auth.State{Token: "t", User: &domain.Profile{FirstName: "Мурзик", Email: "cat@kotoshop.dev"}})
	assert.Contains(t, out, "Мурзик")
	assert.Contains(t, out, "cat@kotoshop.dev")
	assert.NotContains(t, out, "Phone")
}

func TestFeedbackMarksPending(t *testing.T) {
	out := New(false).Feedback(feedback.State{ProductID: 7, Items: []domain.Feedback{
		{ID: "3", Rating: 5, Comment: "great"},
		{TempID: "tmp-1", Rating: 4, Comment: "ok", Pending: true},
	}})

	assert.Contains(t, out, "[3] ★★★★★ great\n")
	assert.Contains(t, out, "[tmp-1] ★★★★☆ ok (pending)\n")
}

func TestOrders(t *testing.T) {
	r := New(false)
	assert.Equal(t, "No orders found\n", r.Orders(order.State{}))

	out := r.Orders(order.State{
		Current: &domain.Order{OrderNumber: "KS-101", Status: "created", Date: "2026-10-19"},
		History: []domain.OrderSummary{{OrderNumber: "KS-101", Status: "created", Total: 53.999}},
	})
	assert.Contains(t, out, "Order KS-101 created")
	assert.Contains(t, out, "54.00")
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "JSON": FormatJSON, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestEncodeYAMLKeepsJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	v := cart.State{Status: state.Succeeded, Items: []domain.CartItem{
		{ProductID: 7, Quantity: 2, Product: domain.Product{ID: 7, Name: "Scratching post", Price: 25}},
	}}
	require.NoError(t, Encode(&buf, FormatYAML, v))

	out := buf.String()
	assert.Contains(t, out, "product_id: 7")
	assert.Contains(t, out, "name: Scratching post")
	assert.Contains(t, out, "status: succeeded")
	assert.Less(t, strings.Index(out, "items:"), strings.Index(out, "status:"), "field order follows the struct")
	assert.NotContains(t, out, "{")
}

func TestEncodeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a":1}`, buf.String())

	assert.Error(t, Encode(&buf, FormatText, nil))
}
