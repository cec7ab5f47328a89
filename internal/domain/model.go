// Package domain defines the storefront data model shared by all slices.
package domain

import "encoding/json"

// Profile is the signed-in shopper as reported by the API.
type Profile struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

// Empty reports whether the server returned no profile fields at all.
func (p Profile) Empty() bool {
	return p == Profile{}
}

// Product is a catalog entry. CartItem carries a snapshot of it.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Category    string  `json:"category,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// CartItem is one line of the server-side cart.
type CartItem struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Product   Product `json:"product"`
}

// Subtotal is price times quantity for this line.
func (c CartItem) Subtotal() float64 {
	return c.Product.Price * float64(c.Quantity)
}

// Total sums item subtotals. It is the only way a cart total is produced.
func Total(items []CartItem) float64 {
	var sum float64
	for _, item := range items {
		sum += item.Subtotal()
	}
	return sum
}

// Order is the confirmation returned by a checkout.
type Order struct {
	OrderNumber string `json:"order_number"`
	Status      string `json:"order_status"`
	Date        string `json:"date"`
}

// OrderSummary is one row of the order history.
type OrderSummary struct {
	ID          FlexID  `json:"id"`
	OrderNumber string  `json:"order_number"`
	Date        string  `json:"date"`
	Status      string  `json:"status"`
	Total       float64 `json:"total"`
}

// Feedback is a product review. A provisional entry has TempID set and an
// empty ID until the server confirms it.
type Feedback struct {
	ID        FlexID  `json:"id,omitempty"`
	TempID    string  `json:"temp_id,omitempty"`
	ProductID int64   `json:"product_id"`
	UserID    FlexID  `json:"user_id,omitempty"`
	Rating    float64 `json:"rating"`
	Comment   string  `json:"comment"`
	Pending   bool    `json:"pending,omitempty"`
}

// Provisional reports whether the entry still awaits server confirmation.
func (f Feedback) Provisional() bool {
	return f.ID == "" && f.TempID != ""
}

// Exists reports whether the server returned an actual review.
func (f Feedback) Exists() bool {
	return f.Rating > 0
}

// Key identifies the entry within a list: server id when known, else temp id.
func (f Feedback) Key() string {
	if f.ID != "" {
		return string(f.ID)
	}
	return f.TempID
}

// UnmarshalJSON accepts both product_id and productId, the API uses both.
func (f *Feedback) UnmarshalJSON(data []byte) error {
	type plain Feedback
	aux := struct {
		*plain
		ProductIDCamel *int64 `json:"productId"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if f.ProductID == 0 && aux.ProductIDCamel != nil {
		f.ProductID = *aux.ProductIDCamel
	}
	return nil
}
