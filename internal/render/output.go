package render

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/joss/kotoshop/internal/auth"
	"github.com/joss/kotoshop/internal/cart"
	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/feedback"
	"github.com/joss/kotoshop/internal/metrics"
	"github.com/joss/kotoshop/internal/order"
	"github.com/joss/kotoshop/internal/state"
)

// Renderer formats slices as text. With pretty set it uses color and rules.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

func (r *Renderer) title(sb *strings.Builder, title string, width int) {
	if r.pretty {
		sb.WriteString(color.CyanString(title) + "\n")
		sb.WriteString(strings.Repeat("─", width) + "\n")
		return
	}
	sb.WriteString(title + "\n")
}

func (r *Renderer) failure(sb *strings.Builder, status state.Status, msg string) {
	if status != state.Failed || msg == "" {
		return
	}
	if r.pretty {
		fmt.Fprintf(sb, "%s %s\n", color.RedString("✗"), color.RedString(msg))
		return
	}
	fmt.Fprintf(sb, "error: %s\n", msg)
}

// Products formats a product list.
func (r *Renderer) Products(items []domain.Product) string {
	if len(items) == 0 {
		return "No products found"
	}
	var sb strings.Builder
	r.title(&sb, fmt.Sprintf("Products (%d)", len(items)), 60)
	for _, p := range items {
		if r.pretty {
			fmt.Fprintf(&sb, "%s %-32s %10s  %s\n",
				color.HiBlackString("#%-4d", p.ID),
				Truncate(p.Name, 32),
				color.GreenString(Price(p.Price)),
				color.HiBlackString(p.Category))
		} else {
			fmt.Fprintf(&sb, "%d\t%s\t%s\t%s\n", p.ID, p.Name, Price(p.Price), p.Category)
		}
	}
	return sb.String()
}

// Cart formats the cart with its derived total.
func (r *Renderer) Cart(st cart.State) string {
	var sb strings.Builder
	r.failure(&sb, st.Status, st.Error)
	if len(st.Items) == 0 {
		sb.WriteString("Cart is empty\n")
		return sb.String()
	}
	r.title(&sb, fmt.Sprintf("Cart (%d items)", st.Count()), 60)
	for _, it := range st.Items {
		name := it.Product.Name
		if name == "" {
			name = fmt.Sprintf("product %d", it.ProductID)
		}
		fmt.Fprintf(&sb, "  %-32s x%-3d %10s\n", Truncate(name, 32), it.Quantity, Price(it.Subtotal()))
	}
	total := Price(st.Total())
	if r.pretty {
		total = color.New(color.Bold).Sprint(total)
	}
	fmt.Fprintf(&sb, "  %-37s %10s\n", "Total", total)
	return sb.String()
}

// Profile formats the signed-in shopper.
func (r *Renderer) Profile(st auth.State) string {
	var sb strings.Builder
	r.failure(&sb, st.Status, st.Error)
	if !st.SignedIn() {
		sb.WriteString("Not signed in\n")
		return sb.String()
	}
	if st.User == nil {
		sb.WriteString("Signed in (profile not loaded)\n")
		return sb.String()
	}
	u := st.User
	r.title(&sb, "Profile", 40)
	fmt.Fprintf(&sb, "  Name:  %s %s\n", u.FirstName, u.LastName)
	fmt.Fprintf(&sb, "  Email: %s\n", u.Email)
	if u.PhoneNumber != "" {
		fmt.Fprintf(&sb, "  Phone: %s\n", u.PhoneNumber)
	}
	return sb.String()
}

// Orders formats the order history and the latest confirmation.
func (r *Renderer) Orders(st order.State) string {
	var sb strings.Builder
	r.failure(&sb, st.Status, st.Error)
	if c := st.Current; c != nil {
		line := fmt.Sprintf("Order %s %s (%s)", c.OrderNumber, c.Status, c.Date)
		if r.pretty {
			line = color.GreenString("✓ ") + line
		}
		sb.WriteString(line + "\n")
	}
	if len(st.History) == 0 {
		if st.Current == nil {
			sb.WriteString("No orders found\n")
		}
		return sb.String()
	}
	r.title(&sb, fmt.Sprintf("Orders (%d)", len(st.History)), 60)
	for _, o := range st.History {
		fmt.Fprintf(&sb, "  %-14s %-10s %-25s %10s\n", o.OrderNumber, o.Status, o.Date, Price(o.Total))
	}
	return sb.String()
}

// Feedback formats the reviews of one product. Unconfirmed entries are marked.
func (r *Renderer) Feedback(st feedback.State) string {
	var sb strings.Builder
	r.failure(&sb, st.Status, st.Error)
	if len(st.Items) == 0 {
		sb.WriteString("No feedback yet\n")
		return sb.String()
	}
	r.title(&sb, fmt.Sprintf("Feedback for product %d (%d)", st.ProductID, len(st.Items)), 60)
	for _, f := range st.Items {
		marker := ""
		if f.Pending {
			marker = " (pending)"
			if r.pretty {
				marker = color.YellowString(marker)
			}
		}
		stars := Stars(f.Rating)
		if r.pretty {
			stars = color.YellowString(stars)
		}
		fmt.Fprintf(&sb, "  [%s] %s %s%s\n", f.Key(), stars, Truncate(f.Comment, 60), marker)
	}
	return sb.String()
}

// Stats formats per-endpoint request counters.
func (r *Renderer) Stats(stats []metrics.EndpointStat, forced int64) string {
	var sb strings.Builder
	r.title(&sb, "Requests", 60)
	if len(stats) == 0 {
		sb.WriteString("  none\n")
	}
	for _, s := range stats {
		fmt.Fprintf(&sb, "  %-7s %-32s %-9s %d\n", s.Method, s.Path, s.Status, s.Count)
	}
	if forced > 0 {
		fmt.Fprintf(&sb, "  forced logouts: %d\n", forced)
	}
	return sb.String()
}
