// Package render formats storefront state for the terminal.
// Commands build state; this package only presents it.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joss/kotoshop/internal/state"
)

// Writer wraps an io.Writer with line-oriented helpers.
type Writer struct {
	out io.Writer
}

// NewWriter creates a Writer that writes to the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Stdout returns a Writer that writes to os.Stdout.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// Stderr returns a Writer that writes to os.Stderr.
func Stderr() *Writer {
	return NewWriter(os.Stderr)
}

// Print writes formatted text.
func (w *Writer) Print(format string, args ...any) {
	fmt.Fprintf(w.out, format, args...)
}

// Println writes formatted text with newline.
func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Line writes a blank line.
func (w *Writer) Line() {
	fmt.Fprintln(w.out)
}

// Header writes an upper-cased title followed by a blank line.
func (w *Writer) Header(title string, args ...any) {
	if len(args) > 0 {
		title = fmt.Sprintf(title, args...)
	}
	fmt.Fprintln(w.out, strings.ToUpper(title))
	fmt.Fprintln(w.out)
}

// Section writes a section header.
func (w *Writer) Section(title string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, strings.ToUpper(title)+":")
}

// Item writes an indented item line.
func (w *Writer) Item(format string, args ...any) {
	fmt.Fprintf(w.out, "  "+format+"\n", args...)
}

// Nested writes a nested item with tree connector.
func (w *Writer) Nested(format string, args ...any) {
	fmt.Fprintf(w.out, "    └─ "+format+"\n", args...)
}

// Empty writes an empty state message.
func (w *Writer) Empty(msg string) {
	fmt.Fprintln(w.out, msg)
}

// StatusIcon returns the icon for a slice status.
func StatusIcon(s state.Status) string {
	switch s {
	case state.Succeeded:
		return "✓"
	case state.Failed:
		return "✗"
	case state.Loading:
		return "…"
	default:
		return "•"
	}
}

// BoolIcon returns icon for boolean.
func BoolIcon(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}

// Truncate shortens s to max runes.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// Stars draws a rating out of five, half stars rounded up.
func Stars(rating float64) string {
	full := int(rating)
	half := rating-float64(full) >= 0.5
	var sb strings.Builder
	for i := 0; i < 5; i++ {
		switch {
		case i < full:
			sb.WriteString("★")
		case i == full && half:
			sb.WriteString("⯪")
		default:
			sb.WriteString("☆")
		}
	}
	return sb.String()
}

// Price formats an amount with two decimals.
func Price(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
