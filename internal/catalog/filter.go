package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/joss/kotoshop/internal/domain"
)

// Filter evaluates boolean product expressions. Compiled programs are cached
// per expression text.
type Filter struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewFilter creates a filter with an empty program cache.
func NewFilter() *Filter {
	return &Filter{programs: make(map[string]*vm.Program)}
}

func productEnv(p domain.Product) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"category":    p.Category,
		"image_url":   p.ImageURL,
		"lower":       strings.ToLower,
		"contains":    func(s, sub string) bool { return strings.Contains(strings.ToLower(s), strings.ToLower(sub)) },
	}
}

// Compile returns the cached program for expression, compiling it on first use.
func (f *Filter) Compile(expression string) (*vm.Program, error) {
	f.mu.RLock()
	program, ok := f.programs[expression]
	f.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(productEnv(domain.Product{})), expr.AsBool())
	if err != nil {
		return nil, domain.Invalid("filter", err.Error())
	}
	f.mu.Lock()
	f.programs[expression] = program
	f.mu.Unlock()
	return program, nil
}

// Cached reports how many programs are cached.
func (f *Filter) Cached() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.programs)
}

// Apply keeps the products for which expression is true.
func (f *Filter) Apply(expression string, items []domain.Product) ([]domain.Product, error) {
	program, err := f.Compile(expression)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(items))
	for _, p := range items {
		res, err := expr.Run(program, productEnv(p))
		if err != nil {
			return nil, fmt.Errorf("filter %q on product %d: %w", expression, p.ID, err)
		}
		if keep, _ := res.(bool); keep {
			out = append(out, p)
		}
	}
	return out, nil
}
