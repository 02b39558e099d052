package order

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/fjod/go_store/internal/domain"
)

const (
	DefaultMinCode           = 1000
	DefaultMaxCode           = 9999
	DefaultMaxRandomAttempts = 20
)

// CodeChecker reports whether an order code is already taken.
type CodeChecker interface {
	OrderCodeExists(ctx context.Context, code int) (bool, error)
}

// CodeGenerator hands out short numeric order codes from [Min, Max].
// Random draws keep codes hard to guess; once the space gets crowded a
// scan guarantees termination.
type CodeGenerator struct {
	Min               int
	Max               int
	MaxRandomAttempts int

	intN func(n int) int
}

func NewCodeGenerator(lo, hi, attempts int) (*CodeGenerator, error) {
	if lo <= 0 || hi < lo {
		return nil, fmt.Errorf("invalid order code range [%d, %d]", lo, hi)
	}
	if attempts < 0 {
		attempts = 0
	}
	return &CodeGenerator{Min: lo, Max: hi, MaxRandomAttempts: attempts, intN: rand.Intn}, nil
}

// Generate returns a code no existing order uses, or
// domain.ErrOrderCodesExhausted when every code in range is taken.
// The returned code is only a candidate; the unique constraint on
// insert is what finally decides.
func (g *CodeGenerator) Generate(ctx context.Context, checker CodeChecker) (int, error) {
	span := g.Max - g.Min + 1
	intN := g.intN
	if intN == nil {
		intN = rand.Intn
	}

	for i := 0; i < g.MaxRandomAttempts; i++ {
		code := g.Min + intN(span)
		taken, err := checker.OrderCodeExists(ctx, code)
		if err != nil {
			return 0, fmt.Errorf("check order code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	start := intN(span)
	for i := 0; i < span; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		code := g.Min + (start+i)%span
		taken, err := checker.OrderCodeExists(ctx, code)
		if err != nil {
			return 0, fmt.Errorf("check order code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return 0, domain.ErrOrderCodesExhausted
}
