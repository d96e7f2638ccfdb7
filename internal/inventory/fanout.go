package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

type Op string

const (
	OpDecrement Op = "decrement"
	OpIncrement Op = "increment"
)

// Line is one product quantity to move.
type Line struct {
	ProductID string
	Quantity  int
}

// StockError records a single failed line so callers can report which products need reconciliation.
type StockError struct {
	Op        Op
	ProductID string
	Quantity  int
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s stock for product %s by %d: %v", e.Op, e.ProductID, e.Quantity, e.Err)
}

func (e *StockError) Unwrap() error {
	return e.Err
}

// DecrementAll applies every line independently and aggregates failures.
func DecrementAll(ctx context.Context, l Ledger, lines []Line) error {
	return fanOut(ctx, OpDecrement, lines, l.Decrement)
}

// IncrementAll applies every line independently and aggregates failures.
func IncrementAll(ctx context.Context, l Ledger, lines []Line) error {
	return fanOut(ctx, OpIncrement, lines, l.Increment)
}

func fanOut(ctx context.Context, op Op, lines []Line, apply func(context.Context, string, int) error) error {
	var combined error
	for _, line := range lines {
		if err := apply(ctx, line.ProductID, line.Quantity); err != nil {
			combined = multierr.Append(combined, &StockError{Op: op, ProductID: line.ProductID, Quantity: line.Quantity, Err: err})
		}
	}
	return combined
}

// FailedLines extracts the per-line failures from an aggregate returned by DecrementAll or IncrementAll.
func FailedLines(err error) []StockError {
	var out []StockError
	for _, e := range multierr.Errors(err) {
		var stockErr *StockError
		if errors.As(e, &stockErr) {
			out = append(out, *stockErr)
		}
	}
	return out
}
