package pricing

import (
	"errors"
	"fmt"
)

// ErrInvalidUnitCount is returned when a cost calculation is attempted with
// a negative input or output unit count.
var ErrInvalidUnitCount = errors.New("invalid unit count")

// Calculator computes the cost of a completed unit of work from a pricing
// table. It is a pure function over its table: no I/O, no side effects.
//
// The calculator is agnostic to how units were counted. Callers may use a
// whitespace approximation, an exact tokenizer, or upstream-reported usage;
// the calculator only multiplies rates.
type Calculator struct {
	table *Table
}

// NewCalculator creates a calculator over the given table.
// A nil table falls back to the built-in default table.
func NewCalculator(table *Table) *Calculator {
	if table == nil {
		table = DefaultTable()
	}
	return &Calculator{table: table}
}

// Cost returns the cost in USD for a unit of work against a model.
//
// Known models cost inputUnits*inputRate + outputUnits*outputRate. Unknown
// models fall back to (inputUnits + outputUnits) * the table's default
// flat rate. Negative unit counts are rejected with ErrInvalidUnitCount.
func (c *Calculator) Cost(model string, inputUnits, outputUnits int) (float64, error) {
	if inputUnits < 0 || outputUnits < 0 {
		return 0, fmt.Errorf("%w: input=%d output=%d", ErrInvalidUnitCount, inputUnits, outputUnits)
	}

	entry, ok := c.table.Lookup(model)
	if !ok {
		return float64(inputUnits+outputUnits) * c.table.DefaultRate(), nil
	}

	return float64(inputUnits)*entry.InputRatePerUnit + float64(outputUnits)*entry.OutputRatePerUnit, nil
}

// Table returns the calculator's pricing table.
func (c *Calculator) Table() *Table {
	return c.table
}
