// Package pricing provides the model rate table and cost calculation for
// metered LLM usage.
//
// # Overview
//
// The pricing package answers one question: what does a completed unit of
// work cost? It is split into three pieces:
//
//   - Table: immutable mapping from model identifier to per-unit input and
//     output rates plus token limits, loaded once from YAML
//   - Calculator: pure cost function over a Table with a conservative
//     fallback rate for models the table does not know about
//   - Counters: pluggable unit counting (whitespace approximation or exact
//     tiktoken encoding)
//
// # Usage
//
//	table, err := pricing.LoadTable("pricing.yaml")
//	if err != nil {
//	    return err
//	}
//	calc := pricing.NewCalculator(table)
//
//	cost, err := calc.Cost("gpt-4o", 1200, 340)
//
// # Unknown Models
//
// A model absent from the table is not an error. The calculator charges
// (input + output) * DefaultUnitRate so that untracked models are never
// free, but never wrongly expensive either.
//
// # Thread Safety
//
// Table and Calculator are read-only after construction and safe for
// concurrent use. Provider supports atomic hot-swapping of the table when
// the pricing file changes on disk.
package pricing
