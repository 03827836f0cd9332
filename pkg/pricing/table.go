package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultUnitRate is the flat per-unit rate charged for models that are
// absent from the table. Deliberately small: untracked models must never be
// free, but must never be wrongly expensive.
const DefaultUnitRate = 0.0001

// Default token limits reported for models the table does not know about.
const (
	defaultMaxInputUnits  = 4096
	defaultMaxOutputUnits = 4096
)

// Entry holds the rates and limits for a single model.
type Entry struct {
	// InputRatePerUnit is the cost in USD per input unit (token).
	InputRatePerUnit float64 `yaml:"input_rate_per_unit"`

	// OutputRatePerUnit is the cost in USD per output unit (token).
	OutputRatePerUnit float64 `yaml:"output_rate_per_unit"`

	// MaxInputUnits is the maximum number of input units the model accepts.
	MaxInputUnits int `yaml:"max_input_units"`

	// MaxOutputUnits is the maximum number of output units the model emits.
	MaxOutputUnits int `yaml:"max_output_units"`
}

// Table is an immutable mapping from model identifier to pricing entry.
// Lookups are by exact model identifier; absent entries are not an error.
type Table struct {
	entries     map[string]Entry
	defaultRate float64
}

// tableFile is the on-disk YAML layout of a pricing table.
type tableFile struct {
	DefaultUnitRate float64          `yaml:"default_unit_rate"`
	Models          map[string]Entry `yaml:"models"`
}

// NewTable creates a pricing table from a model -> entry mapping.
// A defaultRate of 0 falls back to DefaultUnitRate.
func NewTable(entries map[string]Entry, defaultRate float64) *Table {
	if defaultRate <= 0 {
		defaultRate = DefaultUnitRate
	}

	// Copy so later mutation of the caller's map cannot leak in.
	copied := make(map[string]Entry, len(entries))
	for model, entry := range entries {
		copied[model] = entry
	}

	return &Table{
		entries:     copied,
		defaultRate: defaultRate,
	}
}

// LoadTable loads a pricing table from a YAML file.
//
// File layout:
//
//	default_unit_rate: 0.0001
//	models:
//	  gpt-4o:
//	    input_rate_per_unit: 0.0000025
//	    output_rate_per_unit: 0.00001
//	    max_input_units: 128000
//	    max_output_units: 16384
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file %q: %w", path, err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file %q: %w", path, err)
	}

	for model, entry := range file.Models {
		if entry.InputRatePerUnit < 0 || entry.OutputRatePerUnit < 0 {
			return nil, fmt.Errorf("pricing file %q: model %q has a negative rate", path, model)
		}
	}

	return NewTable(file.Models, file.DefaultUnitRate), nil
}

// DefaultTable returns a built-in table covering common completion models.
// Rates are USD per token. Intended as a fallback when no pricing file is
// configured; production deployments should load their own table.
func DefaultTable() *Table {
	return NewTable(map[string]Entry{
		"gpt-4o": {
			InputRatePerUnit:  0.0000025,
			OutputRatePerUnit: 0.00001,
			MaxInputUnits:     128000,
			MaxOutputUnits:    16384,
		},
		"gpt-4o-mini": {
			InputRatePerUnit:  0.00000015,
			OutputRatePerUnit: 0.0000006,
			MaxInputUnits:     128000,
			MaxOutputUnits:    16384,
		},
		"gpt-4": {
			InputRatePerUnit:  0.00003,
			OutputRatePerUnit: 0.00006,
			MaxInputUnits:     8192,
			MaxOutputUnits:    8192,
		},
		"gpt-3.5-turbo": {
			InputRatePerUnit:  0.0000005,
			OutputRatePerUnit: 0.0000015,
			MaxInputUnits:     16385,
			MaxOutputUnits:    4096,
		},
		"claude-3-5-sonnet": {
			InputRatePerUnit:  0.000003,
			OutputRatePerUnit: 0.000015,
			MaxInputUnits:     200000,
			MaxOutputUnits:    8192,
		},
		"claude-3-haiku": {
			InputRatePerUnit:  0.00000025,
			OutputRatePerUnit: 0.00000125,
			MaxInputUnits:     200000,
			MaxOutputUnits:    4096,
		},
	}, DefaultUnitRate)
}

// Lookup returns the entry for a model and whether it exists.
func (t *Table) Lookup(model string) (Entry, bool) {
	entry, ok := t.entries[model]
	return entry, ok
}

// Limits returns the input and output unit limits for a model.
// Unknown models get conservative default limits.
func (t *Table) Limits(model string) (maxInput, maxOutput int) {
	entry, ok := t.entries[model]
	if !ok {
		return defaultMaxInputUnits, defaultMaxOutputUnits
	}

	maxInput = entry.MaxInputUnits
	if maxInput <= 0 {
		maxInput = defaultMaxInputUnits
	}
	maxOutput = entry.MaxOutputUnits
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputUnits
	}
	return maxInput, maxOutput
}

// DefaultRate returns the flat per-unit rate used for unknown models.
func (t *Table) DefaultRate() float64 {
	return t.defaultRate
}

// Models returns the model identifiers the table knows about.
func (t *Table) Models() []string {
	models := make([]string, 0, len(t.entries))
	for model := range t.entries {
		models = append(models, model)
	}
	return models
}
