package pricing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testPricingYAML = `
default_unit_rate: 0.0002
models:
  gpt-4o:
    input_rate_per_unit: 0.0000025
    output_rate_per_unit: 0.00001
    max_input_units: 128000
    max_output_units: 16384
  claude-3-haiku:
    input_rate_per_unit: 0.00000025
    output_rate_per_unit: 0.00000125
`

func writePricingFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write pricing file: %v", err)
	}
	return path
}

func TestLoadTable(t *testing.T) {
	path := writePricingFile(t, testPricingYAML)

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}

	entry, ok := table.Lookup("gpt-4o")
	if !ok {
		t.Fatal("Expected gpt-4o to be present")
	}
	if entry.InputRatePerUnit != 0.0000025 {
		t.Errorf("Expected input rate 0.0000025, got %v", entry.InputRatePerUnit)
	}
	if entry.MaxOutputUnits != 16384 {
		t.Errorf("Expected max output units 16384, got %d", entry.MaxOutputUnits)
	}

	if table.DefaultRate() != 0.0002 {
		t.Errorf("Expected default rate 0.0002, got %v", table.DefaultRate())
	}

	if _, ok := table.Lookup("missing-model"); ok {
		t.Error("Expected missing model to be absent")
	}
}

func TestLoadTable_MissingFile(t *testing.T) {
	if _, err := LoadTable("/nonexistent/pricing.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadTable_InvalidYAML(t *testing.T) {
	path := writePricingFile(t, "models: [not a mapping")
	if _, err := LoadTable(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadTable_NegativeRate(t *testing.T) {
	path := writePricingFile(t, `
models:
  bad:
    input_rate_per_unit: -0.1
`)
	if _, err := LoadTable(path); err == nil {
		t.Error("Expected error for negative rate")
	}
}

func TestProvider_Reload(t *testing.T) {
	path := writePricingFile(t, testPricingYAML)

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}

	provider := NewProvider(path, table, nil)

	if _, ok := provider.Table().Lookup("gpt-4o"); !ok {
		t.Fatal("Expected gpt-4o in initial table")
	}

	// Rewrite the file with a different model set and reload
	updated := `
models:
  new-model:
    input_rate_per_unit: 0.001
    output_rate_per_unit: 0.002
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to rewrite pricing file: %v", err)
	}

	if err := provider.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if _, ok := provider.Table().Lookup("new-model"); !ok {
		t.Error("Expected new-model after reload")
	}
	if _, ok := provider.Table().Lookup("gpt-4o"); ok {
		t.Error("Expected gpt-4o to be gone after reload")
	}
}

func TestProvider_ReloadFailureKeepsPreviousTable(t *testing.T) {
	path := writePricingFile(t, testPricingYAML)

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	provider := NewProvider(path, table, nil)

	if err := os.WriteFile(path, []byte("models: [broken"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite pricing file: %v", err)
	}

	if err := provider.Reload(); err == nil {
		t.Error("Expected reload error for broken file")
	}

	// Previous table must remain active
	if _, ok := provider.Table().Lookup("gpt-4o"); !ok {
		t.Error("Expected previous table to survive a failed reload")
	}
}

func TestProvider_WatchReloadsOnWrite(t *testing.T) {
	path := writePricingFile(t, testPricingYAML)

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	provider := NewProvider(path, table, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- provider.Watch(ctx)
	}()

	// Give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	updated := `
models:
  watched-model:
    input_rate_per_unit: 0.001
    output_rate_per_unit: 0.002
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to rewrite pricing file: %v", err)
	}

	// Wait for debounce plus reload
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := provider.Table().Lookup("watched-model"); ok {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, ok := provider.Table().Lookup("watched-model"); !ok {
		t.Error("Expected table to be reloaded by watcher")
	}

	cancel()
	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Error("Watcher did not stop after context cancellation")
	}
}

func TestWordCounter(t *testing.T) {
	counter := WordCounter{}

	if got := counter.Count("Hello world"); got != 2 {
		t.Errorf("Expected 2 units, got %d", got)
	}
	if got := counter.Count(""); got != 0 {
		t.Errorf("Expected 0 units for empty text, got %d", got)
	}
	if got := counter.Count("  spaced   out\ttext\n"); got != 3 {
		t.Errorf("Expected 3 units, got %d", got)
	}
}

func TestTiktokenCounter_EncodingSelection(t *testing.T) {
	cases := []struct {
		model    string
		encoding string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-2024-08-06", "o200k_base"},
		{"gpt-4", "cl100k_base"},
		{"totally-unknown", "cl100k_base"},
	}

	for _, tc := range cases {
		counter := NewTiktokenCounter(tc.model)
		if counter.encoding != tc.encoding {
			t.Errorf("Model %s: expected encoding %s, got %s", tc.model, tc.encoding, counter.encoding)
		}
	}
}
