//go:build integration

package test

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tollgate-hq/meridian/pkg/config"
	"tollgate-hq/meridian/pkg/ledger"
	"tollgate-hq/meridian/pkg/ledger/store"
	"tollgate-hq/meridian/pkg/meter"
	"tollgate-hq/meridian/pkg/pricing"
	"tollgate-hq/meridian/pkg/server"
	"tollgate-hq/meridian/pkg/usage"
)

// TestEngineIntegration exercises the full flow over persistent backends:
// budget administration and charge settlement through the HTTP API, the
// usage journal, and ledger state surviving a store reopen.
func TestEngineIntegration(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.db")
	usagePath := filepath.Join(dir, "usage.db")

	calc := pricing.NewCalculator(pricing.NewTable(map[string]pricing.Entry{
		"test-model": {InputRatePerUnit: 0.01, OutputRatePerUnit: 0.01},
	}, pricing.DefaultUnitRate))

	openStack := func(t *testing.T) (http.Handler, func()) {
		ledgerStore, err := store.NewSQLiteStoreWithConfig(store.SQLiteConfig{DBPath: ledgerPath})
		if err != nil {
			t.Fatalf("open ledger store: %v", err)
		}

		sink, err := usage.NewSQLiteSink(&usage.SQLiteSinkConfig{Path: usagePath})
		if err != nil {
			ledgerStore.Close()
			t.Fatalf("open usage sink: %v", err)
		}
		recorder := usage.NewRecorder(sink, nil)

		led := ledger.New(ledgerStore, calc, nil)
		m := meter.New(led, pricing.WordCounter{}, recorder, nil, &meter.Config{
			DefaultCap:      1.00,
			DefaultDuration: ledger.DurationDaily,
		})

		srv := server.New(config.Default(), server.Deps{
			Ledger: led,
			Meter:  m,
			Sink:   sink,
		})

		closeAll := func() {
			recorder.Close()
			sink.Close()
			ledgerStore.Close()
		}
		return srv.Handler(), closeAll
	}

	do := func(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]json.RawMessage) {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		var resp map[string]json.RawMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
		return rec.Code, resp
	}

	h, closeAll := openStack(t)

	// Configure a tight budget, then spend it down.
	code, _ := do(t, h, http.MethodPut, "/v1/budgets/team-a", map[string]any{
		"total_budget": 0.10,
		"duration":     "daily",
	})
	if code != http.StatusOK {
		t.Fatalf("set budget: expected 200, got %d", code)
	}

	charge := map[string]any{
		"principal_id": "team-a",
		"model":        "test-model",
		"input_units":  2,
		"output_units": 3,
		"reported":     true,
	}
	// Two $0.05 charges land exactly on the cap.
	for i := 0; i < 2; i++ {
		code, _ = do(t, h, http.MethodPost, "/v1/charges", charge)
		if code != http.StatusOK {
			t.Fatalf("charge %d: expected 200, got %d", i+1, code)
		}
	}
	// The third must be rejected without touching stored state.
	code, _ = do(t, h, http.MethodPost, "/v1/charges", charge)
	if code != http.StatusPaymentRequired {
		t.Fatalf("over-cap charge: expected 402, got %d", code)
	}

	code, resp := do(t, h, http.MethodGet, "/v1/budgets/team-a/spend", nil)
	if code != http.StatusOK {
		t.Fatalf("spend: expected 200, got %d", code)
	}
	var spend struct {
		CurrentCost float64 `json:"current_cost"`
	}
	if err := json.Unmarshal(resp["data"], &spend); err != nil {
		t.Fatalf("decode spend: %v", err)
	}
	if math.Abs(spend.CurrentCost-0.10) > 1e-9 {
		t.Fatalf("expected spend 0.10, got %v", spend.CurrentCost)
	}

	// All three settlements, including the rejection, reach the journal.
	deadline := time.After(5 * time.Second)
	for {
		code, resp = do(t, h, http.MethodGet, "/v1/usage?principal=team-a&limit=10", nil)
		if code != http.StatusOK {
			t.Fatalf("usage: expected 200, got %d", code)
		}
		var result struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(resp["data"], &result); err != nil {
			t.Fatalf("decode usage: %v", err)
		}
		if result.Count == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 3 journaled events, have %d", result.Count)
		case <-time.After(10 * time.Millisecond):
		}
	}

	closeAll()

	// Reopen everything; accumulated state must survive.
	h, closeAll = openStack(t)
	defer closeAll()

	code, resp = do(t, h, http.MethodGet, "/v1/budgets/team-a", nil)
	if code != http.StatusOK {
		t.Fatalf("get budget after reopen: expected 200, got %d", code)
	}
	var rec ledger.Record
	if err := json.Unmarshal(resp["data"], &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if math.Abs(rec.CurrentCost-0.10) > 1e-9 {
		t.Fatalf("expected persisted spend 0.10, got %v", rec.CurrentCost)
	}
	if rec.TotalBudget != 0.10 {
		t.Fatalf("expected persisted cap 0.10, got %v", rec.TotalBudget)
	}

	// The cap is still enforced on the reopened store.
	code, _ = do(t, h, http.MethodPost, "/v1/charges", charge)
	if code != http.StatusPaymentRequired {
		t.Fatalf("charge after reopen: expected 402, got %d", code)
	}

	// Suspension is an administrative override independent of spend.
	code, _ = do(t, h, http.MethodPost, "/v1/budgets/team-a/resume", nil)
	if code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", code)
	}
	code, _ = do(t, h, http.MethodPost, "/v1/budgets/team-a/suspend", nil)
	if code != http.StatusOK {
		t.Fatalf("suspend: expected 200, got %d", code)
	}
	code, _ = do(t, h, http.MethodPost, "/v1/charges", charge)
	if code != http.StatusForbidden {
		t.Fatalf("suspended charge: expected 403, got %d", code)
	}
}
