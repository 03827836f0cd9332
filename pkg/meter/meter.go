package meter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tollgate-hq/meridian/pkg/ledger"
	"tollgate-hq/meridian/pkg/pricing"
	"tollgate-hq/meridian/pkg/stream"
	"tollgate-hq/meridian/pkg/telemetry/metrics"
	"tollgate-hq/meridian/pkg/usage"
)

// DefaultPrincipal is the sentinel principal charged when a request
// carries no identity. Anonymous traffic shares one budget instead of
// escaping metering.
const DefaultPrincipal = "default_user"

// Work describes one unit of LLM work to be metered.
type Work struct {
	// PrincipalID is the identity to charge. Empty falls back to
	// DefaultPrincipal.
	PrincipalID string

	// Model is the requested model. Streamed work may leave this empty
	// and let the collector capture it from the stream.
	Model string

	// Prompt is the input text, used to approximate input units when the
	// upstream does not report a count.
	Prompt string
}

func (w Work) principal() string {
	if w.PrincipalID == "" {
		return DefaultPrincipal
	}
	return w.PrincipalID
}

// Completion is the settled output of one non-streaming response.
type Completion struct {
	// Content is the response text.
	Content string

	// InputUnits and OutputUnits are upstream-reported counts. Only read
	// when Reported is true.
	InputUnits  int
	OutputUnits int

	// Reported marks the unit counts as upstream-provided. Preferred
	// over local approximation when set.
	Reported bool
}

// Config contains configuration for the meter.
type Config struct {
	// DefaultCap is the budget cap given to principals seen for the
	// first time, in USD.
	DefaultCap float64

	// DefaultDuration is the budget window class for new principals.
	DefaultDuration ledger.DurationClass
}

// DefaultConfig gives new principals an effectively unlimited daily
// budget, matching a deployment where caps are assigned explicitly.
func DefaultConfig() *Config {
	return &Config{
		DefaultCap:      ledger.DefaultUnlimitedBudget,
		DefaultDuration: ledger.DurationDaily,
	}
}

// Meter meters units of work against the ledger.
type Meter struct {
	ledger    *ledger.Ledger
	counter   pricing.UnitCounter
	recorder  *usage.Recorder
	collector *metrics.Collector
	config    *Config
	logger    *slog.Logger
}

// New creates a meter. recorder and collector may be nil, disabling the
// usage journal and metrics respectively; counter defaults to word
// counting.
func New(led *ledger.Ledger, counter pricing.UnitCounter, recorder *usage.Recorder, collector *metrics.Collector, config *Config) *Meter {
	if counter == nil {
		counter = pricing.WordCounter{}
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Meter{
		ledger:    led,
		counter:   counter,
		recorder:  recorder,
		collector: collector,
		config:    config,
		logger:    slog.Default().With("component", "meter"),
	}
}

// Begin admits one unit of work: it idempotently ensures the principal
// has a ledger record and rejects work for suspended principals before
// any upstream call is made.
func (m *Meter) Begin(ctx context.Context, w Work) error {
	rec, err := m.ledger.Ensure(ctx, w.principal(), m.config.DefaultCap, m.config.DefaultDuration)
	if err != nil {
		return err
	}
	if rec.Status == ledger.StatusSuspended {
		return ledger.ErrBudgetSuspended
	}
	return nil
}

// RecordCompletion settles one non-streaming response: counts units
// (preferring upstream-reported values), charges the ledger, and records
// the usage event.
//
// The charge result is returned alongside any error so callers can apply
// their serve-despite-billing-failure policy: a rejected charge comes
// back as a *ledger.QuotaExceededError with the result still populated.
func (m *Meter) RecordCompletion(ctx context.Context, w Work, comp Completion) (*ledger.ChargeResult, error) {
	inputUnits, outputUnits := comp.InputUnits, comp.OutputUnits
	if !comp.Reported {
		inputUnits = m.counter.Count(w.Prompt)
		outputUnits = m.counter.Count(comp.Content)
	}
	return m.settle(ctx, usage.KindCompletion, w.principal(), w.Model, inputUnits, outputUnits, nil)
}

// Stream returns a collector that settles one streamed response. Observe
// events on it while relaying the stream, then call Finish (or Abandon on
// teardown); the terminal charge runs exactly once.
func (m *Meter) Stream(ctx context.Context, w Work) *stream.Collector {
	principalID := w.principal()
	prompt := w.Prompt
	started := time.Now()

	return stream.NewCollector(func(ctx context.Context, sum stream.Summary) error {
		if m.collector != nil {
			m.collector.RecordStream(sum.Fragments)
		}

		var inputUnits, outputUnits int
		if sum.Usage != nil {
			inputUnits = sum.Usage.InputUnits
			outputUnits = sum.Usage.OutputUnits
		} else {
			inputUnits = m.counter.Count(prompt)
			outputUnits = m.counter.Count(sum.Content)
		}

		var timing *streamTiming
		if !sum.FirstEvent.IsZero() {
			timing = &streamTiming{
				timeToFirst: sum.FirstEvent.Sub(started),
				duration:    sum.LastEvent.Sub(sum.FirstEvent),
			}
		}

		_, err := m.settle(ctx, usage.KindStreamCompletion, principalID, sum.Model, inputUnits, outputUnits, timing)
		return err
	}, m.logger)
}

// streamTiming is the observed timing of a settled stream.
type streamTiming struct {
	timeToFirst time.Duration
	duration    time.Duration
}

// settle prices and charges one completed unit of work, then journals
// and measures the outcome.
func (m *Meter) settle(ctx context.Context, kind usage.Kind, principalID, model string, inputUnits, outputUnits int, timing *streamTiming) (*ledger.ChargeResult, error) {
	start := time.Now()
	result, err := m.ledger.Charge(ctx, ledger.ChargeRequest{
		PrincipalID: principalID,
		Model:       model,
		InputUnits:  inputUnits,
		OutputUnits: outputUnits,
	})
	elapsed := time.Since(start)

	ev := usage.NewEvent(kind, principalID, model)
	ev.InputUnits = inputUnits
	ev.OutputUnits = outputUnits
	ev.LatencyMS = elapsed.Milliseconds()
	if timing != nil {
		ev.TimeToFirstFragmentMS = timing.timeToFirst.Milliseconds()
		ev.StreamDurationMS = timing.duration.Milliseconds()
	}

	decision := metrics.DecisionError
	switch {
	case err == nil:
		decision = metrics.DecisionAccepted
		ev.Accepted = true
		ev.Cost = result.Amount
		ev.NewTotal = result.NewTotal
	case errors.Is(err, ledger.ErrQuotaExceeded):
		decision = metrics.DecisionRejected
		ev.Error = err.Error()
	case errors.Is(err, ledger.ErrBudgetSuspended):
		decision = metrics.DecisionSuspended
		ev.Error = err.Error()
	default:
		ev.Error = err.Error()
		m.logger.Error("charge could not be settled",
			"principal_id", principalID,
			"model", model,
			"error", err,
		)
	}

	if m.collector != nil {
		m.collector.RecordCharge(model, decision, ev.Cost, elapsed)
	}
	if m.recorder != nil {
		m.recorder.Record(ev)
	}
	return result, err
}
