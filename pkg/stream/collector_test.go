package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type finishRecorder struct {
	mu        sync.Mutex
	calls     int
	summaries []Summary
	err       error
}

func (f *finishRecorder) finish(ctx context.Context, sum Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.summaries = append(f.summaries, sum)
	return f.err
}

func (f *finishRecorder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCollector_AccumulatesFragmentsInOrder(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)

	c.Observe(ContentFragment{Model: "gpt-4o", Text: "Hello"})
	c.Observe(ContentFragment{Text: ", "})
	c.Observe(ContentFragment{Text: "world"})
	c.Observe(Done{})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sum.Content != "Hello, world" {
		t.Errorf("Expected concatenated content, got %q", sum.Content)
	}
	if sum.Fragments != 3 {
		t.Errorf("Expected 3 fragments, got %d", sum.Fragments)
	}
	if sum.Model != "gpt-4o" {
		t.Errorf("Expected model from first revealing event, got %q", sum.Model)
	}
	if rec.callCount() != 1 {
		t.Errorf("Expected exactly one finish call, got %d", rec.callCount())
	}
}

func TestCollector_FinishIsExactlyOnce(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)
	c.Observe(ContentFragment{Model: "gpt-4o", Text: "hi"})

	for i := 0; i < 3; i++ {
		if _, err := c.Finish(context.Background()); err != nil {
			t.Fatalf("Finish %d failed: %v", i, err)
		}
	}
	if rec.callCount() != 1 {
		t.Errorf("Expected exactly one charge across repeated Finish, got %d", rec.callCount())
	}
}

func TestCollector_FinishConcurrentWithAbandon(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)
	c.Observe(ContentFragment{Model: "gpt-4o", Text: "hi"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Finish(context.Background())
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Abandon(context.Background())
		}()
	}
	wg.Wait()

	if rec.callCount() != 1 {
		t.Errorf("Expected exactly one charge under contention, got %d", rec.callCount())
	}
}

func TestCollector_ZeroFragmentsNoCharge(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)
	c.Observe(Done{})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sum.Fragments != 0 {
		t.Errorf("Expected no fragments, got %d", sum.Fragments)
	}
	if rec.callCount() != 0 {
		t.Errorf("Expected no charge for an empty stream, got %d calls", rec.callCount())
	}
}

func TestCollector_NoModelNoCharge(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)

	c.Observe(ContentFragment{Text: "orphan content"})
	c.Observe(ContentFragment{Text: " with no model"})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sum.Content != "orphan content with no model" {
		t.Errorf("Content must still be collected, got %q", sum.Content)
	}
	if rec.callCount() != 0 {
		t.Errorf("Expected no charge without a model, got %d calls", rec.callCount())
	}
}

func TestCollector_UsageFinalPreferred(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)

	c.Observe(ContentFragment{Text: "some words here"})
	c.Observe(UsageFinal{Model: "gpt-4o", InputUnits: 120, OutputUnits: 45})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sum.Usage == nil {
		t.Fatal("Expected upstream usage to be captured")
	}
	if sum.Usage.InputUnits != 120 || sum.Usage.OutputUnits != 45 {
		t.Errorf("Unexpected usage: %+v", sum.Usage)
	}
	if sum.Model != "gpt-4o" {
		t.Errorf("Expected model captured from usage event, got %q", sum.Model)
	}
	if rec.callCount() != 1 {
		t.Errorf("Expected one charge, got %d", rec.callCount())
	}
}

func TestCollector_ModelCapturedFromFirstRevealingEvent(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)

	c.Observe(ContentFragment{Model: "gpt-4o", Text: "a"})
	c.Observe(ContentFragment{Model: "some-other-model", Text: "b"})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sum.Model != "gpt-4o" {
		t.Errorf("Expected first revealed model to win, got %q", sum.Model)
	}
}

func TestCollector_ErrorEventRecordedFragmentsStillCharged(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)

	c.Observe(ContentFragment{Model: "gpt-4o", Text: "partial"})
	c.Observe(ErrorEvent{Message: "upstream overloaded"})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sum.ErrorMessage != "upstream overloaded" {
		t.Errorf("Expected error message captured, got %q", sum.ErrorMessage)
	}
	if rec.callCount() != 1 {
		t.Errorf("Served fragments must still be charged, got %d calls", rec.callCount())
	}
}

func TestCollector_ChargeFailureSurfacedNotRetried(t *testing.T) {
	rec := &finishRecorder{err: errors.New("store down")}
	c := NewCollector(rec.finish, nil)
	c.Observe(ContentFragment{Model: "gpt-4o", Text: "hi"})

	sum, err := c.Finish(context.Background())
	if err == nil {
		t.Fatal("Expected charge failure to surface")
	}
	if sum.Content != "hi" {
		t.Errorf("Summary must be returned alongside the error, got %q", sum.Content)
	}

	// The collector is settled; a retry through Finish does not re-charge
	if _, err := c.Finish(context.Background()); err != nil {
		t.Errorf("Settled Finish must not error again, got %v", err)
	}
	if rec.callCount() != 1 {
		t.Errorf("Expected no retry, got %d calls", rec.callCount())
	}
}

func TestCollector_ObserveAfterSettleDropped(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)
	c.Observe(ContentFragment{Model: "gpt-4o", Text: "hi"})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	c.Observe(ContentFragment{Text: " late"})
	again, _ := c.Finish(context.Background())
	if again.Content != sum.Content {
		t.Errorf("Late fragments must be dropped, got %q", again.Content)
	}
}

func TestCollector_AbandonUsesDetachedContext(t *testing.T) {
	// The flush context is only guaranteed live while the finish callback
	// runs; Abandon cancels it on return, so inspect it inside.
	ran := false
	var flushErr error
	var deadline time.Time
	var hasDeadline bool
	finish := func(ctx context.Context, sum Summary) error {
		ran = true
		flushErr = ctx.Err()
		deadline, hasDeadline = ctx.Deadline()
		return nil
	}
	c := NewCollector(finish, nil)
	c.Observe(ContentFragment{Model: "gpt-4o", Text: "hi"})

	// The request context is already canceled when Abandon runs
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Abandon(ctx)

	if !ran {
		t.Fatal("Expected the flush to run")
	}
	if flushErr != nil {
		t.Errorf("Expected a live detached context, got %v", flushErr)
	}
	if !hasDeadline {
		t.Fatal("Expected the detached flush to carry a deadline")
	}
	if time.Until(deadline) > abandonTimeout {
		t.Errorf("Deadline too far out: %v", time.Until(deadline))
	}
}

func TestCollector_EventTimesBoundTheStream(t *testing.T) {
	rec := &finishRecorder{}
	c := NewCollector(rec.finish, nil)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	c.Observe(ContentFragment{Model: "gpt-4o", Text: "a"})
	c.Observe(ContentFragment{Text: "b"})
	c.Observe(Done{})

	sum, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if !sum.FirstEvent.Equal(base.Add(time.Second)) {
		t.Errorf("Unexpected first event time: %v", sum.FirstEvent)
	}
	if !sum.LastEvent.Equal(base.Add(3 * time.Second)) {
		t.Errorf("Unexpected last event time: %v", sum.LastEvent)
	}
}
