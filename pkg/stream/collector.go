package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// abandonTimeout bounds the detached flush when a request is torn down
// without a clean Finish.
const abandonTimeout = 5 * time.Second

// Summary is the outcome of one collected stream, handed to the finish
// callback for charging and recording.
type Summary struct {
	// Model is the model identifier captured from the first event that
	// revealed it. Empty if no event carried one.
	Model string

	// Content is the concatenated fragment text in arrival order.
	Content string

	// Fragments is the number of content fragments observed.
	Fragments int

	// Usage is the upstream-reported unit count, if the stream carried
	// one. Nil means the caller must approximate from Content.
	Usage *UsageFinal

	// ErrorMessage is the last in-band upstream error, if any.
	ErrorMessage string

	// FirstEvent and LastEvent bound the stream's duration. Zero when no
	// events were observed.
	FirstEvent time.Time
	LastEvent  time.Time
}

// FinishFunc settles a collected stream: price it, charge it, record it.
// Called at most once per Collector, and only when at least one fragment
// was collected.
type FinishFunc func(ctx context.Context, sum Summary) error

// Collector accumulates one request's stream events and issues exactly
// one terminal charge when the stream ends.
//
// A Collector is owned by a single request goroutine but is safe for
// concurrent use, so a relay loop and a teardown path cannot double-
// charge: whichever of Finish and Abandon runs first settles the stream
// and the other becomes a no-op.
type Collector struct {
	finish FinishFunc
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	buf        strings.Builder
	model      string
	fragments  int
	usage      *UsageFinal
	errMessage string
	firstEvent time.Time
	lastEvent  time.Time
	settled    bool
}

// NewCollector creates a collector that settles through finish.
func NewCollector(finish FinishFunc, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default().With("component", "stream")
	}
	return &Collector{
		finish: finish,
		logger: logger,
		now:    time.Now,
	}
}

// Observe records one decoded stream event. Events observed after the
// collector has settled are dropped.
func (c *Collector) Observe(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return
	}

	now := c.now()
	if c.firstEvent.IsZero() {
		c.firstEvent = now
	}
	c.lastEvent = now

	switch e := ev.(type) {
	case ContentFragment:
		c.buf.WriteString(e.Text)
		c.fragments++
		if c.model == "" {
			c.model = e.Model
		}
	case UsageFinal:
		usage := e
		c.usage = &usage
		if c.model == "" {
			c.model = e.Model
		}
	case ErrorEvent:
		c.errMessage = e.Message
	case Done:
		// terminal marker only; settling is the owner's call
	}
}

// Finish settles the stream, issuing the terminal charge if at least one
// fragment was collected. Subsequent calls return the same summary with
// no further effect.
//
// Zero fragments means nothing was served, so nothing is charged. A
// stream that served content but never revealed its model also goes
// uncharged: there is no rate to price it with, and guessing one would
// misattribute cost. That case is logged as a billing gap.
func (c *Collector) Finish(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	if c.settled {
		sum := c.summaryLocked()
		c.mu.Unlock()
		return sum, nil
	}
	c.settled = true
	sum := c.summaryLocked()
	c.mu.Unlock()

	if sum.Fragments == 0 {
		return sum, nil
	}
	if sum.Model == "" {
		c.logger.Warn("stream served content but never revealed a model, not charging",
			"fragments", sum.Fragments,
			"content_length", len(sum.Content),
		)
		return sum, nil
	}

	if err := c.finish(ctx, sum); err != nil {
		// The content is already on the wire. Surface the failure to the
		// caller but the stream itself was served in full.
		c.logger.Error("terminal stream charge failed",
			"model", sum.Model,
			"fragments", sum.Fragments,
			"error", err,
		)
		return sum, err
	}
	return sum, nil
}

// Abandon settles a stream whose request died before a clean Finish. The
// flush runs on a short deadline detached from the request context, which
// is usually already canceled. Failures are logged and dropped.
func (c *Collector) Abandon(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	if _, err := c.Finish(flushCtx); err != nil {
		c.logger.Warn("abandoned stream flush failed, usage lost", "error", err)
	}
}

func (c *Collector) summaryLocked() Summary {
	return Summary{
		Model:        c.model,
		Content:      c.buf.String(),
		Fragments:    c.fragments,
		Usage:        c.usage,
		ErrorMessage: c.errMessage,
		FirstEvent:   c.firstEvent,
		LastEvent:    c.lastEvent,
	}
}
