package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig contains configuration for the usage recorder.
type RecorderConfig struct {
	// Enabled enables usage recording.
	Enabled bool

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout is the timeout for writing an event to the sink.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes usage events to a sink asynchronously so the request
// path never blocks on journal writes.
type Recorder struct {
	sink      Sink
	config    *RecorderConfig
	eventChan chan *Event
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewRecorder creates a usage recorder over the given sink and starts its
// background writer.
func NewRecorder(sink Sink, config *RecorderConfig) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}

	r := &Recorder{
		sink:      sink,
		config:    config,
		eventChan: make(chan *Event, config.AsyncBuffer),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "usage.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("usage recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// Record enqueues one event for async writing. A full buffer drops the
// event with a warning; the ledger already holds the charge, only the
// audit trail entry is lost.
func (r *Recorder) Record(ev *Event) {
	if !r.config.Enabled {
		return
	}

	select {
	case r.eventChan <- ev:
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping usage event",
			"event_id", ev.ID,
			"principal_id", ev.PrincipalID,
		)
	default:
		r.logger.Warn("usage event buffer full, dropping event",
			"event_id", ev.ID,
			"principal_id", ev.PrincipalID,
			"buffer_capacity", r.config.AsyncBuffer,
		)
	}
}

// Close drains the buffer and waits for all pending writes to complete.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	return nil
}

// worker drains the event channel and writes events to the sink.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.eventChan:
			r.writeEvent(ev)

		case <-r.done:
			for {
				select {
				case ev := <-r.eventChan:
					r.writeEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeEvent(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.sink.Store(ctx, ev); err != nil {
		r.logger.Error("failed to store usage event",
			"event_id", ev.ID,
			"principal_id", ev.PrincipalID,
			"error", err,
		)
		return
	}

	r.logger.Debug("usage event recorded",
		"event_id", ev.ID,
		"principal_id", ev.PrincipalID,
		"model", ev.Model,
		"cost", ev.Cost,
		"accepted", ev.Accepted,
	)
}
