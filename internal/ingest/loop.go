// Package ingest implements the single-worker ingest loop: poll the event
// bus, decode, record into the window store, and on a message-count
// cadence run detection and publish surfaced violations.
//
// The detection cadence counts messages, not wall-clock time. This is a
// deliberate tradeoff: a busy service reaches its confirmation depth sooner
// than a quiet one, and while nothing arrives on the bus no detection runs.
package ingest

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/anomstream/internal/alertpub"
	"github.com/skywalker-88/anomstream/internal/bus"
	"github.com/skywalker-88/anomstream/internal/detect"
	"github.com/skywalker-88/anomstream/internal/window"
	"github.com/skywalker-88/anomstream/pkg/metrics"
)

// State is the ingest loop's lifecycle state machine:
// Idle -> Subscribed -> Running -> Draining -> Closed.
type State int32

const (
	Idle State = iota
	Subscribed
	Running
	Draining
	Closed
)

// inboundEvent is the JSON shape read from the ingest topic. Unknown
// fields are ignored; only service/latency_ms/error are read by the core
// (SPEC_FULL.md §6).
type inboundEvent struct {
	Service   string  `json:"service"`
	LatencyMS float64 `json:"latency_ms"`
	Error     bool    `json:"error"`
}

// Loop owns the window store, detector, and publisher for the life of one
// ingest worker. It is not safe for concurrent use from more than one
// goroutine — the concurrency model is a single sequential worker
// (SPEC_FULL.md §5).
type Loop struct {
	bus       bus.Bus
	store     *window.Store
	detector  *detect.Detector
	publisher *alertpub.Publisher

	pollTimeout       time.Duration
	detectionInterval int64
	processed         int64
	lastTruncations   int64
	state             atomic.Int32
	running           atomic.Bool
}

// Config controls the loop's polling cadence and detection trigger.
type Config struct {
	PollTimeout               time.Duration
	DetectionIntervalMessages int64
}

// New constructs a Loop. detectionIntervalMessages of 0 defaults to 10.
func New(b bus.Bus, store *window.Store, detector *detect.Detector, publisher *alertpub.Publisher, cfg Config) *Loop {
	interval := cfg.DetectionIntervalMessages
	if interval <= 0 {
		interval = 10
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	l := &Loop{
		bus:               b,
		store:             store,
		detector:          detector,
		publisher:         publisher,
		pollTimeout:       pollTimeout,
		detectionInterval: interval,
	}
	l.state.Store(int32(Idle))
	return l
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Processed returns the number of messages processed so far.
func (l *Loop) Processed() int64 { return atomic.LoadInt64(&l.processed) }

// Stop transitions Running -> Draining. Idempotent and safe to call from a
// signal handler; the loop observes it at the next poll boundary.
func (l *Loop) Stop() {
	l.running.Store(false)
}

// Run subscribes and processes messages until Stop is called or ctx is
// canceled, then drains: finishes the current poll, closes the bus, and
// flushes nothing further (the publisher has no buffered state to flush
// beyond what the bus itself owns).
func (l *Loop) Run(ctx context.Context) error {
	l.state.Store(int32(Subscribed))
	l.running.Store(true)
	l.state.Store(int32(Running))

	for l.running.Load() {
		select {
		case <-ctx.Done():
			l.running.Store(false)
		default:
		}
		if !l.running.Load() {
			break
		}

		msg, err := l.bus.Poll(ctx, l.pollTimeout)
		if err != nil {
			log.Error().Err(err).Msg("bus_poll_error")
			continue
		}
		if msg == nil {
			// Timeout or end-of-partition: neither is an error.
			continue
		}

		l.processMessage(ctx, msg.Value)

		if err := l.bus.Commit(ctx); err != nil {
			log.Error().Err(err).Msg("offset_commit_failed")
		}
	}

	l.state.Store(int32(Draining))
	err := l.bus.Close()
	l.state.Store(int32(Closed))
	return err
}

func (l *Loop) processMessage(ctx context.Context, raw []byte) {
	var ev inboundEvent
	ev.Service = "unknown"
	if err := json.Unmarshal(raw, &ev); err != nil {
		metrics.DecodeErrorsTotal.Inc()
		log.Warn().Err(err).Str("correlation_id", uuid.NewString()).Msg("decode_error")
		return
	}
	if ev.Service == "" {
		ev.Service = "unknown"
	}

	l.store.Record(ev.Service, ev.LatencyMS, ev.Error, time.Now())
	metrics.SamplesRecordedTotal.Inc()
	if total := l.store.Truncations(); total > l.lastTruncations {
		metrics.SamplesTruncatedTotal.Add(float64(total - l.lastTruncations))
		l.lastTruncations = total
	}
	metrics.ActiveServices.Set(float64(len(l.store.ListServices())))

	n := atomic.AddInt64(&l.processed, 1)
	if n%l.detectionInterval == 0 {
		violations := l.detector.Detect()
		for _, v := range violations {
			l.publisher.Publish(ctx, v)
		}
	}
}
