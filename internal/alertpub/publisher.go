// Package alertpub implements the fingerprint-based alert publisher:
// cooldown deduplication and idempotent outbound emit to the alerts topic.
package alertpub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/anomstream/internal/bus"
	"github.com/skywalker-88/anomstream/internal/rules"
	"github.com/skywalker-88/anomstream/pkg/metrics"
)

// Clock lets tests advance wall-clock time without sleeping.
type Clock func() time.Time

// Publisher emits rules.Violation values to the alerts topic, deduplicated
// by fingerprint with a configurable cooldown. ActiveAlerts (the
// fingerprint -> last-emitted-instant map) is owned exclusively by the
// ingest worker, same as the window store and confirmation tracker
// (SPEC_FULL.md §5), so no locking is needed for its normal single-worker
// use; the mutex guards only the rarer path of concurrent test access.
type Publisher struct {
	bus         bus.Bus
	alertsTopic string
	cooldown    time.Duration
	now         Clock

	mu     sync.Mutex
	active map[string]time.Time
}

// New constructs a Publisher against the given bus and alerts topic.
func New(b bus.Bus, alertsTopic string, cooldown time.Duration) *Publisher {
	return &Publisher{
		bus:         b,
		alertsTopic: alertsTopic,
		cooldown:    cooldown,
		now:         time.Now,
		active:      make(map[string]time.Time),
	}
}

// Fingerprint returns the stable fingerprint for a violation:
// rule_name + ":" + service.
func Fingerprint(v rules.Violation) string {
	return v.RuleName + ":" + v.Service
}

type alertPayload struct {
	AlertName   string            `json:"alert_name"`
	Service     string            `json:"service"`
	Severity    string            `json:"severity"`
	Timestamp   string            `json:"timestamp"`
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// Publish emits v to the alerts topic unless it's still within the
// cooldown window for its fingerprint. Returns true if the message was
// handed to the bus; ActiveAlerts is updated only on that success path so
// a rejected emit can be retried on the next detection cycle.
func (p *Publisher) Publish(ctx context.Context, v rules.Violation) bool {
	fp := Fingerprint(v)
	now := p.now()

	p.mu.Lock()
	last, seen := p.active[fp]
	p.mu.Unlock()

	if seen && now.Sub(last) < p.cooldown {
		metrics.AlertsSuppressedTotal.WithLabelValues(v.RuleName).Inc()
		log.Debug().Str("fingerprint", fp).Msg("alert_suppressed_by_cooldown")
		return false
	}

	payload := alertPayload{
		AlertName:   v.RuleName,
		Service:     v.Service,
		Severity:    v.Severity,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Fingerprint: fp,
		Labels: map[string]string{
			"service":   v.Service,
			"alertname": v.RuleName,
			"severity":  v.Severity,
		},
		Annotations: map[string]string{
			"summary":   v.Message,
			"value":     fmt.Sprintf("%.4f", v.Value),
			"threshold": fmt.Sprintf("%v", v.Threshold),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("fingerprint", fp).Msg("alert_marshal_failed")
		return false
	}

	if err := p.bus.Publish(ctx, p.alertsTopic, []byte(fp), body); err != nil {
		log.Error().Err(err).Str("fingerprint", fp).Msg("alert_publish_failed")
		return false
	}

	p.mu.Lock()
	p.active[fp] = now
	p.mu.Unlock()

	metrics.AlertsPublishedTotal.WithLabelValues(v.RuleName).Inc()
	log.Info().
		Str("alert_name", v.RuleName).
		Str("service", v.Service).
		Str("severity", v.Severity).
		Msg("alert_published")
	return true
}

// SetClock overrides the wall-clock source, for tests.
func (p *Publisher) SetClock(c Clock) { p.now = c }
