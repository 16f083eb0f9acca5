// Package rules implements the closed set of anomaly rules evaluated over a
// service's sliding window: HighLatencyP99, HighErrorRate, TrafficDrop.
// Each rule is a pure function of (service, window) except TrafficDrop,
// which carries its own per-service baseline state (kept out of
// window.ServiceWindow so the window stays a pure aggregate — see
// SPEC_FULL.md §4.2 / §9).
package rules

import (
	"fmt"
	"sync"

	"github.com/skywalker-88/anomstream/internal/window"
)

// Names of the rules, used as RuleViolation.RuleName and as the stable half
// of an alert fingerprint.
const (
	NameHighLatencyP99 = "HighLatencyP99"
	NameHighErrorRate  = "HighErrorRate"
	NameTrafficDrop    = "TrafficDrop"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Violation is produced by a rule evaluation that fires.
type Violation struct {
	RuleName  string
	Service   string
	Severity  string
	Value     float64
	Threshold float64
	Message   string
}

// Rule evaluates a service's window and optionally returns a Violation.
type Rule interface {
	Name() string
	Evaluate(service string, w *window.ServiceWindow) *Violation
}

// HighLatencyP99 fires when the window's P99 latency strictly exceeds the
// configured threshold (exactly-at-threshold does not fire).
type HighLatencyP99 struct {
	ThresholdMS float64
}

func (r HighLatencyP99) Name() string { return NameHighLatencyP99 }

func (r HighLatencyP99) Evaluate(service string, w *window.ServiceWindow) *Violation {
	p99, ok := w.P99Latency()
	if !ok || p99 <= r.ThresholdMS {
		return nil
	}
	return &Violation{
		RuleName:  NameHighLatencyP99,
		Service:   service,
		Severity:  SeverityWarning,
		Value:     p99,
		Threshold: r.ThresholdMS,
		Message:   fmt.Sprintf("P99 latency %.1fms exceeds threshold %.1fms", p99, r.ThresholdMS),
	}
}

// HighErrorRate fires when the window's error rate strictly exceeds the
// configured threshold.
type HighErrorRate struct {
	Threshold float64
}

func (r HighErrorRate) Name() string { return NameHighErrorRate }

func (r HighErrorRate) Evaluate(service string, w *window.ServiceWindow) *Violation {
	rate, ok := w.ErrorRate()
	if !ok || rate <= r.Threshold {
		return nil
	}
	return &Violation{
		RuleName:  NameHighErrorRate,
		Service:   service,
		Severity:  SeverityCritical,
		Value:     rate,
		Threshold: r.Threshold,
		Message: fmt.Sprintf("Error rate %.1f%% exceeds threshold %.1f%%",
			rate*100, r.Threshold*100),
	}
}

// TrafficDrop fires when the current RPS (averaged over the configured
// horizon, see window.ServiceWindow.RPS) has dropped more than Threshold
// fractionally below a per-service EMA baseline. The baseline seeds itself
// on first evaluation (no fire) and freezes while the rule is actively
// firing, so a sustained incident doesn't erode the reference point it's
// being measured against.
type TrafficDrop struct {
	Threshold     float64
	WindowSeconds int

	mu          sync.Mutex
	baselines   map[string]float64
	hasBaseline map[string]bool
}

// NewTrafficDrop constructs a TrafficDrop rule with its per-service
// baseline state initialized.
func NewTrafficDrop(threshold float64, windowSeconds int) *TrafficDrop {
	return &TrafficDrop{
		Threshold:     threshold,
		WindowSeconds: windowSeconds,
		baselines:     make(map[string]float64),
		hasBaseline:   make(map[string]bool),
	}
}

func (r *TrafficDrop) Name() string { return NameTrafficDrop }

func (r *TrafficDrop) Evaluate(service string, w *window.ServiceWindow) *Violation {
	current, ok := w.RPS(r.WindowSeconds)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasBaseline[service] {
		r.baselines[service] = current
		r.hasBaseline[service] = true
		return nil
	}

	baseline := r.baselines[service]
	var drop float64
	if baseline > 0 {
		drop = (baseline - current) / baseline
	}

	if drop > r.Threshold {
		return &Violation{
			RuleName:  NameTrafficDrop,
			Service:   service,
			Severity:  SeverityWarning,
			Value:     drop,
			Threshold: r.Threshold,
			Message: fmt.Sprintf("RPS dropped %.1f%% from baseline %.1f to %.1f",
				drop*100, baseline, current),
		}
	}

	// Not firing: roll the baseline forward via exponential moving average.
	r.baselines[service] = 0.95*baseline + 0.05*current
	return nil
}

// Baseline exposes the current per-service baseline, mainly for tests.
func (r *TrafficDrop) Baseline(service string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baselines[service], r.hasBaseline[service]
}

// SetBaseline forces a baseline value, used by tests to exercise the
// already-seeded path without waiting on a real evaluation cycle.
func (r *TrafficDrop) SetBaseline(service string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselines[service] = value
	r.hasBaseline[service] = true
}

// Default builds the standard three-rule set from configuration values.
func Default(latencyThresholdMS, errorRateThreshold, trafficDropThreshold float64, windowSeconds int) []Rule {
	return []Rule{
		HighLatencyP99{ThresholdMS: latencyThresholdMS},
		HighErrorRate{Threshold: errorRateThreshold},
		NewTrafficDrop(trafficDropThreshold, windowSeconds),
	}
}
