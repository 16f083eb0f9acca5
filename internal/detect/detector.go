// Package detect orchestrates the rule set over every service in the
// window store, applying consecutive-window confirmation before surfacing
// a violation.
package detect

import (
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/anomstream/internal/confirm"
	"github.com/skywalker-88/anomstream/internal/rules"
	"github.com/skywalker-88/anomstream/internal/window"
	"github.com/skywalker-88/anomstream/pkg/metrics"
)

// Detector runs the configured rule set over a window.Store, gated by a
// confirm.Tracker.
type Detector struct {
	store    *window.Store
	tracker  *confirm.Tracker
	rules    []rules.Rule
	required int
}

// New constructs a Detector. requiredConsecutive is K: the number of
// consecutive firing detection cycles required before a violation is
// surfaced.
func New(store *window.Store, tracker *confirm.Tracker, ruleSet []rules.Rule, requiredConsecutive int) *Detector {
	if requiredConsecutive < 1 {
		requiredConsecutive = 1
	}
	return &Detector{store: store, tracker: tracker, rules: ruleSet, required: requiredConsecutive}
}

// Detect runs one full pass over all known services and all rules,
// returning the violations that reached their confirmation depth this
// cycle. Ordering of the returned slice is not a contract.
func (d *Detector) Detect() []rules.Violation {
	var out []rules.Violation

	for _, service := range d.store.ListServices() {
		w := d.store.GetWindow(service)
		if w == nil {
			continue
		}
		for _, rule := range d.rules {
			v := rule.Evaluate(service, w)
			count := d.tracker.Observe(service, rule.Name(), v != nil)
			if v == nil {
				continue
			}
			if count >= d.required {
				out = append(out, *v)
				metrics.ViolationsSurfacedTotal.WithLabelValues(v.RuleName).Inc()
				log.Warn().
					Str("rule", v.RuleName).
					Str("service", v.Service).
					Float64("value", round4(v.Value)).
					Float64("threshold", v.Threshold).
					Int("consecutive_windows", count).
					Msg("anomaly_detected")
			}
		}
	}

	metrics.DetectionCyclesTotal.Inc()
	return out
}

func round4(v float64) float64 {
	const p = 10000
	if v >= 0 {
		return float64(int64(v*p+0.5)) / p
	}
	return float64(int64(v*p-0.5)) / p
}
