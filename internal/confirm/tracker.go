// Package confirm implements the consecutive-window confirmation counter:
// a rule must fire on K consecutive detection cycles for the same
// (service, rule) pair before the anomaly detector surfaces it.
package confirm

// Tracker is the mapping from (service, rule) to a non-negative streak
// counter. It is owned exclusively by the ingest worker (see
// SPEC_FULL.md §5) and so needs no internal synchronization.
type Tracker struct {
	counts map[string]int
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

func key(service, ruleName string) string { return service + ":" + ruleName }

// Observe records one detection cycle's outcome for (service, ruleName).
// If fired is true the streak counter increments and the new count is
// returned; otherwise the counter resets to 0 and 0 is returned.
func (t *Tracker) Observe(service, ruleName string, fired bool) int {
	k := key(service, ruleName)
	if !fired {
		t.counts[k] = 0
		return 0
	}
	t.counts[k]++
	return t.counts[k]
}

// Count returns the current streak for (service, ruleName) without
// mutating it, mainly for tests.
func (t *Tracker) Count(service, ruleName string) int {
	return t.counts[key(service, ruleName)]
}
