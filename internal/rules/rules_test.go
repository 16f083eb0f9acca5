package rules

import (
	"testing"
	"time"

	"github.com/skywalker-88/anomstream/internal/window"
)

func makeWindow(t *testing.T, latencies []float64, errors []bool) *window.ServiceWindow {
	t.Helper()
	w := &window.ServiceWindow{}
	now := time.Now()
	for i, lat := range latencies {
		isErr := false
		if errors != nil {
			isErr = errors[i]
		}
		w.Append(window.MetricSample{Timestamp: now, LatencyMS: lat, Error: isErr})
	}
	return w
}

func TestHighLatencyP99_NoViolationUnderThreshold(t *testing.T) {
	r := HighLatencyP99{ThresholdMS: 500}
	w := makeWindow(t, []float64{100, 200, 150, 300, 250}, nil)
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("expected no violation, got %+v", v)
	}
}

func TestHighLatencyP99_ViolationAboveThreshold(t *testing.T) {
	r := HighLatencyP99{ThresholdMS: 500}
	w := makeWindow(t, []float64{600, 700, 800, 900, 1000}, nil)
	v := r.Evaluate("api-service", w)
	if v == nil {
		t.Fatal("expected a violation")
	}
	if v.RuleName != NameHighLatencyP99 || v.Severity != SeverityWarning || v.Value < 500 {
		t.Fatalf("unexpected violation: %+v", v)
	}
}

func TestHighLatencyP99_EmptyWindow(t *testing.T) {
	r := HighLatencyP99{ThresholdMS: 500}
	w := &window.ServiceWindow{}
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("expected nil on empty window, got %+v", v)
	}
}

func TestHighLatencyP99_ThresholdBoundaryDoesNotFire(t *testing.T) {
	r := HighLatencyP99{ThresholdMS: 500}
	latencies := make([]float64, 100)
	for i := range latencies {
		latencies[i] = 500
	}
	w := makeWindow(t, latencies, nil)
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("exactly-at-threshold should not fire, got %+v", v)
	}
}

func TestHighErrorRate_NoViolationUnderThreshold(t *testing.T) {
	r := HighErrorRate{Threshold: 0.05}
	errors := make([]bool, 100)
	errors[98], errors[99] = true, true // 2%
	latencies := make([]float64, 100)
	w := makeWindow(t, latencies, errors)
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("expected no violation, got %+v", v)
	}
}

func TestHighErrorRate_ViolationAboveThreshold(t *testing.T) {
	r := HighErrorRate{Threshold: 0.05}
	errors := make([]bool, 100)
	for i := 90; i < 100; i++ {
		errors[i] = true // 10%
	}
	latencies := make([]float64, 100)
	w := makeWindow(t, latencies, errors)
	v := r.Evaluate("api-service", w)
	if v == nil {
		t.Fatal("expected a violation")
	}
	if v.Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %q", v.Severity)
	}
	if v.Value < 0.0999 || v.Value > 0.1001 {
		t.Fatalf("expected value ~= 0.10, got %v", v.Value)
	}
}

func TestHighErrorRate_AllErrors(t *testing.T) {
	r := HighErrorRate{Threshold: 0.05}
	errors := make([]bool, 10)
	for i := range errors {
		errors[i] = true
	}
	latencies := make([]float64, 10)
	w := makeWindow(t, latencies, errors)
	v := r.Evaluate("api-service", w)
	if v == nil || v.Value != 1.0 {
		t.Fatalf("expected value == 1.0, got %+v", v)
	}
}

func TestTrafficDrop_FirstEvaluationSeedsBaseline(t *testing.T) {
	r := NewTrafficDrop(0.5, 60)
	latencies := make([]float64, 60)
	w := makeWindow(t, latencies, nil)
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("expected no violation on baseline seed, got %+v", v)
	}
	if b, ok := r.Baseline("api-service"); !ok || b != 1.0 {
		t.Fatalf("expected baseline seeded to 1.0 (60 samples / 60s), got %v (ok=%v)", b, ok)
	}
}

func TestTrafficDrop_NoViolationStableTraffic(t *testing.T) {
	r := NewTrafficDrop(0.5, 60)
	r.SetBaseline("api-service", 1.0)
	latencies := make([]float64, 60)
	w := makeWindow(t, latencies, nil)
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("expected no violation, got %+v", v)
	}
}

func TestTrafficDrop_FiresAndFreezesBaseline(t *testing.T) {
	r := NewTrafficDrop(0.5, 60)
	r.SetBaseline("api-service", 10.0)
	latencies := make([]float64, 10)
	w := makeWindow(t, latencies, nil)
	v := r.Evaluate("api-service", w)
	if v == nil {
		t.Fatal("expected a violation")
	}
	if v.RuleName != NameTrafficDrop || v.Severity != SeverityWarning {
		t.Fatalf("unexpected violation: %+v", v)
	}
	if b, _ := r.Baseline("api-service"); b != 10.0 {
		t.Fatalf("expected baseline frozen at 10.0 while firing, got %v", b)
	}
}

func TestTrafficDrop_BaselineEMAUpdateWhenNotFiring(t *testing.T) {
	r := NewTrafficDrop(0.5, 60)
	r.SetBaseline("api-service", 2.0)
	latencies := make([]float64, 60) // current RPS = 60/60 = 1.0
	w := makeWindow(t, latencies, nil)
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("expected no violation, got %+v", v)
	}
	b, _ := r.Baseline("api-service")
	want := 2.0*0.95 + 1.0*0.05
	if b < want-1e-9 || b > want+1e-9 {
		t.Fatalf("expected EMA baseline %v, got %v", want, b)
	}
}

func TestTrafficDrop_BaselineIdempotentWhenCurrentEqualsBaseline(t *testing.T) {
	r := NewTrafficDrop(0.5, 60)
	r.SetBaseline("api-service", 1.0)
	latencies := make([]float64, 60) // current RPS = 1.0 == baseline
	w := makeWindow(t, latencies, nil)
	r.Evaluate("api-service", w)
	b, _ := r.Baseline("api-service")
	if b != 1.0 {
		t.Fatalf("expected baseline unchanged at 1.0 when current == baseline, got %v", b)
	}
}

func TestTrafficDrop_EmptyWindow(t *testing.T) {
	r := NewTrafficDrop(0.5, 60)
	r.SetBaseline("api-service", 10.0)
	w := &window.ServiceWindow{}
	if v := r.Evaluate("api-service", w); v != nil {
		t.Fatalf("expected nil on empty window, got %+v", v)
	}
}
