package metrics

import (
	"testing"
)

func counterValue(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			switch {
			case m.Counter != nil:
				total += m.Counter.GetValue()
			case m.Gauge != nil:
				total += m.Gauge.GetValue()
			}
		}
	}
	return total
}

func TestIncSignalIncrementsCounter(t *testing.T) {
	r := New()
	r.IncSignal("sma_crossover", "long")
	r.IncSignal("sma_crossover", "long")
	if v := counterValue(t, r, "core_signals_total"); v != 2 {
		t.Fatalf("core_signals_total = %v, want 2", v)
	}
}

func TestIncEventSatisfiesRecorderInterface(t *testing.T) {
	r := New()
	r.IncEvent("signal.generated")
	if v := counterValue(t, r, "core_events_total"); v != 1 {
		t.Fatalf("core_events_total = %v, want 1", v)
	}
}

func TestSetRegimeFlipsExclusiveSeries(t *testing.T) {
	r := New()
	all := []string{"trending_up", "ranging", "volatile"}
	r.SetRegime("ranging", all)
	if v := counterValue(t, r, "core_regime"); v != 1 {
		t.Fatalf("sum of core_regime series = %v, want 1 (only one active)", v)
	}
}
