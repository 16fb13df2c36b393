package trustcore

import (
	"strings"
	"sync"
	"testing"
)

func TestMetricsInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login success = %d, want 2", got)
	}
	if got := m.Value(MetricLoginFailure); got != 1 {
		t.Fatalf("login failure = %d, want 1", got)
	}
	if got := m.Value(MetricAccountLocked); got != 0 {
		t.Fatalf("untouched counter = %d, want 0", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)

	if m.Enabled() {
		t.Fatal("disabled metrics report enabled")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled counter moved to %d", got)
	}
	if got := len(m.Snapshot().Counters); got != 0 {
		t.Fatalf("disabled snapshot has %d counters", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics

	m.Inc(MetricLoginSuccess)
	if m.Enabled() {
		t.Fatal("nil metrics report enabled")
	}
	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil metrics return non-zero")
	}
}

func TestMetricsOutOfRange(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricID(60000))
	if got := m.Value(MetricID(60000)); got != 0 {
		t.Fatalf("out-of-range counter = %d", got)
	}
}

func TestMetricsSnapshotIsACopy(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)

	snapshot := m.Snapshot()
	snapshot.Counters[MetricLoginSuccess] = 99

	if got := m.Value(MetricLoginSuccess); got != 1 {
		t.Fatalf("mutating the snapshot leaked: %d", got)
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Inc(MetricSessionCreated)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricSessionCreated); got != 8000 {
		t.Fatalf("counter = %d, want 8000", got)
	}
}

func TestMetricNamesStableAndUnique(t *testing.T) {
	seen := make(map[string]MetricID)
	for _, id := range AllMetricIDs() {
		name := MetricName(id)
		if name == "" {
			t.Fatalf("metric %d has no name", id)
		}
		if !strings.HasPrefix(name, "trustcore.") {
			t.Fatalf("metric name %q lacks the trustcore prefix", name)
		}
		if other, dup := seen[name]; dup {
			t.Fatalf("metrics %d and %d share name %q", other, id, name)
		}
		seen[name] = id
	}
}
