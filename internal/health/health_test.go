package health

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		avg  time.Duration
		n    int
		want Health
	}{
		{"no samples", 0, 0, Unknown},
		{"fast", 50 * time.Millisecond, 1, Healthy},
		{"just under degraded", 99 * time.Millisecond, 3, Healthy},
		{"degraded boundary", 100 * time.Millisecond, 3, Degraded},
		{"degraded", 150 * time.Millisecond, 5, Degraded},
		{"unhealthy boundary", 300 * time.Millisecond, 5, Unhealthy},
		{"unhealthy", 350 * time.Millisecond, 10, Unhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.avg, tt.n); got != tt.want {
				t.Errorf("Classify(%v, %d) = %s, want %s", tt.avg, tt.n, got, tt.want)
			}
		})
	}
}

func TestMonitor_AverageAndHealth(t *testing.T) {
	m := NewMonitor()

	if got := m.Health(true); got != Unknown {
		t.Errorf("empty Health = %s, want UNKNOWN", got)
	}

	now := time.Unix(0, 0)
	for _, ms := range []int{100, 200} {
		m.Add(Sample{Latency: time.Duration(ms) * time.Millisecond, Timestamp: now})
	}

	if got := m.Average(); got != 150*time.Millisecond {
		t.Errorf("Average() = %v, want 150ms", got)
	}
	if got := m.Health(true); got != Degraded {
		t.Errorf("Health(true) = %s, want DEGRADED", got)
	}
	if got := m.Health(false); got != Unknown {
		t.Errorf("Health(false) = %s, want UNKNOWN", got)
	}
}

func TestMonitor_EvictsOldest(t *testing.T) {
	m := NewMonitor()
	now := time.Unix(0, 0)

	// Ten slow samples, then ten fast ones push them all out.
	for i := 0; i < Window; i++ {
		m.Add(Sample{Latency: time.Second, Timestamp: now})
	}
	for i := 0; i < Window; i++ {
		m.Add(Sample{Latency: 50 * time.Millisecond, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	if m.Len() != Window {
		t.Errorf("Len() = %d, want %d", m.Len(), Window)
	}
	if got := m.Average(); got != 50*time.Millisecond {
		t.Errorf("Average() = %v, want 50ms", got)
	}
	if got := m.Health(true); got != Healthy {
		t.Errorf("Health = %s, want HEALTHY", got)
	}

	samples := m.Samples()
	if !samples[0].Timestamp.Equal(now) || !samples[Window-1].Timestamp.Equal(now.Add(9*time.Second)) {
		t.Errorf("Samples() not ordered oldest first: first=%v last=%v", samples[0].Timestamp, samples[Window-1].Timestamp)
	}
}

func TestMonitor_Reset(t *testing.T) {
	m := NewMonitor()
	m.Add(Sample{Latency: 400 * time.Millisecond})

	m.Reset()
	if m.Len() != 0 || m.Average() != 0 {
		t.Errorf("after Reset Len=%d Average=%v, want 0 and 0", m.Len(), m.Average())
	}
}
