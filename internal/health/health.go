// Package health scores connection quality from round-trip latency samples.
package health

import "time"

// Window is the number of samples kept for the rolling average.
const Window = 10

// Classification thresholds on the rolling average.
const (
	DegradedThreshold  = 100 * time.Millisecond
	UnhealthyThreshold = 300 * time.Millisecond
)

// Health is a coarse connection quality label.
type Health string

const (
	Unknown   Health = "UNKNOWN"
	Healthy   Health = "HEALTHY"
	Degraded  Health = "DEGRADED"
	Unhealthy Health = "UNHEALTHY"
)

// Sample is a single round-trip measurement.
type Sample struct {
	Latency   time.Duration
	Timestamp time.Time
}

// LatencyMs returns the sample latency in milliseconds.
func (s Sample) LatencyMs() int64 {
	return s.Latency.Milliseconds()
}

// Classify maps a rolling average over n samples to a Health.
func Classify(avg time.Duration, n int) Health {
	switch {
	case n == 0:
		return Unknown
	case avg < DegradedThreshold:
		return Healthy
	case avg < UnhealthyThreshold:
		return Degraded
	default:
		return Unhealthy
	}
}

// Monitor keeps the last Window samples in a ring buffer.
// It is not safe for concurrent use.
type Monitor struct {
	samples [Window]Sample
	head    int // next write position
	count   int
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Add records a sample, evicting the oldest one when the buffer is full.
func (m *Monitor) Add(s Sample) {
	m.samples[m.head] = s
	m.head = (m.head + 1) % Window
	if m.count < Window {
		m.count++
	}
}

// Reset drops all samples.
func (m *Monitor) Reset() {
	m.samples = [Window]Sample{}
	m.head = 0
	m.count = 0
}

// Len returns the number of samples held.
func (m *Monitor) Len() int {
	return m.count
}

// Average returns the mean latency of the held samples, or 0 if empty.
func (m *Monitor) Average() time.Duration {
	if m.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < m.count; i++ {
		sum += m.samples[i].Latency
	}
	return sum / time.Duration(m.count)
}

// Samples returns the held samples, oldest first.
func (m *Monitor) Samples() []Sample {
	out := make([]Sample, 0, m.count)
	start := (m.head - m.count + Window) % Window
	for i := 0; i < m.count; i++ {
		out = append(out, m.samples[(start+i)%Window])
	}
	return out
}

// Health classifies the buffer. A connection that is not up is always Unknown.
func (m *Monitor) Health(connected bool) Health {
	if !connected {
		return Unknown
	}
	return Classify(m.Average(), m.count)
}
