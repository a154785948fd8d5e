// Package timing measures how long a proxy session spends connecting to
// its backend and waiting for the first byte of its response, for
// inclusion in the session's completion log line.
package timing

import (
	"fmt"
	"time"
)

// Metrics is the timing breakdown for one session's backend leg.
type Metrics struct {
	TCPConnect time.Duration `json:"tcp_connect"`
	TTFB       time.Duration `json:"ttfb"`
	TotalTime  time.Duration `json:"total_time"`
}

// Timer accumulates the start/end marks for one session.
type Timer struct {
	start     time.Time
	tcpStart  time.Time
	tcpEnd    time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer starts a timing session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartTCP marks the beginning of the backend dial.
func (t *Timer) StartTCP() { t.tcpStart = time.Now() }

// EndTCP marks the end of the backend dial.
func (t *Timer) EndTCP() { t.tcpEnd = time.Now() }

// StartTTFB marks when the proxy starts waiting for the backend's response.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks when the first byte of the backend's response has arrived.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// Metrics returns the timing breakdown collected so far.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// String renders the metrics for a log line.
func (m Metrics) String() string {
	return fmt.Sprintf("tcp_connect=%v ttfb=%v total=%v", m.TCPConnect, m.TTFB, m.TotalTime)
}
