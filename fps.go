package vittrack

import (
	"sync"
	"time"
)

// FPSMeter averages the per-frame rate 1/latency over the most recent frames
type FPSMeter struct {
	mu    sync.Mutex
	rates []float64
	next  int
	n     int
	sum   float64
}

// NewFPSMeter creates a meter over the last n frames
func NewFPSMeter(n int) *FPSMeter {
	if n <= 0 {
		n = DefaultFPSWindow
	}
	return &FPSMeter{rates: make([]float64, n)}
}

// Add records the processing time of one frame. Non-positive durations
// carry no rate and are ignored.
func (m *FPSMeter) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	rate := 1 / d.Seconds()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n == len(m.rates) {
		m.sum -= m.rates[m.next]
	} else {
		m.n++
	}
	m.rates[m.next] = rate
	m.sum += rate
	m.next = (m.next + 1) % len(m.rates)
}

// FPS returns the mean rate over the window, 0 before any frame
func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// Samples returns how many frames the current average covers
func (m *FPSMeter) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

// Reset forgets all samples
func (m *FPSMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rates {
		m.rates[i] = 0
	}
	m.next, m.n, m.sum = 0, 0, 0
}
