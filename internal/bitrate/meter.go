package bitrate

import (
	"sync"
	"time"
)

// Sample is the rate observed over one window.
type Sample struct {
	BitsPerSecond float64
	Objects       int
	Window        time.Duration
	Shift         bool
}

// Meter accumulates received bytes and turns them into per-window samples.
type Meter struct {
	detector ShiftDetector
	now      func() time.Time

	mu      sync.Mutex
	start   time.Time
	bytes   int
	objects int
}

// NewMeter returns a meter that feeds each sample to detector. A nil
// detector never reports a shift.
func NewMeter(detector ShiftDetector) *Meter {
	return newMeter(detector, time.Now)
}

func newMeter(detector ShiftDetector, now func() time.Time) *Meter {
	return &Meter{detector: detector, now: now, start: now()}
}

// Add records one received object of n bytes.
func (m *Meter) Add(n int) {
	m.mu.Lock()
	m.bytes += n
	m.objects++
	m.mu.Unlock()
}

// Sample closes the current window and starts the next one.
// It reports false when no time has passed since the last sample.
func (m *Meter) Sample() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	window := now.Sub(m.start)
	if window <= 0 {
		return Sample{}, false
	}
	s := Sample{
		BitsPerSecond: float64(m.bytes*8) / window.Seconds(),
		Objects:       m.objects,
		Window:        window,
	}
	if m.detector != nil {
		s.Shift = m.detector.Detect(s.BitsPerSecond)
	}
	m.start = now
	m.bytes = 0
	m.objects = 0
	return s, true
}
