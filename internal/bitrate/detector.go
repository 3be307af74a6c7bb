// Package bitrate measures the receive rate of a subscription and reports
// when it moves away from its recent average.
package bitrate

// ShiftDetector decides whether a rate sample departs from the trend.
type ShiftDetector interface {
	Detect(rate float64) bool
}

var _ ShiftDetector = (*EWMADetector)(nil)

// NewEWMADetector returns a detector with smoothing factor alpha that flags
// samples more than threshold (a fraction) away from the moving average.
// The first warmup samples only seed the average.
func NewEWMADetector(alpha, threshold float64, warmup int) *EWMADetector {
	return &EWMADetector{
		alpha:     alpha,
		threshold: threshold,
		warmup:    warmup,
	}
}

// EWMADetector tracks an exponentially weighted moving average.
type EWMADetector struct {
	alpha     float64
	threshold float64
	warmup    int
	average   float64
}

// Average returns the current moving average.
func (d *EWMADetector) Average() float64 { return d.average }

func (d *EWMADetector) Detect(rate float64) bool {
	if d.warmup > 0 {
		d.warmup--
		d.average = rate
		return false
	}
	d.average = d.alpha*rate + (1-d.alpha)*d.average
	return rate > d.average*(1+d.threshold) || rate < d.average*(1-d.threshold)
}
