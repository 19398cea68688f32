// Package noise detects sustained background talking from microphone
// loudness samples against an adaptive ambient baseline.
//
// The baseline is calibrated with a plain running mean over the first
// samples, then follows the room with an exponential moving average. It is
// frozen whenever the candidate is expected to be speaking so that answers do
// not raise it.
package noise

import (
	"fmt"
	"math"
)

// Verdict is the outcome of observing one sample.
type Verdict int

const (
	Quiet Verdict = iota
	Anomalous
)

// String returns the lower-case verdict name.
func (v Verdict) String() string {
	switch v {
	case Quiet:
		return "quiet"
	case Anomalous:
		return "anomalous"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Config holds the detector constants.
type Config struct {
	// CalibrationSamples is the number of initial samples folded into the
	// baseline with a running mean.
	CalibrationSamples int

	// Alpha is the EMA smoothing factor used after calibration.
	Alpha float64

	// MinMargin and MarginFactor define the threshold:
	// baseline + max(MinMargin, baseline*MarginFactor).
	MinMargin    float64
	MarginFactor float64

	// RunLength is the number of consecutive over-threshold samples that
	// make one anomaly.
	RunLength int
}

// DefaultConfig returns the documented constants.
func DefaultConfig() Config {
	return Config{
		CalibrationSamples: 180,
		Alpha:              0.02,
		MinMargin:          40,
		MarginFactor:       0.4,
		RunLength:          240,
	}
}

// Baseline is the adaptive ambient level.
type Baseline struct {
	EMA                float64
	CalibrationSamples int
}

// Result describes one observed sample.
type Result struct {
	Verdict   Verdict
	Over      bool
	Threshold float64
	Run       int
}

// Detector is not safe for concurrent use.
type Detector struct {
	cfg      Config
	baseline Baseline
	run      int
}

// NewDetector returns a Detector with an empty baseline.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Threshold returns the current anomaly threshold.
func (d *Detector) Threshold() float64 {
	b := d.baseline.EMA
	return b + math.Max(d.cfg.MinMargin, b*d.cfg.MarginFactor)
}

// Observe folds level into the baseline and classifies it. speakingExpected
// is true while an answer is being recorded or submitted; such samples never
// move the post-calibration baseline and never count toward an anomaly.
func (d *Detector) Observe(level float64, speakingExpected bool) Result {
	b := &d.baseline
	switch {
	case b.CalibrationSamples < d.cfg.CalibrationSamples:
		n := float64(b.CalibrationSamples)
		b.EMA = (b.EMA*n + level) / (n + 1)
		b.CalibrationSamples++
	case !speakingExpected:
		b.EMA = b.EMA*(1-d.cfg.Alpha) + level*d.cfg.Alpha
	}

	th := d.Threshold()
	res := Result{Verdict: Quiet, Threshold: th}
	if speakingExpected || level <= th {
		d.run = 0
		return res
	}

	res.Over = true
	d.run++
	if d.run >= d.cfg.RunLength {
		d.run = 0
		res.Verdict = Anomalous
	}
	res.Run = d.run
	return res
}

// Baseline returns a copy of the current baseline.
func (d *Detector) Baseline() Baseline { return d.baseline }

// Run returns the current over-threshold run length.
func (d *Detector) Run() int { return d.run }

// Reset discards the baseline and run, restarting calibration.
func (d *Detector) Reset() {
	d.baseline = Baseline{}
	d.run = 0
}
