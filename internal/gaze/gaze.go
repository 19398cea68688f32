// Package gaze classifies per-frame face landmarks as facing the screen,
// looking away, or absent, and tracks how long a non-facing run has lasted.
package gaze

import (
	"fmt"
	"math"

	"github.com/MrWong99/proctora/pkg/sensor"
)

// Verdict is the per-frame classification.
type Verdict int

const (
	Facing Verdict = iota
	Away
	Absent
)

// String returns the lower-case verdict name.
func (v Verdict) String() string {
	switch v {
	case Facing:
		return "facing"
	case Away:
		return "away"
	case Absent:
		return "absent"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Config holds the yaw ratio bounds. A frame whose ratio lies outside
// [MinRatio, MaxRatio] is classified [Away].
type Config struct {
	MinRatio float64
	MaxRatio float64
	Epsilon  float64
}

// DefaultConfig returns the documented bounds (0.2, 4.0) with ε = 0.001.
func DefaultConfig() Config {
	return Config{MinRatio: 0.2, MaxRatio: 4.0, Epsilon: 0.001}
}

// Ratio computes |nose.x − leftEar.x| / (|nose.x − rightEar.x| + eps).
// ok is false when any of the three reference landmarks is missing.
func Ratio(face sensor.Landmarks, eps float64) (ratio float64, ok bool) {
	nose, ok1 := face.At(sensor.NoseTip)
	left, ok2 := face.At(sensor.LeftEar)
	right, ok3 := face.At(sensor.RightEar)
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	return math.Abs(nose.X-left.X) / (math.Abs(nose.X-right.X) + eps), true
}

// Classify returns the verdict for a single landmark set together with the
// computed ratio (0 when absent). A nil set, or one missing a reference
// landmark, is [Absent].
func Classify(cfg Config, face sensor.Landmarks) (Verdict, float64) {
	if face == nil {
		return Absent, 0
	}
	r, ok := Ratio(face, cfg.Epsilon)
	if !ok {
		return Absent, 0
	}
	if r < cfg.MinRatio || r > cfg.MaxRatio {
		return Away, r
	}
	return Facing, r
}

// Window is the run-length state: the number of consecutive non-facing
// frames seen so far.
type Window struct {
	ConsecutiveAway int
}

// Result is the outcome of observing one frame.
type Result struct {
	Verdict Verdict
	Ratio   float64
	// Run is the non-facing run length after this frame; 0 when Facing.
	Run int
}

// Classifier applies [Classify] to a frame stream and maintains a [Window].
// It is not safe for concurrent use.
type Classifier struct {
	cfg    Config
	window Window
}

// NewClassifier returns a Classifier with an empty window.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Observe classifies f and updates the run length.
func (c *Classifier) Observe(f sensor.Frame) Result {
	v, r := Classify(c.cfg, f.Face)
	if v == Facing {
		c.window.ConsecutiveAway = 0
	} else {
		c.window.ConsecutiveAway++
	}
	return Result{Verdict: v, Ratio: r, Run: c.window.ConsecutiveAway}
}

// Window returns a copy of the current run-length state.
func (c *Classifier) Window() Window { return c.window }

// Reset clears the run length.
func (c *Classifier) Reset() { c.window = Window{} }

// SetConfig replaces the ratio bounds without touching the window.
func (c *Classifier) SetConfig(cfg Config) { c.cfg = cfg }
