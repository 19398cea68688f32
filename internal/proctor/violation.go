package proctor

import (
	"fmt"
	"time"
)

// Kind identifies the classifier that produced a violation.
type Kind int

const (
	LookAway Kind = iota
	FaceAbsent
	TabHidden
	AmbientNoise
)

var kindNames = [...]string{
	LookAway:     "look_away",
	FaceAbsent:   "face_absent",
	TabHidden:    "tab_hidden",
	AmbientNoise: "ambient_noise",
}

var kindReasons = [...]string{
	LookAway:     "Looking away from screen detected.",
	FaceAbsent:   "Face not detected or camera obstructed.",
	TabHidden:    "Tab switch / Window minimized detected",
	AmbientNoise: "Suspicious audio/murmuring detected while not answering.",
}

// String returns the snake_case kind name used in metrics and on the wire.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Reason returns the human-readable reason sent with the strike report.
func (k Kind) Reason() string {
	if k >= 0 && int(k) < len(kindReasons) {
		return kindReasons[k]
	}
	return "Suspicious behavior detected."
}

// Violation is one debounced occurrence. It is consumed immediately and
// never persisted.
type Violation struct {
	Kind      Kind
	Timestamp time.Time
	// Strength is the raw signal at the triggering sample: the yaw ratio for
	// gaze, the loudness for noise, 1 for visibility.
	Strength float64
}

// StrikeState is the server-confirmed strike accounting. Count only ever
// takes values reported by the Interview Service and never decreases.
type StrikeState struct {
	Count      int
	Threshold  int
	LastReason string
}

// Warning is a transient banner raised after a confirmed strike. It stays up
// until the classifier for Kind reports a clean sample.
type Warning struct {
	Kind    Kind
	Message string
}

// Listener receives the Monitor's user-visible state changes. All methods
// are called on the view's loop goroutine.
type Listener interface {
	StrikesChanged(StrikeState)
	WarningRaised(Warning)
	WarningCleared(Kind)
	// AttentionChanged reports the immediate (undebounced) gaze prompt: true
	// on the first non-facing frame of a run, false on the next facing frame.
	AttentionChanged(lookingAway bool)
	// Terminated is called exactly once when the service ends the session.
	Terminated(message string)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) StrikesChanged(StrikeState) {}
func (NopListener) WarningRaised(Warning)      {}
func (NopListener) WarningCleared(Kind)        {}
func (NopListener) AttentionChanged(bool)      {}
func (NopListener) Terminated(string)          {}
