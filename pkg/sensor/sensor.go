// Package sensor defines the capability interfaces through which the
// proctoring core consumes host-provided devices.
//
// Every continuously-running producer is exposed as a subscription: a caller
// registers a sample callback and receives an [Unsubscribe] function that
// detaches it. Adapters carry no decision logic; classification happens in
// the consumers (internal/gaze, internal/noise).
//
// The interfaces live under pkg/ because host bridges other than the bundled
// WebSocket gateway are expected to implement them.
package sensor

import (
	"context"
	"time"
)

// Unsubscribe detaches a previously registered callback. Calling it more than
// once is safe.
type Unsubscribe func()

// Source is a stream of samples of type T.
//
// Implementations invoke onSample on the goroutine that owns the consumer's
// state (the view's event loop for the bundled gateway). Callbacks must not
// block.
type Source[T any] interface {
	Subscribe(onSample func(T)) Unsubscribe
}

// DeviceKind classifies a capture device.
type DeviceKind string

const (
	KindCamera     DeviceKind = "camera"
	KindMicrophone DeviceKind = "microphone"
)

// Device describes one capture device reported by the host.
type Device struct {
	ID    string
	Label string
	Kind  DeviceKind
}

// DeviceSource is a [Source] whose samples come from one selectable device.
// Each device handle is single-owner: a new subscription replaces the
// previous one for the same source.
type DeviceSource[T any] interface {
	// Devices returns the currently known devices of this kind, in host order.
	Devices() []Device

	// OnDevicesChanged registers cb to be called with the new device list
	// whenever the host reports a change.
	OnDevicesChanged(cb func([]Device)) Unsubscribe

	// SubscribeDevice starts capturing from deviceID and delivers samples to
	// onSample. An empty deviceID lets the host pick its default device.
	SubscribeDevice(deviceID string, onSample func(T)) (Unsubscribe, error)
}

// Mesh indices of the reference landmarks used for head-yaw estimation.
const (
	NoseTip  = 1
	LeftEar  = 234
	RightEar = 454
)

// Point is a normalized landmark coordinate in [0, 1] image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Landmarks is a normalized face-landmark set keyed by mesh index. Hosts may
// send a sparse set containing only the indices the classifier needs.
type Landmarks map[int]Point

// At returns the landmark at index i.
func (l Landmarks) At(i int) (Point, bool) {
	p, ok := l[i]
	return p, ok
}

// Frame is one camera frame reduced to its face landmarks. Face is nil when
// the host detected no face.
type Frame struct {
	Face Landmarks
	At   time.Time
}

// Level is one loudness sample on the 0–255 analyser scale.
type Level struct {
	Value float64
	At    time.Time
}

// VisibilityChange reports that the interview page became hidden or visible.
type VisibilityChange struct {
	Hidden bool
	At     time.Time
}

// Recognition is a speech-to-text result. A result with Ended set marks the
// end of the capture that was started with [Recognizer.Start]; it may carry
// no text.
type Recognition struct {
	Text  string
	Ended bool
}

// Camera delivers face-landmark frames from a selectable video device.
type Camera = DeviceSource[Frame]

// Microphone delivers loudness samples from a selectable audio device.
type Microphone = DeviceSource[Level]

// Visibility delivers page-visibility transitions.
type Visibility = Source[VisibilityChange]

// Recognizer captures one spoken answer at a time.
type Recognizer interface {
	Source[Recognition]

	// Start begins a single capture. Results arrive through the subscription.
	Start() error

	// Cancel aborts the capture in progress, if any.
	Cancel()
}

// Speaker plays narration on the host.
//
// PlayAsset and Speak return once playback has started or failed; they do not
// wait for playback to finish. Implementations must be safe for concurrent
// use because they are called from worker goroutines.
type Speaker interface {
	// PlayAsset plays a pre-recorded narration asset (base64 audio).
	PlayAsset(ctx context.Context, id, asset string) error

	// Speak renders text with on-device speech synthesis.
	Speak(ctx context.Context, id, text string) error

	// Cancel stops any narration currently playing.
	Cancel()
}

// Capabilities bundles the host capabilities one interview view consumes.
// Any field may be nil when the host lacks that capability.
type Capabilities struct {
	Camera     Camera
	Microphone Microphone
	Visibility Visibility
	Recognizer Recognizer
	Speaker    Speaker
}
