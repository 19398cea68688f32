package gateway

import (
	"github.com/MrWong99/proctora/pkg/sensor"
)

// Host → server message types.
const (
	msgStart          = "start"
	msgFrame          = "frame"
	msgLevel          = "level"
	msgVisibility     = "visibility"
	msgDevices        = "devices"
	msgRecognition    = "recognition"
	msgRecognitionEnd = "recognition_end"
	msgRecord         = "record"
	msgSubmit         = "submit"
	msgDraft          = "draft"
	msgReplay         = "replay"
	msgResume         = "resume"
	msgPlaybackResult = "playback_result"
	msgReport         = "report"
	msgLeave          = "leave"
)

// Server → host message types.
const (
	outSession         = "session"
	outNarrate         = "narrate"
	outSpeak           = "speak"
	outCancelNarration = "cancel_narration"
	outWarning         = "warning"
	outWarningCleared  = "warning_cleared"
	outStrikes         = "strikes"
	outAttention       = "attention"
	outNavigate        = "navigate"
	outAlert           = "alert"
	outError           = "error"
	outNotice          = "notice"
	outSelectDevice    = "select_device"
	outRecognitionOn   = "recognition_start"
	outRecognitionOff  = "recognition_stop"
	outReport          = "report"
)

// inbound is the union of every host message. Only the fields relevant to
// Type are populated.
type inbound struct {
	Type string `json:"type"`

	// start
	JobDescription string `json:"jd,omitempty"`
	Experience     string `json:"experience,omitempty"`
	QuestionCount  int    `json:"question_count,omitempty"`

	// frame
	Landmarks sensor.Landmarks `json:"landmarks,omitempty"`

	// level
	Value float64 `json:"value,omitempty"`

	// visibility
	Hidden bool `json:"hidden,omitempty"`

	// devices
	Cameras     []deviceInfo `json:"cameras,omitempty"`
	Microphones []deviceInfo `json:"microphones,omitempty"`

	// recognition, submit, draft
	Text string `json:"text,omitempty"`

	// record
	On *bool `json:"on,omitempty"`

	// playback_result
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

type deviceInfo struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// sessionMsg is the session snapshot sent after every controller change.
type sessionMsg struct {
	Type          string `json:"type"`
	ViewID        string `json:"view_id"`
	SessionID     string `json:"session_id,omitempty"`
	State         string `json:"state"`
	Status        string `json:"status"`
	Level         string `json:"level"`
	QuestionIndex int    `json:"question_index"`
	MaxQuestions  int    `json:"max_questions"`
	Question      string `json:"question,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
	Strikes       int    `json:"strikes"`
	Offline       bool   `json:"offline"`
	Draft         string `json:"draft,omitempty"`
	Recording     bool   `json:"recording"`
}

type narrateMsg struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Text  string `json:"text,omitempty"`
	Asset string `json:"asset,omitempty"`
}

type warningMsg struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

type strikesMsg struct {
	Type       string `json:"type"`
	Count      int    `json:"count"`
	Threshold  int    `json:"threshold"`
	LastReason string `json:"last_reason,omitempty"`
}

type attentionMsg struct {
	Type        string `json:"type"`
	LookingAway bool   `json:"looking_away"`
}

type navigateMsg struct {
	Type string `json:"type"`
	View string `json:"view"`
}

type messageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type selectDeviceMsg struct {
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	DeviceID string `json:"device_id"`
}

type reportMsg struct {
	Type   string `json:"type"`
	Report string `json:"report"`
}

type typeOnly struct {
	Type string `json:"type"`
}

func toDevices(kind sensor.DeviceKind, in []deviceInfo) []sensor.Device {
	out := make([]sensor.Device, 0, len(in))
	for _, d := range in {
		if d.ID == "" {
			continue
		}
		out = append(out, sensor.Device{ID: d.ID, Label: d.Label, Kind: kind})
	}
	return out
}
