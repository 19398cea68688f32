package interview

// Status is the lifecycle status of a session. Every status other than
// Active is terminal and absorbing.
type Status int

const (
	StatusActive Status = iota
	StatusComplete
	StatusTerminated
	StatusExpired
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusComplete:
		return "complete"
	case StatusTerminated:
		return "terminated"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether s absorbs further transitions.
func (s Status) Terminal() bool { return s != StatusActive }

// State is the Controller's state-machine position.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateAwaitingAnswer
	StateSubmitting
	StateComplete
	StateExpired
	StateTerminated
)

// String returns the snake_case state name used on the wire.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateSubmitting:
		return "submitting"
	case StateComplete:
		return "complete"
	case StateExpired:
		return "expired"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is one candidate's interview attempt as seen by the view.
type Session struct {
	SessionID       string
	JobDescription  string
	Experience      string
	Level           Level
	QuestionIndex   int
	MaxQuestions    int
	CurrentQuestion string
	LastFeedback    string
	Strikes         int
	Status          Status

	// Offline is set while the session runs on local fallback questions
	// because the Interview Service could not be reached. SessionID is
	// empty while Offline.
	Offline bool
}

// View is a navigation target outside the interview view.
type View string

const (
	ViewStart  View = "start"
	ViewReport View = "report"
)
