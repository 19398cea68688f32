// Package interview implements the interview session state machine of one
// interview view.
//
// The [Controller] moves a [Session] through
//
//	Idle → Starting → AwaitingAnswer ⇄ Submitting → Complete
//
// with Expired and Terminated as absorbing side exits. At most one start or
// submit call is in flight at a time; a trigger arriving while one is
// outstanding is dropped, never queued. When the Interview Service cannot be
// reached on start, the session continues offline on locally generated
// questions and the next submission (or an explicit [Controller.Resume])
// re-attempts the start transparently.
//
// All methods must be called on the view's loop goroutine.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/proctora/internal/loop"
	"github.com/MrWong99/proctora/internal/narration"
	"github.com/MrWong99/proctora/internal/voicecmd"
	service "github.com/MrWong99/proctora/pkg/interview"
	"github.com/MrWong99/proctora/pkg/sensor"
)

// ErrNoSession is passed to a report callback when the session never
// obtained a server identifier.
var ErrNoSession = errors.New("interview: no server session")

const (
	msgExpired       = "Session expired. Please start a new interview."
	msgFinished      = "Interview ended. Redirecting to report."
	msgOffline       = "Interview Service unavailable. Using local fallback questions."
	msgStillOffline  = "Interview Service is still unavailable."
	msgEmptyAnswer   = "Please provide an answer before submitting."
	msgBusy          = "Your previous answer is still being processed."
	msgNoRecognition = "Speech recognition is not available."
	msgCompleteTail  = "The interview is now complete."
	msgTerminated    = "Interview terminated due to suspicious behavior."

	defaultJobDescription = "General Software Engineering"
	defaultExperience     = "Not specified"
)

// Config tunes the Controller.
type Config struct {
	// QuestionCount is used when Start is called without a count.
	QuestionCount int

	// CompletionDelay separates the final narration from the navigation to
	// the report view.
	CompletionDelay time.Duration
}

// DefaultConfig returns five questions and a five second completion delay.
func DefaultConfig() Config {
	return Config{
		QuestionCount:   5,
		CompletionDelay: 5 * time.Second,
	}
}

// Narrator is the single narration slot. *narration.Arbiter implements it.
type Narrator interface {
	Narrate(req narration.Request) (string, bool)
	Cancel()
}

// Snapshot is everything the host renders about the interview.
type Snapshot struct {
	Session   Session
	State     State
	Draft     string
	Recording bool
}

// Presenter renders Controller output on the host. Methods are called on the
// loop goroutine.
type Presenter interface {
	Changed(Snapshot)
	Alert(message string)
	Error(message string)
	Notice(message string)
	Navigate(View)
}

// Deps are the Controller's collaborators. Recognizer and Commands may be
// nil.
type Deps struct {
	Scheduler  loop.Scheduler
	Service    service.Service
	Narrator   Narrator
	Recognizer sensor.Recognizer
	Commands   *voicecmd.Matcher
	Presenter  Presenter
	Logger     *slog.Logger
}

// Controller drives one interview session.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	session   Session
	state     State
	draft     string
	recording bool
	answered  int

	// inFlight is the single start/submit token.
	inFlight  bool
	navigated bool
	stopped   bool

	last             narration.Request
	cancelCompletion func()
}

// New creates an idle Controller.
func New(cfg Config, deps Deps) *Controller {
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = DefaultConfig().QuestionCount
	}
	if deps.Presenter == nil {
		deps.Presenter = nopPresenter{}
	}
	if deps.Narrator == nil {
		deps.Narrator = nopNarrator{}
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, deps: deps, log: log}
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session { return c.session }

// State returns the current state.
func (c *Controller) State() State { return c.state }

// SessionID returns the server session ID, or "" while idle or offline.
func (c *Controller) SessionID() string { return c.session.SessionID }

// Answered returns the number of answers the Interview Service accepted.
func (c *Controller) Answered() int { return c.answered }

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{Session: c.session, State: c.state, Draft: c.draft, Recording: c.recording}
}

// SpeakingExpected reports whether the candidate is expected to be talking:
// while recording or while an answer is being submitted.
func (c *Controller) SpeakingExpected() bool {
	return c.recording || c.state == StateSubmitting
}

// Start opens the session. It is ignored unless the Controller is idle.
func (c *Controller) Start(jobDescription, experience string, questionCount int) {
	if c.stopped || c.state != StateIdle {
		c.log.Debug("interview: start ignored", "state", c.state.String())
		return
	}
	jobDescription = strings.TrimSpace(jobDescription)
	if jobDescription == "" {
		jobDescription = defaultJobDescription
	}
	experience = strings.TrimSpace(experience)
	if experience == "" {
		experience = defaultExperience
	}
	if questionCount <= 0 {
		questionCount = c.cfg.QuestionCount
	}
	c.session = Session{
		JobDescription: jobDescription,
		Experience:     experience,
		Level:          ParseLevel(experience),
		MaxQuestions:   questionCount,
		Status:         StatusActive,
	}
	c.inFlight = true
	c.setState(StateStarting)

	req := c.startRequest()
	c.deps.Scheduler.Go(func(ctx context.Context) func() {
		res, err := c.deps.Service.Start(ctx, req)
		return func() { c.applyStart(res, err) }
	})
}

// Resume re-attempts the start of an offline session. It is a no-op unless
// the session is offline and nothing is in flight.
func (c *Controller) Resume() {
	if c.stopped || c.session.Status.Terminal() || !c.session.Offline || c.inFlight {
		return
	}
	c.inFlight = true
	req := c.startRequest()
	c.deps.Scheduler.Go(func(ctx context.Context) func() {
		res, err := c.deps.Service.Start(ctx, req)
		return func() { c.applyResume(res, err) }
	})
}

// SubmitAnswer submits text as the answer to the current question.
func (c *Controller) SubmitAnswer(text string) {
	text = strings.TrimSpace(text)
	switch {
	case c.stopped || c.session.Status.Terminal():
		return
	case text == "":
		c.deps.Presenter.Notice(msgEmptyAnswer)
		return
	case c.inFlight:
		c.log.Debug("interview: submit dropped, call in flight")
		c.deps.Presenter.Notice(msgBusy)
		return
	case c.state != StateAwaitingAnswer:
		c.log.Debug("interview: submit ignored", "state", c.state.String())
		return
	}

	c.draft = text
	c.inFlight = true
	c.stopRecording()
	c.setState(StateSubmitting)

	if !c.session.Offline {
		req := service.AnswerRequest{SessionID: c.session.SessionID, Answer: text}
		c.deps.Scheduler.Go(func(ctx context.Context) func() {
			res, err := c.deps.Service.SubmitAnswer(ctx, req)
			return func() { c.applyAnswer(res, err) }
		})
		return
	}

	startReq := c.startRequest()
	c.deps.Scheduler.Go(func(ctx context.Context) func() {
		started, err := c.deps.Service.Start(ctx, startReq)
		if err != nil {
			return func() { c.applyAnswer(service.AnswerResult{}, fmt.Errorf("interview: restart: %w", err)) }
		}
		res, err := c.deps.Service.SubmitAnswer(ctx, service.AnswerRequest{SessionID: started.SessionID, Answer: text})
		return func() {
			if !c.stopped && !c.session.Status.Terminal() {
				c.adopt(started)
			}
			c.applyAnswer(res, err)
		}
	})
}

// SetDraft replaces the unsubmitted answer text.
func (c *Controller) SetDraft(text string) {
	if c.stopped || c.session.Status.Terminal() {
		return
	}
	c.draft = text
	c.publish()
}

// Replay narrates the current step again.
func (c *Controller) Replay() {
	if c.stopped || (c.last.Text == "" && c.last.Asset == "") {
		return
	}
	c.deps.Narrator.Narrate(c.last)
}

// StartRecording starts speech recognition for an answer.
func (c *Controller) StartRecording() {
	if c.stopped || c.recording || c.inFlight || c.state != StateAwaitingAnswer {
		return
	}
	if c.deps.Recognizer == nil {
		c.deps.Presenter.Error(msgNoRecognition)
		return
	}
	if err := c.deps.Recognizer.Start(); err != nil {
		c.log.Warn("interview: recognition start failed", "err", err)
		c.deps.Presenter.Error(msgNoRecognition)
		return
	}
	c.recording = true
	c.publish()
}

// StopRecording cancels speech recognition.
func (c *Controller) StopRecording() {
	if !c.recording {
		return
	}
	c.stopRecording()
	c.publish()
}

// OnRecognition handles one recognition event. A final transcript is
// checked for spoken commands and otherwise submitted as the answer.
func (c *Controller) OnRecognition(r sensor.Recognition) {
	if c.stopped {
		return
	}
	if text := strings.TrimSpace(r.Text); text != "" {
		if c.deps.Commands != nil {
			if cmd, score := c.deps.Commands.Match(text); cmd == voicecmd.Repeat {
				c.log.Info("interview: voice command", "command", cmd.String(), "score", score)
				c.Replay()
				text = ""
			}
		}
		if text != "" {
			c.draft = text
			c.SubmitAnswer(text)
		}
	}
	if r.Ended && c.recording {
		c.recording = false
		c.publish()
	}
}

// SetStrikes records the server-confirmed strike count. Lower values are
// ignored.
func (c *Controller) SetStrikes(n int) {
	if n <= c.session.Strikes {
		return
	}
	c.session.Strikes = n
	c.publish()
}

// Terminate ends the session because the Interview Service terminated it
// for proctoring violations.
func (c *Controller) Terminate(message string) {
	if c.stopped || c.session.Status.Terminal() {
		return
	}
	if message == "" {
		message = msgTerminated
	}
	c.log.Info("interview: terminated", "session_id", c.session.SessionID, "message", message)
	c.stopRecording()
	c.deps.Narrator.Cancel()
	c.finish(StatusTerminated, StateTerminated)
	c.deps.Presenter.Notice(message)
	c.navigate(ViewReport)
}

// FetchReport loads the report for the session and passes it to cb on the
// loop goroutine.
func (c *Controller) FetchReport(cb func(report string, err error)) {
	sid := c.session.SessionID
	if sid == "" {
		cb("", ErrNoSession)
		return
	}
	c.deps.Scheduler.Go(func(ctx context.Context) func() {
		res, err := c.deps.Service.FetchReport(ctx, service.ReportRequest{SessionID: sid})
		return func() { cb(res.Report, err) }
	})
}

// Stop tears the Controller down. Responses still in flight are ignored.
// Stop is idempotent.
func (c *Controller) Stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	if c.cancelCompletion != nil {
		c.cancelCompletion()
		c.cancelCompletion = nil
	}
	if c.deps.Recognizer != nil {
		c.deps.Recognizer.Cancel()
	}
	c.recording = false
	c.deps.Narrator.Cancel()
}

func (c *Controller) startRequest() service.StartRequest {
	return service.StartRequest{
		JobDescription: c.session.JobDescription,
		Experience:     c.session.Experience,
		QuestionCount:  c.session.MaxQuestions,
	}
}

func (c *Controller) applyStart(res service.StartResult, err error) {
	c.inFlight = false
	if c.stopped || c.session.Status.Terminal() {
		return
	}
	if err != nil {
		c.log.Warn("interview: start failed, continuing offline", "err", err)
		c.goOffline()
		return
	}
	c.adopt(res)
	c.setState(StateAwaitingAnswer)
	c.narrate(joinSentences(res.Intro, res.Question), res.Audio)
}

func (c *Controller) applyResume(res service.StartResult, err error) {
	c.inFlight = false
	if c.stopped || c.session.Status.Terminal() {
		return
	}
	if err != nil {
		c.log.Warn("interview: resume failed", "err", err)
		c.deps.Presenter.Error(msgStillOffline)
		return
	}
	c.adopt(res)
	c.setState(StateAwaitingAnswer)
	c.narrate(joinSentences(res.Intro, res.Question), res.Audio)
}

func (c *Controller) goOffline() {
	intro, question := FallbackStep(c.session.JobDescription, c.session.Level)
	c.session.Offline = true
	c.session.SessionID = ""
	c.session.LastFeedback = intro
	c.session.CurrentQuestion = question
	c.deps.Presenter.Notice(msgOffline)
	c.setState(StateAwaitingAnswer)
	c.narrate(joinSentences(intro, question), "")
}

func (c *Controller) adopt(res service.StartResult) {
	c.session.SessionID = res.SessionID
	c.session.Offline = false
	c.session.QuestionIndex = 0
	c.session.LastFeedback = res.Intro
	c.session.CurrentQuestion = res.Question
}

func (c *Controller) applyAnswer(res service.AnswerResult, err error) {
	c.inFlight = false
	if c.stopped || c.session.Status.Terminal() {
		return
	}
	if err != nil {
		c.answerFailed(err)
		return
	}

	c.answered++
	c.draft = ""
	c.session.LastFeedback = res.Feedback

	if res.Complete() {
		c.finish(StatusComplete, StateComplete)
		c.narrate(joinSentences(res.Feedback, msgCompleteTail), res.Audio)
		c.cancelCompletion = c.deps.Scheduler.After(c.cfg.CompletionDelay, func() {
			c.cancelCompletion = nil
			c.navigate(ViewReport)
		})
		return
	}

	c.session.QuestionIndex++
	c.session.CurrentQuestion = res.NextQuestion
	c.setState(StateAwaitingAnswer)
	c.narrate(joinSentences(res.Feedback, res.NextQuestion), res.Audio)
}

func (c *Controller) answerFailed(err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.log.Info("interview: session expired", "session_id", c.session.SessionID)
		c.finish(StatusExpired, StateExpired)
		c.deps.Presenter.Alert(msgExpired)
		c.navigate(ViewStart)
	case errors.Is(err, service.ErrSessionFinished):
		c.log.Info("interview: session already finished", "session_id", c.session.SessionID)
		c.finish(StatusComplete, StateComplete)
		c.deps.Presenter.Alert(msgFinished)
		c.navigate(ViewReport)
	default:
		c.log.Warn("interview: answer failed", "err", err)
		c.setState(StateAwaitingAnswer)
		c.deps.Presenter.Error("Error processing answer: " + err.Error())
	}
}

func (c *Controller) finish(status Status, state State) {
	c.session.Status = status
	c.setState(state)
}

func (c *Controller) navigate(v View) {
	if c.navigated {
		return
	}
	c.navigated = true
	if c.cancelCompletion != nil {
		c.cancelCompletion()
		c.cancelCompletion = nil
	}
	c.deps.Presenter.Navigate(v)
}

func (c *Controller) narrate(text, asset string) {
	c.last = narration.Request{Text: text, Asset: asset}
	c.deps.Narrator.Narrate(c.last)
}

func (c *Controller) stopRecording() {
	if !c.recording {
		return
	}
	c.recording = false
	if c.deps.Recognizer != nil {
		c.deps.Recognizer.Cancel()
	}
}

func (c *Controller) setState(s State) {
	c.state = s
	c.publish()
}

func (c *Controller) publish() { c.deps.Presenter.Changed(c.Snapshot()) }

// joinSentences joins two sentences, adding a full stop to the first one
// when it has no terminal punctuation.
func joinSentences(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	if strings.ContainsAny(a[len(a)-1:], ".!?") {
		return a + " " + b
	}
	return a + ". " + b
}

type nopPresenter struct{}

func (nopPresenter) Changed(Snapshot) {}
func (nopPresenter) Alert(string)     {}
func (nopPresenter) Error(string)     {}
func (nopPresenter) Notice(string)    {}
func (nopPresenter) Navigate(View)    {}

type nopNarrator struct{}

func (nopNarrator) Narrate(narration.Request) (string, bool) { return "", false }
func (nopNarrator) Cancel()                                  {}
