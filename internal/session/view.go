// Package session hosts the per-interview View runtime.
//
// A [View] owns every piece of state for one candidate's interview: the
// proctoring monitor, the interview controller, the narration arbiter and
// the sensor subscriptions feeding them. It is created when the host starts
// an interview and torn down when the host leaves; nothing survives it except
// the persisted [outcome.Outcome].
//
// All View methods run on the view's loop goroutine. Sensor callbacks arrive
// on producer goroutines and are posted to the loop.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/proctora/internal/interview"
	"github.com/MrWong99/proctora/internal/loop"
	"github.com/MrWong99/proctora/internal/narration"
	"github.com/MrWong99/proctora/internal/observe"
	"github.com/MrWong99/proctora/internal/outcome"
	"github.com/MrWong99/proctora/internal/proctor"
	"github.com/MrWong99/proctora/internal/voicecmd"
	service "github.com/MrWong99/proctora/pkg/interview"
	"github.com/MrWong99/proctora/pkg/sensor"
)

// StatusAbandoned is the outcome status of a view closed while the session
// was still active.
const StatusAbandoned = "abandoned"

// Config collects the tunables of every View component.
type Config struct {
	Proctor     proctor.Config
	Interview   interview.Config
	Narration   narration.Config
	Resubscribe ResubscribeConfig
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Proctor:   proctor.DefaultConfig(),
		Interview: interview.DefaultConfig(),
		Narration: narration.DefaultConfig(),
	}
}

// Host renders a View. It receives everything the interview controller
// presents plus the proctoring notifications.
type Host interface {
	interview.Presenter
	StrikesChanged(proctor.StrikeState)
	WarningRaised(proctor.Warning)
	WarningCleared(proctor.Kind)
	AttentionChanged(lookingAway bool)
}

// Deps are the View's collaborators. Store and Commands may be nil.
type Deps struct {
	Scheduler    loop.Scheduler
	Service      service.Service
	Capabilities sensor.Capabilities
	Host         Host
	Store        outcome.Store
	Commands     *voicecmd.Matcher
	Metrics      *observe.Metrics
	Logger       *slog.Logger
}

// Params are the inputs of a new interview.
type Params struct {
	JobDescription string
	Experience     string
	QuestionCount  int
}

// View is the runtime of one interview.
type View struct {
	id   string
	cfg  Config
	deps Deps
	log  *slog.Logger

	monitor *proctor.Monitor
	ctl     *interview.Controller
	arb     *narration.Arbiter

	camera *Follower[sensor.Frame]
	mic    *Follower[sensor.Level]
	unsubs []sensor.Unsubscribe

	startedAt time.Time
	opened    bool
	closed    bool
}

// New wires a View. Nothing is subscribed until [View.Open].
func New(id string, cfg Config, deps Deps) *View {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("view_id", id)

	v := &View{id: id, cfg: cfg, deps: deps, log: log}

	v.arb = narration.New(cfg.Narration, deps.Scheduler, deps.Capabilities.Speaker,
		narration.WithMetrics(deps.Metrics),
		narration.WithLogger(log),
	)
	v.ctl = interview.New(cfg.Interview, interview.Deps{
		Scheduler:  deps.Scheduler,
		Service:    deps.Service,
		Narrator:   v.arb,
		Recognizer: deps.Capabilities.Recognizer,
		Commands:   deps.Commands,
		Presenter:  presenter{v},
		Logger:     log,
	})
	v.monitor = proctor.New(cfg.Proctor, proctor.Deps{
		Scheduler:        deps.Scheduler,
		Service:          deps.Service,
		Listener:         monitorEvents{v},
		Metrics:          deps.Metrics,
		SessionID:        v.ctl.SessionID,
		SpeakingExpected: v.ctl.SpeakingExpected,
		Logger:           log,
	})
	return v
}

// ID returns the view ID.
func (v *View) ID() string { return v.id }

// Controller returns the interview controller for host intents.
func (v *View) Controller() *interview.Controller { return v.ctl }

// Monitor returns the proctoring monitor.
func (v *View) Monitor() *proctor.Monitor { return v.monitor }

// Open subscribes every sensor, starts proctoring and starts the interview.
// A second call is ignored.
func (v *View) Open(p Params) {
	if v.opened || v.closed {
		return
	}
	v.opened = true
	v.startedAt = v.deps.Scheduler.Now()
	v.deps.Metrics.ActiveViews.Add(context.Background(), 1)

	caps := v.deps.Capabilities
	if caps.Camera != nil {
		v.camera = NewFollower(sensor.KindCamera, caps.Camera, v.deps.Scheduler, v.cfg.Resubscribe,
			func(f sensor.Frame) { v.post(func() { v.monitor.ObserveFrame(f) }) }, v.log)
		v.camera.Start()
	}
	if caps.Microphone != nil {
		v.mic = NewFollower(sensor.KindMicrophone, caps.Microphone, v.deps.Scheduler, v.cfg.Resubscribe,
			func(l sensor.Level) { v.post(func() { v.monitor.ObserveLevel(l) }) }, v.log)
		v.mic.Start()
	}
	if caps.Visibility != nil {
		v.unsubs = append(v.unsubs, caps.Visibility.Subscribe(func(c sensor.VisibilityChange) {
			v.post(func() { v.monitor.ObserveVisibility(c) })
		}))
	}
	if caps.Recognizer != nil {
		v.unsubs = append(v.unsubs, caps.Recognizer.Subscribe(func(r sensor.Recognition) {
			v.post(func() { v.ctl.OnRecognition(r) })
		}))
	}

	v.monitor.Start()
	v.ctl.Start(p.JobDescription, p.Experience, p.QuestionCount)
	v.log.Info("view opened", "job_description", p.JobDescription)
}

// Close tears the View down and persists its outcome. It is idempotent;
// only the first call saves.
func (v *View) Close(ctx context.Context) error {
	if v.closed {
		return nil
	}
	v.closed = true
	for _, u := range v.unsubs {
		u()
	}
	v.unsubs = nil
	if v.camera != nil {
		v.camera.Stop()
	}
	if v.mic != nil {
		v.mic.Stop()
	}
	v.ctl.Stop()
	v.monitor.Stop()

	if !v.opened {
		return nil
	}
	v.deps.Metrics.ActiveViews.Add(ctx, -1)

	o := v.Outcome()
	v.deps.Metrics.RecordOutcome(ctx, o.Status)
	v.log.Info("view closed",
		"status", o.Status,
		"strikes", o.Strikes,
		"questions_answered", o.QuestionsAnswered,
	)
	if v.deps.Store == nil {
		return nil
	}
	if err := v.deps.Store.Save(ctx, o); err != nil {
		v.log.Error("failed to save outcome", "err", err)
		return err
	}
	return nil
}

// Outcome summarises the view as it stands.
func (v *View) Outcome() outcome.Outcome {
	s := v.ctl.Session()
	status := s.Status.String()
	if s.Status == interview.StatusActive {
		status = StatusAbandoned
	}
	strikes := v.monitor.Strikes()
	return outcome.Outcome{
		ViewID:            v.id,
		SessionID:         s.SessionID,
		JobDescription:    s.JobDescription,
		Status:            status,
		Strikes:           max(s.Strikes, strikes.Count),
		QuestionsAnswered: v.ctl.Answered(),
		LastReason:        strikes.LastReason,
		Offline:           s.Offline,
		StartedAt:         v.startedAt,
		EndedAt:           v.deps.Scheduler.Now(),
	}
}

// ActiveCamera returns the subscribed camera ID, or "".
func (v *View) ActiveCamera() string {
	if v.camera == nil {
		return ""
	}
	return v.camera.Active()
}

// post runs fn on the loop unless the view has been closed by then.
func (v *View) post(fn func()) {
	v.deps.Scheduler.Post(func() {
		if v.closed {
			return
		}
		fn()
	})
}

// presenter forwards controller output to the host and stops proctoring
// once the session can no longer change.
type presenter struct{ v *View }

func (p presenter) Changed(s interview.Snapshot) {
	if s.Session.Status.Terminal() {
		p.v.monitor.Stop()
	}
	if p.v.deps.Host != nil {
		p.v.deps.Host.Changed(s)
	}
}

func (p presenter) Alert(m string) {
	if p.v.deps.Host != nil {
		p.v.deps.Host.Alert(m)
	}
}

func (p presenter) Error(m string) {
	if p.v.deps.Host != nil {
		p.v.deps.Host.Error(m)
	}
}

func (p presenter) Notice(m string) {
	if p.v.deps.Host != nil {
		p.v.deps.Host.Notice(m)
	}
}

func (p presenter) Navigate(to interview.View) {
	p.v.monitor.Stop()
	p.v.log.Info("navigating", "to", string(to))
	if p.v.deps.Host != nil {
		p.v.deps.Host.Navigate(to)
	}
}

// monitorEvents routes proctoring notifications to the controller and host.
type monitorEvents struct{ v *View }

func (m monitorEvents) StrikesChanged(s proctor.StrikeState) {
	m.v.ctl.SetStrikes(s.Count)
	if m.v.deps.Host != nil {
		m.v.deps.Host.StrikesChanged(s)
	}
}

func (m monitorEvents) WarningRaised(w proctor.Warning) {
	if m.v.deps.Host != nil {
		m.v.deps.Host.WarningRaised(w)
	}
}

func (m monitorEvents) WarningCleared(k proctor.Kind) {
	if m.v.deps.Host != nil {
		m.v.deps.Host.WarningCleared(k)
	}
}

func (m monitorEvents) AttentionChanged(away bool) {
	if m.v.deps.Host != nil {
		m.v.deps.Host.AttentionChanged(away)
	}
}

func (m monitorEvents) Terminated(message string) {
	m.v.ctl.SetStrikes(m.v.monitor.Strikes().Count)
	m.v.ctl.Terminate(message)
}
