// Package proctor turns the continuous gaze, loudness and visibility streams
// into debounced violation reports and owns the strike lifecycle.
//
// The [Monitor] lives on a view's event loop. Strike reports run on worker
// goroutines through the loop's [loop.Scheduler] and their responses are
// applied back on the loop. The Interview Service is the single source of
// truth for the strike count: failed reports are dropped, never retried, and
// never counted locally.
package proctor

import (
	"context"
	"log/slog"

	"github.com/MrWong99/proctora/internal/gaze"
	"github.com/MrWong99/proctora/internal/loop"
	"github.com/MrWong99/proctora/internal/noise"
	"github.com/MrWong99/proctora/internal/observe"
	"github.com/MrWong99/proctora/pkg/interview"
	"github.com/MrWong99/proctora/pkg/sensor"
)

const defaultTerminationMessage = "Interview terminated due to suspicious behavior."

// Config holds the proctoring thresholds.
type Config struct {
	Gaze  gaze.Config
	Noise noise.Config

	// GazeDebounceFrames is the non-facing run length that makes one gaze
	// violation. Each further multiple within the same run is a new one.
	GazeDebounceFrames int

	// StrikeThreshold is the strike count at which the service is expected
	// to terminate. Displayed only; termination is decided by the service.
	StrikeThreshold int
}

// DefaultConfig returns the documented thresholds.
func DefaultConfig() Config {
	return Config{
		Gaze:               gaze.DefaultConfig(),
		Noise:              noise.DefaultConfig(),
		GazeDebounceFrames: 60,
		StrikeThreshold:    5,
	}
}

// Deps are the Monitor's collaborators.
type Deps struct {
	Scheduler loop.Scheduler
	Service   interview.Service
	Listener  Listener
	Metrics   *observe.Metrics

	// SessionID returns the current server session ID, or "" while offline.
	SessionID func() string

	// SpeakingExpected reports whether the candidate is expected to be
	// speaking (recording or submitting an answer).
	SpeakingExpected func() bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Monitor fuses classifier output into strike reports. All methods must be
// called on the loop goroutine.
type Monitor struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	gaze  *gaze.Classifier
	noise *noise.Detector

	active     bool
	terminated bool

	hidden      bool
	lookingAway bool
	noiseOver   bool

	strikes  StrikeState
	warnings map[Kind]bool
}

// New creates an inactive Monitor. Call [Monitor.Start] to begin reporting.
func New(cfg Config, deps Deps) *Monitor {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.SpeakingExpected == nil {
		deps.SpeakingExpected = func() bool { return false }
	}
	if deps.SessionID == nil {
		deps.SessionID = func() string { return "" }
	}
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		gaze:     gaze.NewClassifier(cfg.Gaze),
		noise:    noise.NewDetector(cfg.Noise),
		strikes:  StrikeState{Threshold: cfg.StrikeThreshold},
		warnings: make(map[Kind]bool),
	}
}

// Start (re)activates reporting. Classifier state is reset so that a
// restarted monitor recalibrates the noise baseline.
func (m *Monitor) Start() {
	if m.terminated {
		return
	}
	m.gaze.Reset()
	m.noise.Reset()
	m.active = true
	m.deps.Listener.StrikesChanged(m.strikes)
}

// Stop deactivates reporting. Responses to reports already in flight are
// ignored.
func (m *Monitor) Stop() { m.active = false }

// Active reports whether the Monitor is currently reporting.
func (m *Monitor) Active() bool { return m.active && !m.terminated }

// Terminated reports whether the service has ended the session.
func (m *Monitor) Terminated() bool { return m.terminated }

// Strikes returns the current strike state.
func (m *Monitor) Strikes() StrikeState { return m.strikes }

// Baseline exposes the noise baseline for diagnostics.
func (m *Monitor) Baseline() noise.Baseline { return m.noise.Baseline() }

// ObserveFrame classifies one camera frame.
func (m *Monitor) ObserveFrame(f sensor.Frame) {
	res := m.gaze.Observe(f)

	if res.Verdict == gaze.Facing {
		if m.lookingAway {
			m.lookingAway = false
			m.deps.Listener.AttentionChanged(false)
		}
		m.clear(LookAway)
		m.clear(FaceAbsent)
		return
	}

	if !m.lookingAway {
		m.lookingAway = true
		m.deps.Listener.AttentionChanged(true)
	}
	if n := m.cfg.GazeDebounceFrames; n > 0 && res.Run%n == 0 {
		kind := LookAway
		if res.Verdict == gaze.Absent {
			kind = FaceAbsent
		}
		m.report(Violation{Kind: kind, Timestamp: f.At, Strength: res.Ratio})
	}
}

// ObserveLevel classifies one loudness sample.
func (m *Monitor) ObserveLevel(l sensor.Level) {
	res := m.noise.Observe(l.Value, m.deps.SpeakingExpected())
	m.noiseOver = res.Over
	if !res.Over {
		m.clear(AmbientNoise)
	}
	if res.Verdict == noise.Anomalous {
		m.report(Violation{Kind: AmbientNoise, Timestamp: l.At, Strength: l.Value})
	}
}

// ObserveVisibility handles a page-visibility change. Only a visible→hidden
// transition is a violation.
func (m *Monitor) ObserveVisibility(v sensor.VisibilityChange) {
	if !v.Hidden {
		m.hidden = false
		m.clear(TabHidden)
		return
	}
	if m.hidden {
		return
	}
	m.hidden = true
	m.report(Violation{Kind: TabHidden, Timestamp: v.At, Strength: 1})
}

func (m *Monitor) report(v Violation) {
	if !m.Active() {
		return
	}
	sid := m.deps.SessionID()
	if sid == "" {
		m.log.Debug("proctor: violation not reported while offline", "kind", v.Kind.String())
		return
	}

	reason := v.Kind.Reason()
	m.log.Info("proctor: violation", "kind", v.Kind.String(), "strength", v.Strength)
	m.deps.Metrics.RecordViolation(context.Background(), v.Kind.String())

	m.deps.Scheduler.Go(func(ctx context.Context) func() {
		res, err := m.deps.Service.ReportStrike(ctx, interview.StrikeRequest{SessionID: sid, Reason: reason})
		return func() { m.applyStrike(v.Kind, reason, res, err) }
	})
}

func (m *Monitor) applyStrike(kind Kind, reason string, res interview.StrikeResult, err error) {
	if !m.Active() {
		return
	}
	if err != nil {
		m.log.Warn("proctor: strike report failed", "kind", kind.String(), "err", err)
		m.deps.Metrics.StrikeReportFailures.Add(context.Background(), 1)
		return
	}

	if res.Strikes > m.strikes.Count {
		m.strikes.Count = res.Strikes
	}

	if res.Terminated() {
		m.strikes.LastReason = reason
		m.terminated = true
		m.active = false
		msg := res.Message
		if msg == "" {
			msg = defaultTerminationMessage
		}
		m.log.Info("proctor: session terminated", "strikes", res.Strikes, "message", msg)
		m.deps.Metrics.Terminations.Add(context.Background(), 1)
		m.deps.Listener.Terminated(msg)
		return
	}

	m.strikes.LastReason = reason
	m.deps.Listener.StrikesChanged(m.strikes)

	if m.clean(kind) {
		return
	}
	msg := reason
	if res.Message != "" {
		msg = res.Message + " | Reason: " + reason
	}
	m.warnings[kind] = true
	m.deps.Listener.WarningRaised(Warning{Kind: kind, Message: msg})
}

// clean reports whether the classifier behind kind is currently clean.
func (m *Monitor) clean(kind Kind) bool {
	switch kind {
	case LookAway, FaceAbsent:
		return !m.lookingAway
	case TabHidden:
		return !m.hidden
	case AmbientNoise:
		return !m.noiseOver
	}
	return false
}

func (m *Monitor) clear(kind Kind) {
	if !m.warnings[kind] {
		return
	}
	delete(m.warnings, kind)
	m.deps.Listener.WarningCleared(kind)
}
