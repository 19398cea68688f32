package proctor_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	loopmock "github.com/MrWong99/proctora/internal/loop/mock"
	"github.com/MrWong99/proctora/internal/observe"
	"github.com/MrWong99/proctora/internal/proctor"
	"github.com/MrWong99/proctora/pkg/interview"
	svcmock "github.com/MrWong99/proctora/pkg/interview/mock"
	"github.com/MrWong99/proctora/pkg/sensor"
)

// recorder is a proctor.Listener that records every notification.
type recorder struct {
	strikes    []proctor.StrikeState
	warnings   []proctor.Warning
	cleared    []proctor.Kind
	attention  []bool
	terminated []string
}

func (r *recorder) StrikesChanged(s proctor.StrikeState) { r.strikes = append(r.strikes, s) }
func (r *recorder) WarningRaised(w proctor.Warning)      { r.warnings = append(r.warnings, w) }
func (r *recorder) WarningCleared(k proctor.Kind)        { r.cleared = append(r.cleared, k) }
func (r *recorder) AttentionChanged(b bool)              { r.attention = append(r.attention, b) }
func (r *recorder) Terminated(msg string)                { r.terminated = append(r.terminated, msg) }

type fixture struct {
	mon      *proctor.Monitor
	sched    *loopmock.Scheduler
	svc      *svcmock.Service
	rec      *recorder
	session  string
	speaking bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, proctor.DefaultConfig())
}

func newFixtureWith(t *testing.T, cfg proctor.Config) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		sched:   loopmock.New(time.Unix(0, 0)),
		svc:     &svcmock.Service{StrikeResult: interview.StrikeResult{Strikes: 1, Status: interview.StrikeWarning}},
		rec:     &recorder{},
		session: "sess-1",
	}
	f.mon = proctor.New(cfg, proctor.Deps{
		Scheduler:        f.sched,
		Service:          f.svc,
		Listener:         f.rec,
		Metrics:          metrics,
		SessionID:        func() string { return f.session },
		SpeakingExpected: func() bool { return f.speaking },
	})
	f.mon.Start()
	return f
}

func facing() sensor.Frame {
	return sensor.Frame{Face: sensor.Landmarks{
		sensor.NoseTip:  {X: 0.5},
		sensor.LeftEar:  {X: 0.4},
		sensor.RightEar: {X: 0.6},
	}}
}

func away() sensor.Frame {
	return sensor.Frame{Face: sensor.Landmarks{
		sensor.NoseTip:  {X: 0.5},
		sensor.LeftEar:  {X: 0.1},
		sensor.RightEar: {X: 0.52},
	}}
}

func (f *fixture) frames(fr sensor.Frame, n int) {
	for range n {
		f.mon.ObserveFrame(fr)
	}
}

func (f *fixture) strikeCalls() int {
	_, _, strike, _ := f.svc.CallCounts()
	return strike
}

func TestMonitor_GazeRunOf59DoesNotReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.frames(away(), 59)
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 0 {
		t.Fatalf("strike calls = %d, want 0", n)
	}
}

func TestMonitor_GazeRunOf60ReportsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.frames(away(), 60)
	if f.sched.Jobs() != 1 {
		t.Fatalf("jobs = %d, want 1", f.sched.Jobs())
	}
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 1 {
		t.Fatalf("strike calls = %d, want 1", n)
	}
	if got := f.svc.StrikeCalls[0]; got.SessionID != "sess-1" || got.Reason != proctor.LookAway.Reason() {
		t.Errorf("strike request = %+v", got)
	}

	// Continuing the same run does not report again until the next multiple.
	f.frames(away(), 59)
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 1 {
		t.Fatalf("strike calls after 119 frames = %d, want 1", n)
	}
	f.frames(away(), 1)
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 2 {
		t.Fatalf("strike calls after 120 frames = %d, want 2", n)
	}
}

func TestMonitor_FacingFrameResetsDebounce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.frames(away(), 59)
	f.frames(facing(), 1)
	f.frames(away(), 59)
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 0 {
		t.Fatalf("strike calls = %d, want 0", n)
	}
	if len(f.rec.attention) != 3 || !f.rec.attention[0] || f.rec.attention[1] || !f.rec.attention[2] {
		t.Errorf("attention = %v, want [true false true]", f.rec.attention)
	}
}

func TestMonitor_AbsentFaceReportsFaceAbsent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.frames(away(), 30)
	f.frames(sensor.Frame{}, 30)
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 1 {
		t.Fatalf("strike calls = %d, want 1", n)
	}
	if got := f.svc.StrikeCalls[0].Reason; got != proctor.FaceAbsent.Reason() {
		t.Errorf("reason = %q, want %q", got, proctor.FaceAbsent.Reason())
	}
}

func TestMonitor_VisibilityHiddenOncePerTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.frames(away(), 10) // unrelated gaze state must not matter
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 1 {
		t.Fatalf("strike calls after double hide = %d, want 1", n)
	}

	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: false})
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 2 {
		t.Fatalf("strike calls after re-hide = %d, want 2", n)
	}
	if got := f.svc.StrikeCalls[0].Reason; got != "Tab switch / Window minimized detected" {
		t.Errorf("reason = %q", got)
	}
}

func TestMonitor_StrikeCountComesFromServer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.StrikeReplies = []svcmock.StrikeReply{
		{Result: interview.StrikeResult{Strikes: 4, Status: interview.StrikeWarning}},
		{Result: interview.StrikeResult{Strikes: 2, Status: interview.StrikeWarning}},
	}

	// Two debounced violations fire before either response arrives.
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.frames(away(), 60)
	if got := f.mon.Strikes().Count; got != 0 {
		t.Fatalf("count before responses = %d, want 0", got)
	}

	f.sched.RunJob()
	if got := f.mon.Strikes().Count; got != 4 {
		t.Fatalf("count after first response = %d, want 4", got)
	}
	f.sched.RunJob()
	if got := f.mon.Strikes().Count; got != 4 {
		t.Fatalf("count after stale response = %d, want 4 (never decreases)", got)
	}
}

func TestMonitor_FailedReportIsSilentMiss(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.StrikeErr = interview.ErrUnavailable

	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.sched.RunJobs()

	if n := f.strikeCalls(); n != 1 {
		t.Fatalf("strike calls = %d, want 1 (no retry)", n)
	}
	if got := f.mon.Strikes().Count; got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
	if len(f.rec.warnings) != 0 {
		t.Errorf("warnings = %v, want none", f.rec.warnings)
	}
}

func TestMonitor_WarningClearsWhenClean(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.StrikeResult = interview.StrikeResult{Strikes: 1, Status: interview.StrikeWarning, Message: "Warning 1/5: Suspicious behavior detected."}

	f.frames(away(), 60)
	f.sched.RunJobs()
	if len(f.rec.warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", f.rec.warnings)
	}
	w := f.rec.warnings[0]
	if w.Kind != proctor.LookAway || w.Message != "Warning 1/5: Suspicious behavior detected. | Reason: Looking away from screen detected." {
		t.Errorf("warning = %+v", w)
	}

	f.frames(facing(), 1)
	if len(f.rec.cleared) != 1 || f.rec.cleared[0] != proctor.LookAway {
		t.Fatalf("cleared = %v, want [look_away]", f.rec.cleared)
	}
}

func TestMonitor_NoBannerWhenAlreadyClean(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: false})
	f.sched.RunJobs()

	if got := f.mon.Strikes().Count; got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	if len(f.rec.warnings) != 0 {
		t.Errorf("warnings = %v, want none (tab already visible)", f.rec.warnings)
	}
}

func TestMonitor_TerminationScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for i := 1; i <= 4; i++ {
		f.svc.StrikeReplies = append(f.svc.StrikeReplies, svcmock.StrikeReply{
			Result: interview.StrikeResult{Strikes: i, Status: "ok"},
		})
	}
	f.svc.StrikeReplies = append(f.svc.StrikeReplies,
		svcmock.StrikeReply{Result: interview.StrikeResult{Strikes: 5, Status: interview.StrikeTerminated, Message: "Too many violations"}},
		svcmock.StrikeReply{Result: interview.StrikeResult{Strikes: 6, Status: interview.StrikeTerminated, Message: "again"}},
	)

	for i := 1; i <= 4; i++ {
		f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
		f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: false})
		f.sched.RunJobs()
		if f.mon.Terminated() {
			t.Fatalf("terminated after violation %d", i)
		}
		if got := f.mon.Strikes().Count; got != i {
			t.Fatalf("count after violation %d = %d", i, got)
		}
	}

	// Fifth and sixth violations are both in flight when the verdict arrives.
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.frames(away(), 60)
	f.sched.RunJobs()

	if !f.mon.Terminated() {
		t.Fatal("not terminated after fifth response")
	}
	if len(f.rec.terminated) != 1 || f.rec.terminated[0] != "Too many violations" {
		t.Fatalf("terminated = %v, want exactly one \"Too many violations\"", f.rec.terminated)
	}
	if got := f.mon.Strikes().Count; got != 5 {
		t.Errorf("count = %d, want 5", got)
	}

	// No further reports after termination.
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: false})
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	if f.sched.Jobs() != 0 {
		t.Errorf("jobs after termination = %d, want 0", f.sched.Jobs())
	}
}

func TestMonitor_OfflineAndInactiveDoNotReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.session = ""
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	if f.sched.Jobs() != 0 {
		t.Fatal("reported while offline")
	}

	f.session = "sess-1"
	f.mon.Stop()
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: false})
	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	if f.sched.Jobs() != 0 {
		t.Fatal("reported while stopped")
	}
}

func TestMonitor_ResponseAfterStopIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.StrikeResult = interview.StrikeResult{Status: interview.StrikeTerminated}

	f.mon.ObserveVisibility(sensor.VisibilityChange{Hidden: true})
	f.mon.Stop()
	f.sched.RunJobs()
	if len(f.rec.terminated) != 0 {
		t.Fatalf("terminated = %v after Stop", f.rec.terminated)
	}
}

func TestMonitor_AmbientNoise(t *testing.T) {
	t.Parallel()
	cfg := proctor.DefaultConfig()
	cfg.Noise.Alpha = 0 // a constant loud signal would otherwise be absorbed by the EMA
	f := newFixtureWith(t, cfg)

	for range 180 {
		f.mon.ObserveLevel(sensor.Level{Value: 10})
	}
	// Loud while answering: never counts.
	f.speaking = true
	for range 500 {
		f.mon.ObserveLevel(sensor.Level{Value: 250})
	}
	if f.sched.Jobs() != 0 {
		t.Fatal("reported noise while speaking was expected")
	}
	if b := f.mon.Baseline().EMA; b < 9.99 || b > 10.01 {
		t.Fatalf("baseline drifted while speaking: %v", b)
	}

	f.speaking = false
	for range 240 {
		f.mon.ObserveLevel(sensor.Level{Value: 250})
	}
	f.sched.RunJobs()
	if n := f.strikeCalls(); n != 1 {
		t.Fatalf("strike calls = %d, want 1", n)
	}
	if got := f.svc.StrikeCalls[0].Reason; got != proctor.AmbientNoise.Reason() {
		t.Errorf("reason = %q", got)
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()
	if proctor.TabHidden.String() != "tab_hidden" {
		t.Errorf("TabHidden.String() = %q", proctor.TabHidden.String())
	}
	if proctor.Kind(42).Reason() != "Suspicious behavior detected." {
		t.Errorf("unknown kind reason = %q", proctor.Kind(42).Reason())
	}
}
