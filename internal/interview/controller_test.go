package interview_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/proctora/internal/interview"
	loopmock "github.com/MrWong99/proctora/internal/loop/mock"
	"github.com/MrWong99/proctora/internal/narration"
	"github.com/MrWong99/proctora/internal/voicecmd"
	service "github.com/MrWong99/proctora/pkg/interview"
	svcmock "github.com/MrWong99/proctora/pkg/interview/mock"
	"github.com/MrWong99/proctora/pkg/sensor"
	sensormock "github.com/MrWong99/proctora/pkg/sensor/mock"
)

type presenter struct {
	snapshots []interview.Snapshot
	alerts    []string
	errs      []string
	notices   []string
	navs      []interview.View
}

func (p *presenter) Changed(s interview.Snapshot) { p.snapshots = append(p.snapshots, s) }
func (p *presenter) Alert(m string)               { p.alerts = append(p.alerts, m) }
func (p *presenter) Error(m string)               { p.errs = append(p.errs, m) }
func (p *presenter) Notice(m string)              { p.notices = append(p.notices, m) }
func (p *presenter) Navigate(v interview.View)    { p.navs = append(p.navs, v) }
func (p *presenter) last() interview.Snapshot     { return p.snapshots[len(p.snapshots)-1] }

type narrator struct {
	requests []narration.Request
	cancels  int
}

func (n *narrator) Narrate(r narration.Request) (string, bool) {
	n.requests = append(n.requests, r)
	return fmt.Sprintf("n%d", len(n.requests)), true
}

func (n *narrator) Cancel() { n.cancels++ }

func (n *narrator) last() narration.Request { return n.requests[len(n.requests)-1] }

type fixture struct {
	ctl   *interview.Controller
	sched *loopmock.Scheduler
	svc   *svcmock.Service
	pres  *presenter
	narr  *narrator
	rec   *sensormock.Recognizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched: loopmock.New(time.Unix(0, 0)),
		svc: &svcmock.Service{
			StartResult: service.StartResult{SessionID: "sess-1", Intro: "Hi, I am your interviewer", Question: "Tell me about yourself."},
		},
		pres: &presenter{},
		narr: &narrator{},
		rec:  &sensormock.Recognizer{},
	}
	f.ctl = interview.New(interview.DefaultConfig(), interview.Deps{
		Scheduler:  f.sched,
		Service:    f.svc,
		Narrator:   f.narr,
		Recognizer: f.rec,
		Commands:   voicecmd.New(),
		Presenter:  f.pres,
	})
	return f
}

func (f *fixture) started(t *testing.T) {
	t.Helper()
	f.ctl.Start("Backend Engineer", "3 years Go", 3)
	f.sched.RunJobs()
	if f.ctl.State() != interview.StateAwaitingAnswer {
		t.Fatalf("state after start = %v", f.ctl.State())
	}
}

func TestController_BackendEngineerScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.AnswerResult = service.AnswerResult{
		Feedback:     "Good detail",
		NextQuestion: "How do you handle failures?",
		Decision:     service.DecisionContinue,
	}

	f.ctl.Start("Backend Engineer", "3 years Go", 3)
	if f.ctl.State() != interview.StateStarting {
		t.Fatalf("state = %v, want starting", f.ctl.State())
	}
	f.sched.RunJobs()

	s := f.ctl.Session()
	if s.SessionID != "sess-1" || s.QuestionIndex != 0 || s.MaxQuestions != 3 || s.Status != interview.StatusActive {
		t.Fatalf("session after start = %+v", s)
	}
	if s.Level != interview.LevelMid {
		t.Errorf("level = %v, want MID", s.Level)
	}
	if got := f.narr.last().Text; got != "Hi, I am your interviewer. Tell me about yourself." {
		t.Errorf("intro narration = %q", got)
	}
	if req := f.svc.StartCalls[0]; req.JobDescription != "Backend Engineer" || req.Experience != "3 years Go" || req.QuestionCount != 3 {
		t.Errorf("start request = %+v", req)
	}

	f.ctl.SubmitAnswer("I built a queueing system")
	if !f.ctl.SpeakingExpected() {
		t.Error("speaking should be expected while submitting")
	}
	f.sched.RunJobs()

	s = f.ctl.Session()
	if s.QuestionIndex != 1 || s.CurrentQuestion != "How do you handle failures?" || s.LastFeedback != "Good detail" {
		t.Errorf("session after answer = %+v", s)
	}
	if f.ctl.State() != interview.StateAwaitingAnswer {
		t.Errorf("state = %v", f.ctl.State())
	}
	if got := f.narr.last().Text; got != "Good detail. How do you handle failures?" {
		t.Errorf("narration = %q", got)
	}
	if req := f.svc.AnswerCalls[0]; req.SessionID != "sess-1" || req.Answer != "I built a queueing system" {
		t.Errorf("answer request = %+v", req)
	}
	if f.pres.last().Draft != "" {
		t.Errorf("draft = %q, want cleared", f.pres.last().Draft)
	}
}

func TestController_SubmitWhileInFlightIsNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	f.svc.AnswerResult = service.AnswerResult{Feedback: "ok", NextQuestion: "Q2", Decision: service.DecisionContinue}

	f.ctl.SubmitAnswer("A")
	f.ctl.SubmitAnswer("B")
	f.sched.RunJobs()

	if _, answers, _, _ := f.svc.CallCounts(); answers != 1 {
		t.Errorf("answer calls = %d, want 1", answers)
	}
	if f.ctl.Session().QuestionIndex != 1 {
		t.Errorf("questionIndex = %d, want 1", f.ctl.Session().QuestionIndex)
	}
	if len(f.pres.notices) != 1 {
		t.Errorf("notices = %v, want one busy notice", f.pres.notices)
	}
}

func TestController_BlankAnswerRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)

	f.ctl.SubmitAnswer("   ")
	if f.sched.Jobs() != 0 {
		t.Error("blank answer started a call")
	}
	if len(f.pres.notices) != 1 {
		t.Errorf("notices = %v", f.pres.notices)
	}
}

func TestController_Completion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	f.svc.AnswerResult = service.AnswerResult{Feedback: "Well done", Decision: service.DecisionComplete, Audio: "bXAz"}

	f.ctl.SubmitAnswer("final answer")
	f.sched.RunJobs()

	if f.ctl.Session().Status != interview.StatusComplete || f.ctl.State() != interview.StateComplete {
		t.Fatalf("status=%v state=%v", f.ctl.Session().Status, f.ctl.State())
	}
	last := f.narr.last()
	if last.Text != "Well done. The interview is now complete." || last.Asset != "bXAz" {
		t.Errorf("narration = %+v", last)
	}
	if len(f.pres.navs) != 0 {
		t.Fatal("navigated before the completion delay")
	}
	f.sched.Advance(4999 * time.Millisecond)
	if len(f.pres.navs) != 0 {
		t.Fatal("navigated too early")
	}
	f.sched.Advance(time.Millisecond)
	if len(f.pres.navs) != 1 || f.pres.navs[0] != interview.ViewReport {
		t.Errorf("navs = %v, want [report]", f.pres.navs)
	}

	f.ctl.SubmitAnswer("more")
	if f.sched.Jobs() != 0 {
		t.Error("submit after completion started a call")
	}
}

func TestController_AnswerErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantStatus interview.Status
		wantState  interview.State
		wantNav    []interview.View
		wantAlert  string
	}{
		{
			name:       "expired",
			err:        fmt.Errorf("wrapped: %w", service.ErrSessionNotFound),
			wantStatus: interview.StatusExpired,
			wantState:  interview.StateExpired,
			wantNav:    []interview.View{interview.ViewStart},
			wantAlert:  "Session expired. Please start a new interview.",
		},
		{
			name:       "already finished",
			err:        service.ErrSessionFinished,
			wantStatus: interview.StatusComplete,
			wantState:  interview.StateComplete,
			wantNav:    []interview.View{interview.ViewReport},
			wantAlert:  "Interview ended. Redirecting to report.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.started(t)
			f.svc.AnswerErr = tt.err

			f.ctl.SubmitAnswer("answer")
			f.sched.RunJobs()

			if f.ctl.Session().Status != tt.wantStatus || f.ctl.State() != tt.wantState {
				t.Errorf("status=%v state=%v", f.ctl.Session().Status, f.ctl.State())
			}
			if len(f.pres.navs) != len(tt.wantNav) || f.pres.navs[0] != tt.wantNav[0] {
				t.Errorf("navs = %v, want %v", f.pres.navs, tt.wantNav)
			}
			if len(f.pres.alerts) != 1 || f.pres.alerts[0] != tt.wantAlert {
				t.Errorf("alerts = %v", f.pres.alerts)
			}

			f.ctl.SubmitAnswer("again")
			if f.sched.Jobs() != 0 {
				t.Error("terminal session accepted another submit")
			}
		})
	}
}

func TestController_TransientErrorKeepsDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	f.svc.AnswerReplies = []svcmock.AnswerReply{
		{Err: fmt.Errorf("%w: status 502", service.ErrUnavailable)},
		{Result: service.AnswerResult{Feedback: "ok", NextQuestion: "Q2", Decision: service.DecisionContinue}},
	}

	f.ctl.SubmitAnswer("my answer")
	f.sched.RunJobs()

	if f.ctl.State() != interview.StateAwaitingAnswer {
		t.Fatalf("state = %v", f.ctl.State())
	}
	if len(f.pres.errs) != 1 || !strings.HasPrefix(f.pres.errs[0], "Error processing answer: ") {
		t.Errorf("errors = %v", f.pres.errs)
	}
	if f.pres.last().Draft != "my answer" {
		t.Errorf("draft = %q, want kept", f.pres.last().Draft)
	}
	if f.ctl.Session().QuestionIndex != 0 {
		t.Errorf("questionIndex advanced on failure")
	}

	f.ctl.SubmitAnswer(f.pres.last().Draft)
	f.sched.RunJobs()
	if f.ctl.Session().QuestionIndex != 1 {
		t.Errorf("retry did not advance, questionIndex = %d", f.ctl.Session().QuestionIndex)
	}
}

func TestController_OfflineFallbackAndRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.StartReplies = []svcmock.StartReply{{Err: service.ErrUnavailable}}
	f.svc.AnswerResult = service.AnswerResult{Feedback: "Nice", NextQuestion: "Q2", Decision: service.DecisionContinue}

	f.ctl.Start("Backend Engineer", "3 years Go", 3)
	f.sched.RunJobs()

	s := f.ctl.Session()
	if !s.Offline || s.SessionID != "" {
		t.Fatalf("session = %+v, want offline without ID", s)
	}
	if s.LastFeedback != "Welcome to the interview." {
		t.Errorf("intro = %q", s.LastFeedback)
	}
	want := "Walk me through how you would design a solution for a real-world Backend Engineer task."
	if s.CurrentQuestion != want {
		t.Errorf("question = %q, want %q", s.CurrentQuestion, want)
	}
	if f.narr.last().Text != "Welcome to the interview. "+want {
		t.Errorf("narration = %q", f.narr.last().Text)
	}
	if len(f.pres.notices) != 1 {
		t.Errorf("notices = %v", f.pres.notices)
	}

	f.ctl.SubmitAnswer("answer while offline")
	f.sched.RunJobs()

	starts, answers, _, _ := f.svc.CallCounts()
	if starts != 2 || answers != 1 {
		t.Fatalf("calls start=%d answer=%d, want 2/1", starts, answers)
	}
	if f.svc.AnswerCalls[0].SessionID != "sess-1" {
		t.Errorf("answer went to session %q", f.svc.AnswerCalls[0].SessionID)
	}
	s = f.ctl.Session()
	if s.Offline || s.SessionID != "sess-1" || s.QuestionIndex != 1 || s.CurrentQuestion != "Q2" {
		t.Errorf("session after restart = %+v", s)
	}
}

func TestController_OfflineRestartFailureKeepsDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.StartErr = service.ErrUnavailable

	f.ctl.Start("Backend Engineer", "", 0)
	f.sched.RunJobs()
	f.ctl.SubmitAnswer("draft answer")
	f.sched.RunJobs()

	if _, answers, _, _ := f.svc.CallCounts(); answers != 0 {
		t.Errorf("answer calls = %d, want 0", answers)
	}
	if !f.ctl.Session().Offline || f.ctl.State() != interview.StateAwaitingAnswer {
		t.Errorf("session = %+v state = %v", f.ctl.Session(), f.ctl.State())
	}
	if f.pres.last().Draft != "draft answer" || len(f.pres.errs) != 1 {
		t.Errorf("draft = %q errors = %v", f.pres.last().Draft, f.pres.errs)
	}
	if f.ctl.Session().MaxQuestions != interview.DefaultConfig().QuestionCount {
		t.Errorf("max questions = %d", f.ctl.Session().MaxQuestions)
	}
	if f.ctl.Session().Experience != "Not specified" || f.ctl.Session().Level != interview.LevelUnknown {
		t.Errorf("experience = %q level = %v", f.ctl.Session().Experience, f.ctl.Session().Level)
	}
}

func TestController_ResumeIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.StartReplies = []svcmock.StartReply{{Err: service.ErrUnavailable}}

	f.ctl.Start("Go", "7 years", 3)
	f.sched.RunJobs()

	f.ctl.Resume()
	f.ctl.Resume()
	if f.sched.Jobs() != 1 {
		t.Fatalf("jobs = %d, want 1", f.sched.Jobs())
	}
	f.sched.RunJobs()
	if f.ctl.Session().Offline || f.ctl.SessionID() != "sess-1" {
		t.Errorf("session = %+v", f.ctl.Session())
	}

	f.ctl.Resume()
	if f.sched.Jobs() != 0 {
		t.Error("resume while online started a call")
	}
}

func TestController_TerminateNavigatesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	f.svc.AnswerResult = service.AnswerResult{Feedback: "ok", NextQuestion: "Q2", Decision: service.DecisionContinue}

	f.ctl.SubmitAnswer("in flight")
	f.ctl.Terminate("Too many violations")
	f.ctl.Terminate("again")
	f.sched.RunJobs()

	if f.ctl.Session().Status != interview.StatusTerminated || f.ctl.State() != interview.StateTerminated {
		t.Errorf("status=%v state=%v", f.ctl.Session().Status, f.ctl.State())
	}
	if len(f.pres.navs) != 1 || f.pres.navs[0] != interview.ViewReport {
		t.Errorf("navs = %v", f.pres.navs)
	}
	if f.ctl.Session().QuestionIndex != 0 {
		t.Error("answer response applied after termination")
	}
	if len(f.pres.notices) != 1 || f.pres.notices[0] != "Too many violations" {
		t.Errorf("notices = %v", f.pres.notices)
	}
}

func TestController_StopCancelsCompletionNavigation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	f.svc.AnswerResult = service.AnswerResult{Feedback: "done", Decision: service.DecisionComplete}

	f.ctl.SubmitAnswer("last")
	f.sched.RunJobs()
	f.ctl.Stop()
	f.sched.Advance(10 * time.Second)
	if len(f.pres.navs) != 0 {
		t.Errorf("navs = %v, want none after stop", f.pres.navs)
	}
}

func TestController_RecordingAndAutoSubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	f.svc.AnswerResult = service.AnswerResult{Feedback: "ok", NextQuestion: "Q2", Decision: service.DecisionContinue}

	f.ctl.StartRecording()
	if !f.ctl.SpeakingExpected() || !f.pres.last().Recording {
		t.Fatal("recording not reflected")
	}
	f.ctl.OnRecognition(sensor.Recognition{Text: "I used channels", Ended: true})
	if f.ctl.State() != interview.StateSubmitting {
		t.Fatalf("state = %v, want submitting", f.ctl.State())
	}
	f.sched.RunJobs()

	if f.svc.AnswerCalls[0].Answer != "I used channels" {
		t.Errorf("answer = %q", f.svc.AnswerCalls[0].Answer)
	}
	if f.ctl.SpeakingExpected() {
		t.Error("speaking still expected after submit completed")
	}
	if start, _ := f.rec.Counts(); start != 1 {
		t.Errorf("recognizer starts = %d", start)
	}
}

func TestController_RepeatCommandReplays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	before := len(f.narr.requests)

	f.ctl.StartRecording()
	f.ctl.OnRecognition(sensor.Recognition{Text: "Repeat the question.", Ended: true})

	if _, answers, _, _ := f.svc.CallCounts(); answers != 0 {
		t.Errorf("voice command was submitted as an answer")
	}
	if len(f.narr.requests) != before+1 || f.narr.last() != f.narr.requests[before-1] {
		t.Errorf("narrations = %+v, want a replay of the last step", f.narr.requests)
	}
	if f.ctl.Snapshot().Recording {
		t.Error("recording flag not cleared on end")
	}
}

func TestController_RecognizerUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)
	f.rec.StartErr = errors.New("not supported")

	f.ctl.StartRecording()
	if f.ctl.Snapshot().Recording || len(f.pres.errs) != 1 {
		t.Errorf("recording=%v errors=%v", f.ctl.Snapshot().Recording, f.pres.errs)
	}
}

func TestController_StrikesMonotone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.started(t)

	f.ctl.SetStrikes(2)
	f.ctl.SetStrikes(1)
	if f.ctl.Session().Strikes != 2 {
		t.Errorf("strikes = %d, want 2", f.ctl.Session().Strikes)
	}
}

func TestController_FetchReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var gotErr error
	f.ctl.FetchReport(func(_ string, err error) { gotErr = err })
	if !errors.Is(gotErr, interview.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", gotErr)
	}

	f.started(t)
	f.svc.ReportResult = service.ReportResult{Report: "# Interview Report"}
	var got string
	f.ctl.FetchReport(func(r string, err error) { got, gotErr = r, err })
	f.sched.RunJobs()
	if gotErr != nil || got != "# Interview Report" {
		t.Errorf("report = %q, err = %v", got, gotErr)
	}
}

func TestController_StopIgnoresLateResponses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ctl.Start("Go", "1 year", 3)
	f.ctl.Stop()
	f.ctl.Stop()
	f.sched.RunJobs()

	if f.ctl.State() != interview.StateStarting {
		t.Errorf("state = %v, start response applied after stop", f.ctl.State())
	}
	if _, cancels := f.rec.Counts(); cancels != 1 {
		t.Errorf("recognizer cancels = %d, want 1", cancels)
	}
	if f.narr.cancels != 1 {
		t.Errorf("narration cancels = %d, want 1", f.narr.cancels)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want interview.Level
	}{
		{"3 years Go", interview.LevelMid},
		{"7+ yrs backend", interview.LevelSenior},
		{"5", interview.LevelSenior},
		{"1 year", interview.LevelJunior},
		{"fresh graduate", interview.LevelUnknown},
		{"", interview.LevelUnknown},
	}
	for _, tt := range tests {
		if got := interview.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFallbackStep(t *testing.T) {
	t.Parallel()
	intro, q := interview.FallbackStep("SRE", interview.LevelUnknown)
	if intro != "Welcome to the interview." || q != "What key experience do you have related to SRE?" {
		t.Errorf("FallbackStep = %q, %q", intro, q)
	}
	_, q = interview.FallbackStep("SRE", interview.LevelSenior)
	if !strings.Contains(q, "production incident") {
		t.Errorf("senior question = %q", q)
	}
}
