package narration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	loopmock "github.com/MrWong99/proctora/internal/loop/mock"
	"github.com/MrWong99/proctora/internal/narration"
	"github.com/MrWong99/proctora/internal/observe"
	sensormock "github.com/MrWong99/proctora/pkg/sensor/mock"
)

type fixture struct {
	arb     *narration.Arbiter
	sched   *loopmock.Scheduler
	speaker *sensormock.Speaker
	done    map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		sched:   loopmock.New(time.Unix(0, 0)),
		speaker: &sensormock.Speaker{},
		done:    make(map[string]string),
	}
	f.arb = narration.New(narration.DefaultConfig(), f.sched, f.speaker,
		narration.WithMetrics(metrics),
		narration.WithOnDone(func(id, result string) { f.done[id] = result }),
	)
	return f
}

func TestArbiter_PlaysAssetFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	id, ok := f.arb.Narrate(narration.Request{Text: "Hello", Asset: "bXAz"})
	if !ok || id == "" {
		t.Fatalf("Narrate() = %q, %v", id, ok)
	}
	f.sched.RunJobs()

	assets, speech, cancels := f.speaker.Snapshot()
	if len(assets) != 1 || assets[0].Asset != "bXAz" || assets[0].ID != id {
		t.Errorf("asset calls = %+v", assets)
	}
	if len(speech) != 0 {
		t.Errorf("speech calls = %+v, want none", speech)
	}
	if cancels != 1 {
		t.Errorf("cancels = %d, want 1", cancels)
	}
	if f.done[id] != narration.ResultAsset {
		t.Errorf("result = %q, want %q", f.done[id], narration.ResultAsset)
	}
}

func TestArbiter_FallsBackToSynthesis(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speaker.PlayAssetErr = errors.New("autoplay blocked")

	id, _ := f.arb.Narrate(narration.Request{Text: "Hello", Asset: "bXAz"})
	f.sched.RunJobs()

	_, speech, _ := f.speaker.Snapshot()
	if len(speech) != 1 || speech[0].Text != "Hello" {
		t.Fatalf("speech calls = %+v", speech)
	}
	if f.done[id] != narration.ResultSynth {
		t.Errorf("result = %q, want %q", f.done[id], narration.ResultSynth)
	}
}

func TestArbiter_SkipsAssetsOnceBreakerOpens(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speaker.PlayAssetErr = errors.New("autoplay blocked")

	for range 4 {
		f.arb.Narrate(narration.Request{Text: "Hello", Asset: "bXAz"})
		f.sched.RunJobs()
		f.sched.Advance(time.Second)
	}
	assets, speech, _ := f.speaker.Snapshot()
	if len(assets) != 3 {
		t.Errorf("asset attempts = %d, want 3 before the breaker opens", len(assets))
	}
	if len(speech) != 4 {
		t.Errorf("speech calls = %d, want 4", len(speech))
	}
}

func TestArbiter_TextOnlyUsesSynthesis(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	id, _ := f.arb.Narrate(narration.Request{Text: "Question two"})
	f.sched.RunJobs()

	assets, speech, _ := f.speaker.Snapshot()
	if len(assets) != 0 || len(speech) != 1 {
		t.Fatalf("assets=%d speech=%d, want 0/1", len(assets), len(speech))
	}
	if f.done[id] != narration.ResultSynth {
		t.Errorf("result = %q", f.done[id])
	}
}

func TestArbiter_SpacingDropsRapidRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, ok := f.arb.Narrate(narration.Request{Text: "one"}); !ok {
		t.Fatal("first request dropped")
	}
	f.sched.Advance(499 * time.Millisecond)
	if _, ok := f.arb.Narrate(narration.Request{Text: "two"}); ok {
		t.Error("request 499ms later should be dropped")
	}
	f.sched.Advance(time.Millisecond)
	if _, ok := f.arb.Narrate(narration.Request{Text: "three"}); !ok {
		t.Error("request 500ms later should be accepted")
	}
	f.sched.RunJobs()

	_, speech, cancels := f.speaker.Snapshot()
	if cancels != 2 {
		t.Errorf("cancels = %d, want 2 (dropped requests leave the current narration alone)", cancels)
	}
	for _, c := range speech {
		if c.Text == "two" {
			t.Error("dropped request was spoken")
		}
	}
}

func TestArbiter_NewRequestSupersedesPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first, _ := f.arb.Narrate(narration.Request{Text: "one"})
	f.sched.Advance(time.Second)
	second, _ := f.arb.Narrate(narration.Request{Text: "two"})
	f.sched.RunJobs()

	_, speech, _ := f.speaker.Snapshot()
	if len(speech) != 1 || speech[0].Text != "two" {
		t.Errorf("speech = %+v, want only the second narration", speech)
	}
	if f.done[first] != narration.ResultSuperseded {
		t.Errorf("first result = %q, want superseded", f.done[first])
	}
	if f.done[second] != narration.ResultSynth {
		t.Errorf("second result = %q", f.done[second])
	}
}

func TestArbiter_CancelSupersedes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	id, _ := f.arb.Narrate(narration.Request{Text: "one"})
	f.arb.Cancel()
	f.sched.RunJobs()

	_, speech, cancels := f.speaker.Snapshot()
	if len(speech) != 0 {
		t.Errorf("speech = %+v, want none", speech)
	}
	if cancels != 2 {
		t.Errorf("cancels = %d, want 2", cancels)
	}
	if f.done[id] != narration.ResultSuperseded {
		t.Errorf("result = %q", f.done[id])
	}
}

func TestArbiter_EmptyAndNilSpeaker(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, ok := f.arb.Narrate(narration.Request{}); ok {
		t.Error("empty request accepted")
	}

	arb := narration.New(narration.DefaultConfig(), loopmock.New(time.Unix(0, 0)), nil)
	if _, ok := arb.Narrate(narration.Request{Text: "hi"}); ok {
		t.Error("nil speaker accepted a request")
	}
	arb.Cancel()
}

func TestArbiter_BothRenderersFail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speaker.PlayAssetErr = errors.New("blocked")
	f.speaker.SpeakErr = errors.New("no voices")

	id, _ := f.arb.Narrate(narration.Request{Text: "Hello", Asset: "bXAz"})
	f.sched.RunJobs()
	if f.done[id] != narration.ResultFailed {
		t.Errorf("result = %q, want failed", f.done[id])
	}
}
