// Package narration arbitrates the single spoken-output slot of an interview
// view.
//
// At most one narration is current. A new request cancels the current one; a
// request arriving within MinSpacing of the previous accepted request is
// dropped. When a pre-recorded asset is supplied it is played first and
// on-device synthesis of the same text is the fallback. Both renderers sit in
// a [resilience.FallbackGroup], so once asset playback keeps failing (for
// example because the browser blocks autoplay) assets are skipped and
// synthesis is used straight away until the breaker half-opens.
package narration

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/proctora/internal/loop"
	"github.com/MrWong99/proctora/internal/observe"
	"github.com/MrWong99/proctora/internal/resilience"
	"github.com/MrWong99/proctora/pkg/sensor"
)

// Results recorded in metrics and returned by [Arbiter.Narrate].
const (
	ResultAsset      = "asset"
	ResultSynth      = "synth"
	ResultDropped    = "dropped"
	ResultFailed     = "failed"
	ResultSuperseded = "superseded"
)

// Request is one narration.
type Request struct {
	Text  string
	Asset string
}

// Config tunes the Arbiter.
type Config struct {
	// MinSpacing is the minimum interval between accepted requests.
	MinSpacing time.Duration

	// AssetBreaker guards asset playback.
	AssetBreaker resilience.CircuitBreakerConfig
}

// DefaultConfig returns a 500 ms spacing and an asset breaker that opens
// after three consecutive playback failures.
func DefaultConfig() Config {
	return Config{
		MinSpacing: 500 * time.Millisecond,
		AssetBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: time.Minute,
			HalfOpenMax:  1,
		},
	}
}

type renderer struct {
	name   string
	render func(ctx context.Context, id string, req Request) error
}

// Arbiter owns the narration slot. Narrate and Cancel must be called on the
// loop goroutine; rendering happens on workers.
type Arbiter struct {
	cfg     Config
	sched   loop.Scheduler
	speaker sensor.Speaker
	metrics *observe.Metrics
	log     *slog.Logger

	group *resilience.FallbackGroup[renderer]
	gen   atomic.Uint64

	last    time.Time
	hasLast bool
	onDone  func(id, result string)
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) { a.log = l }
}

// WithOnDone registers a callback, run on the loop, reporting how each
// accepted narration ended.
func WithOnDone(fn func(id, result string)) Option {
	return func(a *Arbiter) { a.onDone = fn }
}

// New creates an Arbiter that narrates through speaker. A nil speaker makes
// every request a no-op.
func New(cfg Config, sched loop.Scheduler, speaker sensor.Speaker, opts ...Option) *Arbiter {
	a := &Arbiter{
		cfg:     cfg,
		sched:   sched,
		speaker: speaker,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	cb := cfg.AssetBreaker
	cb.Now = sched.Now
	cb.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, context.Canceled)
	}
	a.group = resilience.NewFallbackGroup(renderer{name: ResultAsset, render: a.playAsset}, "narration-asset",
		resilience.FallbackConfig{CircuitBreaker: cb})
	a.group.AddFallback("narration-synth", renderer{name: ResultSynth, render: a.synthesize})
	return a
}

// Narrate makes req the current narration. It returns the narration ID and
// false when the request was dropped by the spacing rule or there is nothing
// to say.
func (a *Arbiter) Narrate(req Request) (string, bool) {
	if a.speaker == nil || (req.Text == "" && req.Asset == "") {
		return "", false
	}
	now := a.sched.Now()
	if a.hasLast && now.Sub(a.last) < a.cfg.MinSpacing {
		a.log.Debug("narration: dropped by spacing", "since_last", now.Sub(a.last))
		a.metrics.RecordNarration(context.Background(), ResultDropped)
		return "", false
	}
	a.last, a.hasLast = now, true

	gen := a.gen.Add(1)
	a.speaker.Cancel()
	id := uuid.NewString()

	a.sched.Go(func(ctx context.Context) func() {
		result := a.render(ctx, gen, id, req)
		return func() {
			a.metrics.RecordNarration(context.Background(), result)
			if a.onDone != nil {
				a.onDone(id, result)
			}
		}
	})
	return id, true
}

// Cancel stops the current narration. The spacing clock is left alone.
func (a *Arbiter) Cancel() {
	a.gen.Add(1)
	if a.speaker != nil {
		a.speaker.Cancel()
	}
}

func (a *Arbiter) current(gen uint64) bool { return a.gen.Load() == gen }

func (a *Arbiter) render(ctx context.Context, gen uint64, id string, req Request) string {
	if req.Asset == "" {
		if !a.current(gen) {
			return ResultSuperseded
		}
		if err := a.synthesize(ctx, id, req); err != nil {
			a.log.Warn("narration: synthesis failed", "id", id, "err", err)
			return ResultFailed
		}
		return ResultSynth
	}
	used, err := resilience.ExecuteWithResult(a.group, func(r renderer) (string, error) {
		if !a.current(gen) {
			return ResultSuperseded, nil
		}
		if err := r.render(ctx, id, req); err != nil {
			return "", err
		}
		return r.name, nil
	})
	if err != nil {
		a.log.Warn("narration: playback failed", "id", id, "err", err)
		return ResultFailed
	}
	return used
}

func (a *Arbiter) playAsset(ctx context.Context, id string, req Request) error {
	return a.speaker.PlayAsset(ctx, id, req.Asset)
}

func (a *Arbiter) synthesize(ctx context.Context, id string, req Request) error {
	if req.Text == "" {
		return errors.New("narration: nothing to synthesize")
	}
	return a.speaker.Speak(ctx, id, req.Text)
}
