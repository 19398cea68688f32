package app

import (
	"github.com/MrWong99/proctora/internal/config"
	"github.com/MrWong99/proctora/internal/session"
)

// ViewConfig maps cfg onto [session.Config]. Zero values keep the defaults
// from [session.DefaultConfig].
func ViewConfig(cfg *config.Config) session.Config {
	vc := session.DefaultConfig()

	p := cfg.Proctoring
	setPos(&vc.Proctor.Gaze.MinRatio, p.Gaze.MinRatio)
	setPos(&vc.Proctor.Gaze.MaxRatio, p.Gaze.MaxRatio)
	setPos(&vc.Proctor.GazeDebounceFrames, p.Gaze.DebounceFrames)
	setPos(&vc.Proctor.StrikeThreshold, p.StrikeThreshold)
	setPos(&vc.Proctor.Noise.CalibrationSamples, p.Noise.CalibrationSamples)
	setPos(&vc.Proctor.Noise.Alpha, p.Noise.Alpha)
	setPos(&vc.Proctor.Noise.MinMargin, p.Noise.MinMargin)
	setPos(&vc.Proctor.Noise.MarginFactor, p.Noise.MarginFactor)
	setPos(&vc.Proctor.Noise.RunLength, p.Noise.RunLength)

	setPos(&vc.Interview.QuestionCount, cfg.Interview.QuestionCount)
	setPos(&vc.Interview.CompletionDelay, cfg.Interview.CompletionDelay)

	n := cfg.Narration
	setPos(&vc.Narration.MinSpacing, n.MinSpacing)
	setPos(&vc.Narration.AssetBreaker.MaxFailures, n.AssetBreaker.MaxFailures)
	setPos(&vc.Narration.AssetBreaker.ResetTimeout, n.AssetBreaker.ResetTimeout)
	setPos(&vc.Narration.AssetBreaker.HalfOpenMax, n.AssetBreaker.HalfOpenMax)

	vc.Resubscribe = session.ResubscribeConfig{
		MaxRetries: cfg.Devices.MaxRetries,
		Backoff:    cfg.Devices.Backoff,
		MaxBackoff: cfg.Devices.MaxBackoff,
	}
	return vc
}

type positive interface {
	~int | ~int64 | ~float64
}

func setPos[T positive](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}
