package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable sections are tracked individually; everything else is
// folded into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ViewChanged is true when any setting applied to newly opened views
	// changed (proctoring, interview, narration or devices).
	ViewChanged       bool
	ProctoringChanged bool
	InterviewChanged  bool
	NarrationChanged  bool
	DevicesChanged    bool

	// RestartRequired lists sections that changed but only take effect after
	// a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ViewChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ProctoringChanged = old.Proctoring != new.Proctoring
	d.InterviewChanged = old.Interview != new.Interview
	d.NarrationChanged = !equalNarration(old.Narration, new.Narration)
	d.DevicesChanged = old.Devices != new.Devices
	d.ViewChanged = d.ProctoringChanged || d.InterviewChanged || d.NarrationChanged || d.DevicesChanged

	if !equalServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalService(old.Service, new.Service) {
		d.RestartRequired = append(d.RestartRequired, "service")
	}
	if old.Narration.PlaybackTimeout != new.Narration.PlaybackTimeout ||
		!slices.Equal(old.Narration.RepeatPhrases, new.Narration.RepeatPhrases) {
		d.RestartRequired = append(d.RestartRequired, "narration")
	}
	if old.Outcome != new.Outcome {
		d.RestartRequired = append(d.RestartRequired, "outcome")
	}
	return d
}

// equalNarration compares the settings applied per view.
func equalNarration(a, b NarrationConfig) bool {
	return a.MinSpacing == b.MinSpacing && a.AssetBreaker == b.AssetBreaker
}

// equalServer ignores LogLevel, which is hot-reloadable.
func equalServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.ShutdownTimeout != b.ShutdownTimeout {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) || (a.TLS != nil && *a.TLS != *b.TLS) {
		return false
	}
	return slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}

func equalService(a, b ServiceConfig) bool {
	return a.BaseURL == b.BaseURL &&
		a.APIKey == b.APIKey &&
		a.Timeout == b.Timeout &&
		a.CircuitBreaker == b.CircuitBreaker &&
		slices.Equal(a.FallbackURLs, b.FallbackURLs)
}
