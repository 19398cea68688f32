package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envRef matches ${VAR} references in the raw YAML.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDotEnv loads environment variables from the given .env files into the
// process environment. Variables already set are kept. Missing files are
// ignored so that deployments without a .env file work unchanged.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded, missing := expandEnv(raw)
	for _, name := range missing {
		slog.Warn("config references unset environment variable", "var", name)
	}

	cfg := &Config{}
	if len(expanded) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} with the variable's value. Unset variables expand
// to the empty string and are reported.
func expandEnv(raw []byte) ([]byte, []string) {
	var missing []string
	out := envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return []byte(v)
	})
	return out, missing
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Interview Service
	if cfg.Service.BaseURL == "" {
		errs = append(errs, errors.New("service.base_url is required"))
	} else if err := checkURL(cfg.Service.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("service.base_url: %w", err))
	}
	for i, u := range cfg.Service.FallbackURLs {
		if err := checkURL(u); err != nil {
			errs = append(errs, fmt.Errorf("service.fallback_urls[%d]: %w", i, err))
		}
	}
	if cfg.Service.Timeout < 0 {
		errs = append(errs, fmt.Errorf("service.timeout %v must not be negative", cfg.Service.Timeout))
	}
	errs = append(errs, validateBreaker("service.circuit_breaker", cfg.Service.CircuitBreaker)...)
	if cfg.Service.APIKey == "" {
		slog.Debug("service.api_key is empty; requests are sent unauthenticated")
	}

	// Proctoring
	g := cfg.Proctoring.Gaze
	if g.MinRatio < 0 || g.MaxRatio < 0 {
		errs = append(errs, errors.New("proctoring.gaze ratios must not be negative"))
	}
	if g.MinRatio != 0 && g.MaxRatio != 0 && g.MinRatio >= g.MaxRatio {
		errs = append(errs, fmt.Errorf("proctoring.gaze.min_ratio %.2f must be below max_ratio %.2f", g.MinRatio, g.MaxRatio))
	}
	if g.DebounceFrames < 0 {
		errs = append(errs, fmt.Errorf("proctoring.gaze.debounce_frames %d must not be negative", g.DebounceFrames))
	}
	n := cfg.Proctoring.Noise
	if n.Alpha < 0 || n.Alpha > 1 {
		errs = append(errs, fmt.Errorf("proctoring.noise.alpha %.3f is out of range [0, 1]", n.Alpha))
	}
	if n.CalibrationSamples < 0 || n.RunLength < 0 || n.MinMargin < 0 || n.MarginFactor < 0 {
		errs = append(errs, errors.New("proctoring.noise values must not be negative"))
	}
	if cfg.Proctoring.StrikeThreshold < 0 {
		errs = append(errs, fmt.Errorf("proctoring.strike_threshold %d must not be negative", cfg.Proctoring.StrikeThreshold))
	}

	// Interview
	if cfg.Interview.QuestionCount < 0 {
		errs = append(errs, fmt.Errorf("interview.question_count %d must not be negative", cfg.Interview.QuestionCount))
	}
	if cfg.Interview.CompletionDelay < 0 {
		errs = append(errs, fmt.Errorf("interview.completion_delay %v must not be negative", cfg.Interview.CompletionDelay))
	}

	// Narration
	if cfg.Narration.MinSpacing < 0 || cfg.Narration.PlaybackTimeout < 0 {
		errs = append(errs, errors.New("narration durations must not be negative"))
	}
	errs = append(errs, validateBreaker("narration.asset_breaker", cfg.Narration.AssetBreaker)...)

	// Devices
	if cfg.Devices.MaxRetries < 0 || cfg.Devices.Backoff < 0 || cfg.Devices.MaxBackoff < 0 {
		errs = append(errs, errors.New("devices values must not be negative"))
	}

	// Outcome store
	switch cfg.Outcome.Backend {
	case "", BackendMemory:
	case BackendFile:
		if cfg.Outcome.Path == "" {
			errs = append(errs, errors.New("outcome.path is required when backend is file"))
		}
	case BackendPostgres:
		if cfg.Outcome.PostgresDSN == "" {
			errs = append(errs, errors.New("outcome.postgres_dsn is required when backend is postgres"))
		}
	default:
		slog.Warn("unknown outcome backend; it must be registered before startup", "backend", cfg.Outcome.Backend)
	}

	return errors.Join(errs...)
}

func validateBreaker(prefix string, b BreakerConfig) []error {
	var errs []error
	if b.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("%s.max_failures %d must not be negative", prefix, b.MaxFailures))
	}
	if b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.reset_timeout %v must not be negative", prefix, b.ResetTimeout))
	}
	if b.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("%s.half_open_max %d must not be negative", prefix, b.HalfOpenMax))
	}
	return errs
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
