// Package httpclient implements [interview.Service] over the Interview
// Service's HTTP/JSON API.
//
// Every operation is a single POST with a JSON body:
//
//	POST /api/start        {jd, experience, question_count}
//	POST /api/answer       {session_id, answer}
//	POST /api/cheat_strike {session_id, reason}
//	POST /api/report       {session_id}
//
// HTTP 404 maps to [interview.ErrSessionNotFound] and HTTP 400 to
// [interview.ErrSessionFinished]; transport failures and other non-2xx
// statuses map to [interview.ErrUnavailable].
//
// One or more base URLs can be configured. Each has its own circuit breaker
// and they are tried in order, so a replica takes over while the primary is
// failing. Session-specific errors never trip a breaker or fail over.
// Strike reports are the exception: they go to the first endpoint whose
// circuit is not open and are never re-sent, since the service counts every
// request it receives.
//
// Typical usage:
//
//	c, err := httpclient.New("http://localhost:5000",
//	    httpclient.WithTimeout(20*time.Second),
//	    httpclient.WithFallbackURL("http://replica:5000"),
//	)
//	res, err := c.Start(ctx, interview.StartRequest{JobDescription: "Go developer"})
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/proctora/internal/observe"
	"github.com/MrWong99/proctora/internal/resilience"
	"github.com/MrWong99/proctora/pkg/interview"
)

// Compile-time interface assertion.
var _ interview.Service = (*Client)(nil)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds decoded bodies; narration audio arrives inline
	// as base64.
	maxResponseBytes = 32 << 20

	startPath  = "/api/start"
	answerPath = "/api/answer"
	strikePath = "/api/cheat_strike"
	reportPath = "/api/report"
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is
// overwritten by a later [WithTimeout].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey sends key as a Bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithFallbackURL adds a replica base URL tried after the primary.
func WithFallbackURL(baseURL string) Option {
	return func(c *Client) { c.fallbacks = append(c.fallbacks, baseURL) }
}

// WithCircuitBreaker sets the per-endpoint breaker tuning.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) { c.breaker = cfg }
}

// WithMetrics records call counts and latencies to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is an HTTP implementation of [interview.Service]. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	apiKey     string
	fallbacks  []string
	breaker    resilience.CircuitBreakerConfig
	metrics    *observe.Metrics
	endpoints  *resilience.FallbackGroup[string]
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("httpclient: base URL must not be empty")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	cb := c.breaker
	cb.IsFailure = isEndpointFailure
	c.endpoints = resilience.NewFallbackGroup(strings.TrimRight(baseURL, "/"), baseURL,
		resilience.FallbackConfig{CircuitBreaker: cb})
	for _, fb := range c.fallbacks {
		if fb == "" {
			continue
		}
		c.endpoints.AddFallback(fb, strings.TrimRight(fb, "/"))
	}
	return c, nil
}

// isEndpointFailure reports whether err says something about the endpoint's
// health rather than about the request.
func isEndpointFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, interview.ErrSessionNotFound),
		errors.Is(err, interview.ErrSessionFinished),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Start implements [interview.Service].
func (c *Client) Start(ctx context.Context, req interview.StartRequest) (interview.StartResult, error) {
	var out interview.StartResult
	err := c.call(ctx, "start", startPath, req, &out, true)
	return out, err
}

// SubmitAnswer implements [interview.Service].
func (c *Client) SubmitAnswer(ctx context.Context, req interview.AnswerRequest) (interview.AnswerResult, error) {
	var out interview.AnswerResult
	err := c.call(ctx, "answer", answerPath, req, &out, true)
	return out, err
}

// ReportStrike implements [interview.Service].
func (c *Client) ReportStrike(ctx context.Context, req interview.StrikeRequest) (interview.StrikeResult, error) {
	var out interview.StrikeResult
	err := c.call(ctx, "cheat_strike", strikePath, req, &out, false)
	return out, err
}

// FetchReport implements [interview.Service].
func (c *Client) FetchReport(ctx context.Context, req interview.ReportRequest) (interview.ReportResult, error) {
	var out interview.ReportResult
	err := c.call(ctx, "report", reportPath, req, &out, true)
	return out, err
}

// Check reports an error when every endpoint's breaker is open. It is used
// as a readiness probe and performs no network I/O.
func (c *Client) Check(context.Context) error {
	for _, st := range c.endpoints.States() {
		if st != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("httpclient: all %d endpoints have open circuits", c.endpoints.Len())
}

// call posts in to path and decodes the reply into out. With failover set a
// failed endpoint hands the request to the next one; without it the request
// is sent at most once.
func (c *Client) call(ctx context.Context, op, path string, in, out any, failover bool) error {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "interview."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("interview.op", op)),
	)
	defer span.End()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("httpclient: %s: encode request: %w", op, err)
	}

	send := func(base string) error { return c.post(ctx, base+path, body, out) }
	if failover {
		err = c.endpoints.Execute(send)
	} else {
		err = c.endpoints.ExecuteOnce(send)
	}
	if err != nil && errors.Is(err, resilience.ErrAllFailed) && !errors.Is(err, interview.ErrUnavailable) {
		// Every breaker was open: no request left the process.
		err = fmt.Errorf("%w: %w", interview.ErrUnavailable, err)
	}

	status := statusOf(err)
	c.metrics.RecordServiceCall(ctx, op, status, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		observe.Logger(ctx).Debug("interview service call failed", "op", op, "status", status, "err", err)
		return fmt.Errorf("httpclient: %s: %w", op, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", interview.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	lr := io.LimitReader(resp.Body, maxResponseBytes)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", interview.ErrSessionNotFound, errorMessage(lr))
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", interview.ErrSessionFinished, errorMessage(lr))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: status %d: %s", interview.ErrUnavailable, resp.StatusCode, errorMessage(lr))
	}

	if err := json.NewDecoder(lr).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", interview.ErrUnavailable, err)
	}
	return nil
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the raw (truncated) text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interview.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, interview.ErrSessionFinished):
		return "finished"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unavailable"
	}
}
