// Package gateway bridges browser hosts to interview views over WebSocket.
//
// Each accepted connection gets its own [loop.Loop] and at most one
// [session.View] at a time. The host streams sensor samples (face landmarks,
// loudness, visibility, recognition results) and user intents as JSON
// messages; the server answers with session snapshots, narration requests,
// proctoring notifications and navigation.
//
// Capture and playback stay on the host. The gateway implements the
// pkg/sensor capability interfaces on top of the message stream, so the view
// runtime cannot tell a WebSocket host from any other implementation.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/proctora/internal/observe"
	"github.com/MrWong99/proctora/internal/outcome"
	"github.com/MrWong99/proctora/internal/session"
	"github.com/MrWong99/proctora/internal/voicecmd"
	"github.com/MrWong99/proctora/pkg/interview"
)

// Path is the route the gateway is mounted on.
const Path = "/ws/interview"

// Config tunes the gateway.
type Config struct {
	// PlaybackTimeout bounds how long the speaker waits for the host to
	// confirm that narration started. Defaults to 5s.
	PlaybackTimeout time.Duration

	// SendBuffer is the capacity of each connection's outbound queue.
	// Defaults to 64.
	SendBuffer int

	// ReadLimit caps inbound message size in bytes. Defaults to 64 KiB.
	ReadLimit int64

	// OriginPatterns are the host patterns allowed to connect cross-origin.
	OriginPatterns []string
}

func (c Config) withDefaults() Config {
	if c.PlaybackTimeout <= 0 {
		c.PlaybackTimeout = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	return c
}

// Deps are the gateway's collaborators. Store, Commands, Metrics and Logger
// may be nil.
type Deps struct {
	Service  interview.Service
	Store    outcome.Store
	Commands *voicecmd.Matcher
	Metrics  *observe.Metrics
	Logger   *slog.Logger

	// ViewConfig returns the configuration for a new view. It is called once
	// per view so that reloaded thresholds apply to the next interview.
	// Defaults to session.DefaultConfig.
	ViewConfig func() session.Config
}

// Gateway serves host WebSocket connections.
type Gateway struct {
	cfg   Config
	deps  Deps
	log   *slog.Logger
	conns sync.WaitGroup
}

// New creates a Gateway.
func New(cfg Config, deps Deps) *Gateway {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.ViewConfig == nil {
		deps.ViewConfig = session.DefaultConfig
	}
	if deps.Commands == nil {
		deps.Commands = voicecmd.New()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{cfg: cfg.withDefaults(), deps: deps, log: log}
}

// Register mounts the gateway on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.Handle("GET "+Path, g)
}

// ServeHTTP upgrades the request and runs the connection until the host
// leaves or the request context ends.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		g.log.Warn("gateway: accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(g.cfg.ReadLimit)
	g.conns.Add(1)
	defer g.conns.Done()

	id := uuid.NewString()
	ctx := observe.WithConn(r.Context(), id)
	log := observe.Logger(ctx)

	g.deps.Metrics.ActiveConnections.Add(ctx, 1)
	defer g.deps.Metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	c := newConn(g, ws, id, log)
	err = c.run(ctx)
	switch {
	case err == nil:
		ws.Close(websocket.StatusNormalClosure, "bye")
	case errors.Is(err, context.Canceled):
		ws.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		log.Warn("gateway: connection ended", "err", err)
		ws.Close(websocket.StatusInternalError, "internal error")
	}
}

// Wait blocks until every connection has ended and persisted its view, or
// until ctx is done. Connections end when their request's base context is
// cancelled.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
