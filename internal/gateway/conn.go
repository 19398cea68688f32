package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/proctora/internal/interview"
	"github.com/MrWong99/proctora/internal/loop"
	"github.com/MrWong99/proctora/internal/proctor"
	"github.com/MrWong99/proctora/internal/session"
	"github.com/MrWong99/proctora/pkg/sensor"
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = 10 * time.Second
)

// errLeave ends a connection that the host closed on purpose.
var errLeave = errors.New("gateway: host left")

// conn is one host connection. The view and everything it owns live on
// the connection's loop goroutine; the reader only feeds adapters and posts
// intents.
type conn struct {
	g    *Gateway
	ws   *websocket.Conn
	id   string
	log  *slog.Logger
	loop *loop.Loop
	out  chan any
	ctx  context.Context

	camera *deviceSource[sensor.Frame]
	mic    *deviceSource[sensor.Level]
	vis    source[sensor.VisibilityChange]
	rec    *recognizer
	spk    *speaker

	// loop goroutine only
	view *session.View
}

func newConn(g *Gateway, ws *websocket.Conn, id string, log *slog.Logger) *conn {
	c := &conn{
		g:    g,
		ws:   ws,
		id:   id,
		log:  log,
		loop: loop.New(loop.WithName("conn-" + id)),
		out:  make(chan any, g.cfg.SendBuffer),
		ctx:  context.Background(),
	}
	c.camera = newDeviceSource[sensor.Frame](sensor.KindCamera, c.send)
	c.mic = newDeviceSource[sensor.Level](sensor.KindMicrophone, c.send)
	c.rec = &recognizer{send: c.send}
	c.spk = newSpeaker(c.send, g.cfg.PlaybackTimeout)
	return c
}

// run serves the connection until the host leaves, the connection fails or
// ctx ends. The current view is closed and persisted before run returns.
func (c *conn) run(ctx context.Context) error {
	grp, gctx := errgroup.WithContext(ctx)
	c.ctx = gctx

	grp.Go(func() error { return c.loop.Run(gctx) })
	grp.Go(func() error { return c.writeLoop(gctx) })
	grp.Go(func() error { return c.readLoop(gctx) })

	err := grp.Wait()
	c.loop.Stop()
	c.loop.Wait()
	c.closeView()

	if errors.Is(err, errLeave) {
		c.log.Info("gateway: host left")
		return nil
	}
	return err
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errLeave
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gateway: read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("gateway: malformed message dropped", "err", err)
			continue
		}
		if err := c.dispatch(msg); err != nil {
			return err
		}
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, v)
			cancel()
			if err != nil {
				return fmt.Errorf("gateway: write: %w", err)
			}
		}
	}
}

// send queues v for the host. It blocks while the queue is full and drops v
// once the connection is shutting down.
func (c *conn) send(v any) {
	select {
	case c.out <- v:
	case <-c.ctx.Done():
	}
}

func (c *conn) dispatch(msg inbound) error {
	now := time.Now()
	switch msg.Type {
	case msgFrame:
		c.camera.emit(sensor.Frame{Face: msg.Landmarks, At: now})
	case msgLevel:
		c.mic.emit(sensor.Level{Value: msg.Value, At: now})
	case msgVisibility:
		c.vis.emit(sensor.VisibilityChange{Hidden: msg.Hidden, At: now})
	case msgDevices:
		c.camera.setDevices(toDevices(sensor.KindCamera, msg.Cameras))
		c.mic.setDevices(toDevices(sensor.KindMicrophone, msg.Microphones))
	case msgRecognition:
		c.rec.emit(sensor.Recognition{Text: msg.Text})
	case msgRecognitionEnd:
		c.rec.emit(sensor.Recognition{Text: msg.Text, Ended: true})
	case msgPlaybackResult:
		c.spk.resolve(msg.ID, msg.Error)
	case msgLeave:
		return errLeave

	case msgStart:
		p := session.Params{
			JobDescription: msg.JobDescription,
			Experience:     msg.Experience,
			QuestionCount:  msg.QuestionCount,
		}
		c.loop.Post(func() { c.startView(p) })
	case msgRecord:
		on := msg.On == nil || *msg.On
		c.withController(func(ctl *interview.Controller) {
			if on {
				ctl.StartRecording()
			} else {
				ctl.StopRecording()
			}
		})
	case msgSubmit:
		c.withController(func(ctl *interview.Controller) { ctl.SubmitAnswer(msg.Text) })
	case msgDraft:
		c.withController(func(ctl *interview.Controller) { ctl.SetDraft(msg.Text) })
	case msgReplay:
		c.withController(func(ctl *interview.Controller) { ctl.Replay() })
	case msgResume:
		c.withController(func(ctl *interview.Controller) { ctl.Resume() })
	case msgReport:
		c.withController(func(ctl *interview.Controller) {
			ctl.FetchReport(func(report string, err error) {
				if err != nil {
					c.log.Warn("gateway: report failed", "err", err)
					c.send(messageMsg{Type: outError, Message: "Could not load the report."})
					return
				}
				c.send(reportMsg{Type: outReport, Report: report})
			})
		})
	default:
		c.log.Debug("gateway: unknown message type", "type", msg.Type)
	}
	return nil
}

// withController posts fn to the loop. It is dropped when no view is open.
func (c *conn) withController(fn func(*interview.Controller)) {
	c.loop.Post(func() {
		if c.view == nil {
			c.log.Debug("gateway: intent without interview dropped")
			return
		}
		fn(c.view.Controller())
	})
}

// startView replaces the current view with a new one. Runs on the loop.
func (c *conn) startView(p session.Params) {
	c.closeView()

	id := uuid.NewString()
	c.view = session.New(id, c.g.deps.ViewConfig(), session.Deps{
		Scheduler: c.loop,
		Service:   c.g.deps.Service,
		Capabilities: sensor.Capabilities{
			Camera:     c.camera,
			Microphone: c.mic,
			Visibility: &c.vis,
			Recognizer: c.rec,
			Speaker:    c.spk,
		},
		Host:     &host{c: c, viewID: id},
		Store:    c.g.deps.Store,
		Commands: c.g.deps.Commands,
		Metrics:  c.g.deps.Metrics,
		Logger:   c.log,
	})
	c.view.Open(p)
}

func (c *conn) closeView() {
	if c.view == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.view.Close(ctx); err != nil {
		c.log.Warn("gateway: close view", "view_id", c.view.ID(), "err", err)
	}
	c.view = nil
}

// host renders one view on the connection.
type host struct {
	c      *conn
	viewID string
}

var _ session.Host = (*host)(nil)

func (h *host) Changed(s interview.Snapshot) {
	h.c.send(sessionMsg{
		Type:          outSession,
		ViewID:        h.viewID,
		SessionID:     s.Session.SessionID,
		State:         s.State.String(),
		Status:        s.Session.Status.String(),
		Level:         s.Session.Level.String(),
		QuestionIndex: s.Session.QuestionIndex,
		MaxQuestions:  s.Session.MaxQuestions,
		Question:      s.Session.CurrentQuestion,
		Feedback:      s.Session.LastFeedback,
		Strikes:       s.Session.Strikes,
		Offline:       s.Session.Offline,
		Draft:         s.Draft,
		Recording:     s.Recording,
	})
}

func (h *host) Alert(m string)  { h.c.send(messageMsg{Type: outAlert, Message: m}) }
func (h *host) Error(m string)  { h.c.send(messageMsg{Type: outError, Message: m}) }
func (h *host) Notice(m string) { h.c.send(messageMsg{Type: outNotice, Message: m}) }

func (h *host) Navigate(v interview.View) {
	h.c.send(navigateMsg{Type: outNavigate, View: string(v)})
}

func (h *host) StrikesChanged(s proctor.StrikeState) {
	h.c.send(strikesMsg{Type: outStrikes, Count: s.Count, Threshold: s.Threshold, LastReason: s.LastReason})
}

func (h *host) WarningRaised(w proctor.Warning) {
	h.c.send(warningMsg{Type: outWarning, Kind: w.Kind.String(), Message: w.Message})
}

func (h *host) WarningCleared(k proctor.Kind) {
	h.c.send(warningMsg{Type: outWarningCleared, Kind: k.String()})
}

func (h *host) AttentionChanged(away bool) {
	h.c.send(attentionMsg{Type: outAttention, LookingAway: away})
}
