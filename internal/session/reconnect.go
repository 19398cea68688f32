package session

import (
	"log/slog"
	"time"

	"github.com/MrWong99/proctora/internal/loop"
	"github.com/MrWong99/proctora/pkg/sensor"
)

// Default resubscription parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ResubscribeConfig tunes how a [Follower] retries a failed device
// subscription.
type ResubscribeConfig struct {
	// MaxRetries is the maximum number of consecutive failed attempts before
	// the Follower waits for the next device-list change. Defaults to 10.
	MaxRetries int

	// Backoff is the initial delay between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s.
	Backoff time.Duration

	// MaxBackoff caps the delay. Defaults to 30s.
	MaxBackoff time.Duration
}

func (c ResubscribeConfig) withDefaults() ResubscribeConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// Follower keeps exactly one subscription open on a device source and
// follows the device list: when the active device disappears it moves to the
// first available device without user intervention. While the list is empty
// it subscribes to the host's default device, so samples keep flowing from a
// host that never reports devices. Failed subscriptions are retried with
// exponential backoff.
//
// Samples are delivered on the source's goroutine; onSample must hand them
// to the loop itself. All other methods run on the loop goroutine.
type Follower[T any] struct {
	kind     sensor.DeviceKind
	src      sensor.DeviceSource[T]
	sched    loop.Scheduler
	cfg      ResubscribeConfig
	onSample func(T)
	log      *slog.Logger

	active      string
	unsub       sensor.Unsubscribe
	unwatch     sensor.Unsubscribe
	cancelRetry func()
	attempt     int
	backoff     time.Duration
	stopped     bool
}

// NewFollower creates a Follower. Call [Follower.Start] to subscribe.
func NewFollower[T any](kind sensor.DeviceKind, src sensor.DeviceSource[T], sched loop.Scheduler, cfg ResubscribeConfig, onSample func(T), log *slog.Logger) *Follower[T] {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Follower[T]{
		kind:     kind,
		src:      src,
		sched:    sched,
		cfg:      cfg,
		onSample: onSample,
		log:      log,
		backoff:  cfg.Backoff,
	}
}

// Start watches the device list and subscribes to the first listed device,
// or to the host default when none is listed.
func (f *Follower[T]) Start() {
	if f.src == nil || f.stopped {
		return
	}
	f.unwatch = f.src.OnDevicesChanged(func([]sensor.Device) {
		f.sched.Post(f.devicesChanged)
	})
	f.sync()
}

// Active returns the subscribed device ID. It is "" when nothing is
// subscribed or the host default is in use; see [Follower.Subscribed].
func (f *Follower[T]) Active() string { return f.active }

// Subscribed reports whether a subscription is open.
func (f *Follower[T]) Subscribed() bool { return f.unsub != nil }

// Stop drops the subscription and stops watching. Safe to call twice.
func (f *Follower[T]) Stop() {
	if f.stopped {
		return
	}
	f.stopped = true
	if f.cancelRetry != nil {
		f.cancelRetry()
		f.cancelRetry = nil
	}
	if f.unwatch != nil {
		f.unwatch()
		f.unwatch = nil
	}
	f.drop()
}

func (f *Follower[T]) devicesChanged() {
	if f.stopped {
		return
	}
	f.attempt = 0
	f.backoff = f.cfg.Backoff
	f.sync()
}

// sync makes the subscription match the device list.
func (f *Follower[T]) sync() {
	if f.stopped {
		return
	}
	if f.cancelRetry != nil {
		f.cancelRetry()
		f.cancelRetry = nil
	}

	devices := f.src.Devices()
	if f.unsub != nil {
		switch {
		case f.active == "" && len(devices) == 0:
			return
		case f.active != "" && present(devices, f.active):
			return
		case f.active != "":
			f.log.Info("device removed, resubscribing", "kind", string(f.kind), "device_id", f.active)
		default:
			f.log.Debug("devices reported, leaving host default", "kind", string(f.kind))
		}
		f.drop()
	}

	// "" asks the host for its default device.
	id := ""
	if len(devices) > 0 {
		id = devices[0].ID
	}
	unsub, err := f.src.SubscribeDevice(id, f.onSample)
	if err != nil {
		f.log.Warn("device subscription failed",
			"kind", string(f.kind),
			"device_id", id,
			"attempt", f.attempt+1,
			"error", err,
		)
		f.retry()
		return
	}
	f.active = id
	f.unsub = unsub
	f.attempt = 0
	f.backoff = f.cfg.Backoff
	f.log.Info("device subscribed", "kind", string(f.kind), "device_id", id, "host_default", id == "")
}

func (f *Follower[T]) retry() {
	f.attempt++
	if f.attempt >= f.cfg.MaxRetries {
		f.log.Error("device subscription failed after max retries",
			"kind", string(f.kind),
			"max_retries", f.cfg.MaxRetries,
		)
		return
	}
	f.cancelRetry = f.sched.After(f.backoff, func() {
		f.cancelRetry = nil
		f.sync()
	})
	f.backoff *= 2
	if f.backoff > f.cfg.MaxBackoff {
		f.backoff = f.cfg.MaxBackoff
	}
}

func (f *Follower[T]) drop() {
	if f.unsub != nil {
		f.unsub()
		f.unsub = nil
	}
	f.active = ""
}

func present(devices []sensor.Device, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
