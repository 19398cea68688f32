package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/proctora/pkg/sensor"
)

// ErrPlaybackTimeout is returned by the speaker when the host does not
// confirm playback in time.
var ErrPlaybackTimeout = errors.New("gateway: playback not confirmed")

// source is a [sensor.Source] fed by host messages.
type source[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

func (s *source[T]) Subscribe(onSample func(T)) sensor.Unsubscribe {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.subs[id] = onSample
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *source[T]) emit(sample T) {
	s.mu.Lock()
	subs := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(sample)
	}
}

// deviceSource is a [sensor.DeviceSource] whose device list and samples come
// from the host. Selecting a device is forwarded to the host.
type deviceSource[T any] struct {
	kind sensor.DeviceKind
	send func(any)

	mu       sync.Mutex
	devices  []sensor.Device
	onSample func(T)
	gen      int
	watchers source[[]sensor.Device]
}

func newDeviceSource[T any](kind sensor.DeviceKind, send func(any)) *deviceSource[T] {
	return &deviceSource[T]{kind: kind, send: send}
}

func (d *deviceSource[T]) Devices() []sensor.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sensor.Device(nil), d.devices...)
}

func (d *deviceSource[T]) OnDevicesChanged(cb func([]sensor.Device)) sensor.Unsubscribe {
	return d.watchers.Subscribe(cb)
}

func (d *deviceSource[T]) SubscribeDevice(deviceID string, onSample func(T)) (sensor.Unsubscribe, error) {
	d.mu.Lock()
	if deviceID != "" && !hasDevice(d.devices, deviceID) {
		d.mu.Unlock()
		return nil, fmt.Errorf("gateway: %s %q not available", d.kind, deviceID)
	}
	d.gen++
	gen := d.gen
	d.onSample = onSample
	d.mu.Unlock()

	d.send(selectDeviceMsg{Type: outSelectDevice, Kind: string(d.kind), DeviceID: deviceID})
	return func() {
		d.mu.Lock()
		if d.gen == gen {
			d.onSample = nil
		}
		d.mu.Unlock()
	}, nil
}

func (d *deviceSource[T]) setDevices(devices []sensor.Device) {
	d.mu.Lock()
	d.devices = devices
	d.mu.Unlock()
	d.watchers.emit(d.Devices())
}

func (d *deviceSource[T]) emit(sample T) {
	d.mu.Lock()
	fn := d.onSample
	d.mu.Unlock()
	if fn != nil {
		fn(sample)
	}
}

func hasDevice(devices []sensor.Device, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// recognizer forwards capture control to the host, which runs speech
// recognition and sends the results back.
type recognizer struct {
	source[sensor.Recognition]
	send func(any)
}

func (r *recognizer) Start() error {
	r.send(typeOnly{Type: outRecognitionOn})
	return nil
}

func (r *recognizer) Cancel() {
	r.send(typeOnly{Type: outRecognitionOff})
}

// speaker asks the host to play narration and waits for the host to confirm
// that playback started.
type speaker struct {
	send    func(any)
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan error
}

func newSpeaker(send func(any), timeout time.Duration) *speaker {
	return &speaker{send: send, timeout: timeout, pending: make(map[string]chan error)}
}

func (s *speaker) PlayAsset(ctx context.Context, id, asset string) error {
	return s.play(ctx, id, narrateMsg{Type: outNarrate, ID: id, Asset: asset})
}

func (s *speaker) Speak(ctx context.Context, id, text string) error {
	return s.play(ctx, id, narrateMsg{Type: outSpeak, ID: id, Text: text})
}

func (s *speaker) Cancel() {
	s.send(typeOnly{Type: outCancelNarration})
}

func (s *speaker) play(ctx context.Context, id string, msg narrateMsg) error {
	ch := make(chan error, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pending[id] == ch {
			delete(s.pending, id)
		}
		s.mu.Unlock()
	}()

	s.send(msg)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return ErrPlaybackTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve delivers the host's playback result for id. Results for unknown
// IDs are ignored.
func (s *speaker) resolve(id, errText string) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	var err error
	if errText != "" {
		err = fmt.Errorf("gateway: host playback: %s", errText)
	}
	select {
	case ch <- err:
	default:
	}
}
