// Package mock provides test doubles for the pkg/sensor capability
// interfaces.
//
// All doubles deliver samples synchronously on the goroutine that calls
// Emit, which lets tests drive a consumer step by step:
//
//	cam := mock.NewDeviceSource[sensor.Frame](sensor.Device{ID: "cam-1", Kind: sensor.KindCamera})
//	unsub, _ := cam.SubscribeDevice("cam-1", onFrame)
//	cam.Emit(sensor.Frame{})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/proctora/pkg/sensor"
)

// ErrUnknownDevice is returned by [DeviceSource.SubscribeDevice] for IDs that
// are not in the device list.
var ErrUnknownDevice = errors.New("mock: unknown device")

// Source is a mock [sensor.Source]. Every subscriber receives every Emit.
type Source[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)

	// SubscribeCalls counts calls to Subscribe.
	SubscribeCalls int
}

// Subscribe registers onSample.
func (s *Source[T]) Subscribe(onSample func(T)) sensor.Unsubscribe {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.subs[id] = onSample
	s.SubscribeCalls++
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Emit delivers sample to all current subscribers.
func (s *Source[T]) Emit(sample T) {
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

// Subscribers returns the number of active subscriptions.
func (s *Source[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// DeviceSource is a mock [sensor.DeviceSource] with a single active
// subscription, mirroring the single-owner device handle contract.
type DeviceSource[T any] struct {
	mu       sync.Mutex
	devices  []sensor.Device
	active   string
	onSample func(T)
	gen      int
	changeCb map[int]func([]sensor.Device)
	nextCb   int

	// SubscribeErr, if non-nil, is returned by SubscribeDevice.
	SubscribeErr error

	// SubscribedDevices records the device ID of every SubscribeDevice call.
	SubscribedDevices []string
}

// NewDeviceSource returns a DeviceSource reporting devices.
func NewDeviceSource[T any](devices ...sensor.Device) *DeviceSource[T] {
	return &DeviceSource[T]{devices: devices}
}

// Devices returns the configured device list.
func (d *DeviceSource[T]) Devices() []sensor.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sensor.Device, len(d.devices))
	copy(out, d.devices)
	return out
}

// OnDevicesChanged registers cb.
func (d *DeviceSource[T]) OnDevicesChanged(cb func([]sensor.Device)) sensor.Unsubscribe {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.changeCb == nil {
		d.changeCb = make(map[int]func([]sensor.Device))
	}
	id := d.nextCb
	d.nextCb++
	d.changeCb[id] = cb
	return func() {
		d.mu.Lock()
		delete(d.changeCb, id)
		d.mu.Unlock()
	}
}

// SubscribeDevice replaces the active subscription.
func (d *DeviceSource[T]) SubscribeDevice(deviceID string, onSample func(T)) (sensor.Unsubscribe, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SubscribedDevices = append(d.SubscribedDevices, deviceID)
	if d.SubscribeErr != nil {
		return nil, d.SubscribeErr
	}
	if deviceID != "" && !d.hasLocked(deviceID) {
		return nil, ErrUnknownDevice
	}
	d.gen++
	gen := d.gen
	d.active = deviceID
	d.onSample = onSample
	return func() {
		d.mu.Lock()
		if d.gen == gen {
			d.onSample = nil
			d.active = ""
		}
		d.mu.Unlock()
	}, nil
}

// SetDevices replaces the device list and notifies change listeners.
func (d *DeviceSource[T]) SetDevices(devices ...sensor.Device) {
	d.mu.Lock()
	d.devices = devices
	cbs := make([]func([]sensor.Device), 0, len(d.changeCb))
	for _, cb := range d.changeCb {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		cb(d.Devices())
	}
}

// Emit delivers sample to the active subscription, if any.
func (d *DeviceSource[T]) Emit(sample T) {
	d.mu.Lock()
	fn := d.onSample
	d.mu.Unlock()
	if fn != nil {
		fn(sample)
	}
}

// Active returns the device ID of the active subscription and whether one
// exists.
func (d *DeviceSource[T]) Active() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.onSample != nil
}

func (d *DeviceSource[T]) hasLocked(id string) bool {
	for _, dev := range d.devices {
		if dev.ID == id {
			return true
		}
	}
	return false
}

// Recognizer is a mock [sensor.Recognizer].
type Recognizer struct {
	Source[sensor.Recognition]

	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StartCalls and CancelCalls count invocations.
	StartCalls  int
	CancelCalls int
}

// Start records the call.
func (r *Recognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls++
	return r.StartErr
}

// Cancel records the call.
func (r *Recognizer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CancelCalls++
}

// Counts returns StartCalls and CancelCalls under the lock.
func (r *Recognizer) Counts() (start, cancel int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StartCalls, r.CancelCalls
}

// PlayCall records a single PlayAsset or Speak invocation.
type PlayCall struct {
	ID    string
	Asset string
	Text  string
}

// Speaker is a mock [sensor.Speaker].
type Speaker struct {
	mu sync.Mutex

	// PlayAssetErr, if non-nil, is returned by PlayAsset.
	PlayAssetErr error

	// SpeakErr, if non-nil, is returned by Speak.
	SpeakErr error

	// PlayAssetCalls and SpeakCalls record every invocation in order.
	PlayAssetCalls []PlayCall
	SpeakCalls     []PlayCall

	// CancelCalls counts calls to Cancel.
	CancelCalls int
}

// PlayAsset records the call and returns PlayAssetErr.
func (s *Speaker) PlayAsset(_ context.Context, id, asset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayAssetCalls = append(s.PlayAssetCalls, PlayCall{ID: id, Asset: asset})
	return s.PlayAssetErr
}

// Speak records the call and returns SpeakErr.
func (s *Speaker) Speak(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpeakCalls = append(s.SpeakCalls, PlayCall{ID: id, Text: text})
	return s.SpeakErr
}

// Cancel records the call.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCalls++
}

// Snapshot returns copies of the recorded calls.
func (s *Speaker) Snapshot() (assets, speech []PlayCall, cancels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assets = append([]PlayCall(nil), s.PlayAssetCalls...)
	speech = append([]PlayCall(nil), s.SpeakCalls...)
	return assets, speech, s.CancelCalls
}

// Compile-time interface assertions.
var (
	_ sensor.Source[sensor.VisibilityChange] = (*Source[sensor.VisibilityChange])(nil)
	_ sensor.Camera                          = (*DeviceSource[sensor.Frame])(nil)
	_ sensor.Microphone                      = (*DeviceSource[sensor.Level])(nil)
	_ sensor.Recognizer                      = (*Recognizer)(nil)
	_ sensor.Speaker                         = (*Speaker)(nil)
)
