// Package discovery tracks the set of devices usbmuxd has seen since the
// watcher started. Attach notifications are resolved to device identity and
// appended to a shared registry; entries are never removed, a device that
// went away simply fails its next session.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"

	"github.com/mobiledevkit/ibridge/pkg/usb"
	"github.com/mobiledevkit/ibridge/pkg/usb/lockdownd"
)

// Device is a registry entry: the mux handle plus the identity fields
// resolved at attach time.
type Device struct {
	UDID     string
	Name     string
	Arch     string
	DeviceID int
}

func (Device) Vendor() string { return "apple" }
func (Device) OS() string     { return "ios" }

func (d Device) String() string {
	return fmt.Sprintf("%s %s (%s)", d.UDID, d.Name, d.Arch)
}

// Registry is the shared collection of discovered devices. Appends come from
// the watcher's consumer goroutine only; reads can come from anywhere.
// Duplicate attach notifications produce duplicate entries: the stream is
// not deduplicated.
type Registry struct {
	mu      sync.Mutex
	devices []Device
}

// List returns a snapshot copy of the registry in arrival order.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

func (r *Registry) add(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, d)
}

// Resolver turns an attached UDID into a full registry entry. The default
// resolver opens a lockdown session and reads name and CPU architecture.
type Resolver func(udid string) (Device, error)

func resolveDevice(udid string) (Device, error) {
	s, err := lockdownd.NewSession(udid)
	if err != nil {
		return Device{}, err
	}
	defer s.Close()

	name, err := s.DeviceName()
	if err != nil {
		return Device{}, err
	}
	arch, err := s.CPUArchitecture()
	if err != nil {
		return Device{}, err
	}
	return Device{UDID: udid, Name: name, Arch: arch}, nil
}

// Watcher subscribes to usbmuxd attach/detach notifications and feeds the
// registry. The notification reader and the registry consumer are separate
// goroutines joined by a channel, so wire I/O never runs under the registry
// lock. Stop (or context cancellation) tears the whole thing down.
type Watcher struct {
	reg     *Registry
	resolve Resolver

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a stopped watcher. A nil resolver uses the lockdown
// session resolver.
func NewWatcher(resolve Resolver) *Watcher {
	if resolve == nil {
		resolve = resolveDevice
	}
	return &Watcher{
		reg:     &Registry{},
		resolve: resolve,
	}
}

func (w *Watcher) Registry() *Registry {
	return w.reg
}

// Start connects to usbmuxd, subscribes to device notifications and returns
// once the subscription is live. The watcher runs until Stop is called or
// ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("watcher already started")
	}

	conn, err := usb.NewConn()
	if err != nil {
		return err
	}
	if err := conn.Listen(); err != nil {
		conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	events := make(chan *usb.DeviceEvent)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// reader: wire -> channel
	go func() {
		defer close(events)
		for {
			ev, err := conn.ReadEvent()
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Error("device notification stream ended")
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	// consumer: channel -> registry
	go func() {
		defer close(w.done)
		w.consume(events)
	}()

	return nil
}

func (w *Watcher) consume(events <-chan *usb.DeviceEvent) {
	for ev := range events {
		if ev.MessageType != "Attached" || ev.Properties == nil {
			continue
		}
		udid := ev.Properties.UDID
		if udid == "" {
			udid = ev.Properties.SerialNumber
		}
		dev, err := w.resolve(udid)
		if err != nil {
			// A device we cannot identify is skipped, not fatal to
			// the worker.
			log.WithError(err).WithField("udid", udid).Error("failed to resolve attached device")
			continue
		}
		dev.DeviceID = ev.DeviceID
		w.reg.add(dev)
		log.WithField("udid", dev.UDID).WithField("name", dev.Name).Info("device attached")
	}
}

// Stop cancels the subscription and waits for the worker goroutines to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
