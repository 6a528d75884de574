package discovery

import (
	"fmt"
	"testing"

	"github.com/mobiledevkit/ibridge/pkg/usb"
)

func attachEvent(deviceID int, udid string) *usb.DeviceEvent {
	return &usb.DeviceEvent{
		MessageType: "Attached",
		DeviceID:    deviceID,
		Properties:  &usb.DeviceAttachment{DeviceID: deviceID, UDID: udid, SerialNumber: udid},
	}
}

func runConsumer(w *Watcher, events ...*usb.DeviceEvent) {
	ch := make(chan *usb.DeviceEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	w.consume(ch)
}

func TestWatcherAppendsAttachedDevices(t *testing.T) {
	w := NewWatcher(func(udid string) (Device, error) {
		return Device{UDID: udid, Name: "dev " + udid, Arch: "aarch64"}, nil
	})

	if got := w.Registry().List(); len(got) != 0 {
		t.Fatalf("fresh registry has %d entries, want 0", len(got))
	}

	runConsumer(w, attachEvent(3, "abc123"))

	devices := w.Registry().List()
	if len(devices) != 1 {
		t.Fatalf("List() returned %d devices, want 1", len(devices))
	}
	if devices[0].UDID != "abc123" || devices[0].DeviceID != 3 {
		t.Errorf("List()[0] = %+v, want UDID abc123 / DeviceID 3", devices[0])
	}
	if devices[0].Vendor() != "apple" || devices[0].OS() != "ios" {
		t.Errorf("constant tags = %s/%s, want apple/ios", devices[0].Vendor(), devices[0].OS())
	}
}

func TestWatcherDoesNotDeduplicate(t *testing.T) {
	w := NewWatcher(func(udid string) (Device, error) {
		return Device{UDID: udid}, nil
	})

	// two identical notifications mean two entries, by design
	runConsumer(w, attachEvent(3, "abc123"), attachEvent(3, "abc123"))

	if got := len(w.Registry().List()); got != 2 {
		t.Errorf("List() returned %d devices after duplicate attach, want 2", got)
	}
}

func TestWatcherSkipsUnresolvableDevices(t *testing.T) {
	w := NewWatcher(func(udid string) (Device, error) {
		if udid == "broken" {
			return Device{}, fmt.Errorf("no session for %s", udid)
		}
		return Device{UDID: udid}, nil
	})

	runConsumer(w,
		attachEvent(1, "abc123"),
		attachEvent(2, "broken"),
		attachEvent(3, "def456"),
	)

	devices := w.Registry().List()
	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}
	if devices[0].UDID != "abc123" || devices[1].UDID != "def456" {
		t.Errorf("List() = %v, want abc123 then def456", devices)
	}
}

func TestWatcherIgnoresDetachEvents(t *testing.T) {
	w := NewWatcher(func(udid string) (Device, error) {
		return Device{UDID: udid}, nil
	})

	runConsumer(w,
		attachEvent(1, "abc123"),
		&usb.DeviceEvent{MessageType: "Detached", DeviceID: 1},
	)

	if got := len(w.Registry().List()); got != 1 {
		t.Errorf("List() returned %d devices after detach, want 1", got)
	}
}

func TestRegistryListIsASnapshot(t *testing.T) {
	w := NewWatcher(func(udid string) (Device, error) {
		return Device{UDID: udid}, nil
	})
	runConsumer(w, attachEvent(1, "abc123"))

	snapshot := w.Registry().List()
	snapshot[0].UDID = "mutated"

	if got := w.Registry().List()[0].UDID; got != "abc123" {
		t.Errorf("registry entry changed through a snapshot: %q", got)
	}
}
