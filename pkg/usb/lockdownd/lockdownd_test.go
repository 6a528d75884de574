package lockdownd

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"

	"github.com/blacktop/go-plist"

	"github.com/mobiledevkit/ibridge/pkg/usb"
)

// fakeLockdownd serves the lockdown plist protocol on one end of a pipe.
type fakeLockdownd struct {
	conn        net.Conn
	stopCount   atomic.Int32
	validateErr string
	startErr    string
	values      map[string]any
}

func startFakeLockdownd(t *testing.T) (*fakeLockdownd, *usb.Client) {
	t.Helper()
	client, server := net.Pipe()
	f := &fakeLockdownd{
		conn: server,
		values: map[string]any{
			"DeviceName":      "test device",
			"ProductVersion":  "13.4.1",
			"CPUArchitecture": "arm64e",
		},
	}
	go f.serve()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	pair := &usb.PairRecord{HostID: "HOST-1", SystemBUID: "BUID-1"}
	return f, usb.ClientFrom(client, "abc123", pair)
}

func (f *fakeLockdownd) serve() {
	for {
		var size uint32
		if err := binary.Read(f.conn, binary.BigEndian, &size); err != nil {
			return
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(f.conn, data); err != nil {
			return
		}
		var req map[string]any
		if _, err := plist.Unmarshal(data, &req); err != nil {
			return
		}

		switch req["Request"] {
		case "ValidatePair":
			if f.validateErr != "" {
				f.reply(map[string]any{"Request": "ValidatePair", "Error": f.validateErr})
			} else {
				f.reply(map[string]any{"Request": "ValidatePair"})
			}
		case "StartSession":
			if f.startErr != "" {
				f.reply(map[string]any{"Request": "StartSession", "Error": f.startErr})
			} else {
				f.reply(map[string]any{"Request": "StartSession", "SessionID": "SESSION-1"})
			}
		case "StopSession":
			f.stopCount.Add(1)
			f.reply(map[string]any{"Request": "StopSession"})
		case "GetValue":
			key, _ := req["Key"].(string)
			if v, ok := f.values[key]; ok {
				f.reply(map[string]any{"Request": "GetValue", "Key": key, "Value": v})
			} else {
				f.reply(map[string]any{"Request": "GetValue", "Key": key, "Error": "MissingValue"})
			}
		default:
			f.reply(map[string]any{"Error": "InvalidRequest"})
		}
	}
}

func (f *fakeLockdownd) reply(msg any) {
	data, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		panic(err)
	}
	if err := binary.Write(f.conn, binary.BigEndian, uint32(len(data))); err != nil {
		return
	}
	f.conn.Write(data)
}

func TestSessionPropertyReads(t *testing.T) {
	_, cli := startFakeLockdownd(t)

	s, err := SessionFrom(cli)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	name, err := s.DeviceName()
	if err != nil {
		t.Fatal(err)
	}
	if name != "test device" {
		t.Errorf("DeviceName() = %q, want %q", name, "test device")
	}

	version, err := s.ProductVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != "13.4.1" {
		t.Errorf("ProductVersion() = %q, want %q", version, "13.4.1")
	}

	arch, err := s.CPUArchitecture()
	if err != nil {
		t.Fatal(err)
	}
	if arch != "aarch64" {
		t.Errorf("CPUArchitecture() = %q, want %q", arch, "aarch64")
	}
}

func TestSessionReleaseRunsOnce(t *testing.T) {
	f, cli := startFakeLockdownd(t)

	s, err := SessionFrom(cli)
	if err != nil {
		t.Fatal(err)
	}

	s.Close()
	s.Close() // release is idempotent

	if got := f.stopCount.Load(); got != 1 {
		t.Errorf("StopSession issued %d times, want 1", got)
	}
}

func TestSessionReleaseRunsAfterFailedOperation(t *testing.T) {
	f, cli := startFakeLockdownd(t)

	s, err := SessionFrom(cli)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetValue("", "NoSuchKey"); err == nil {
		t.Fatal("expected GetValue on a missing key to fail")
	}

	s.Close()
	if got := f.stopCount.Load(); got != 1 {
		t.Errorf("StopSession issued %d times after failed operation, want 1", got)
	}
}

func TestSessionPairingInvalid(t *testing.T) {
	f, cli := startFakeLockdownd(t)
	f.validateErr = "InvalidHostID"

	if _, err := SessionFrom(cli); !errors.Is(err, usb.ErrPairingInvalid) {
		t.Errorf("SessionFrom() error = %v, want ErrPairingInvalid", err)
	}
}

func TestSessionStartProtocolError(t *testing.T) {
	f, cli := startFakeLockdownd(t)
	f.startErr = "SessionActive"

	_, err := SessionFrom(cli)
	var perr *usb.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("SessionFrom() error = %v, want ProtocolError", err)
	}
	if perr.Code != "SessionActive" {
		t.Errorf("ProtocolError.Code = %q, want %q", perr.Code, "SessionActive")
	}
}

func TestSessionWithoutPairRecord(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cli := usb.ClientFrom(client, "abc123", nil)
	if _, err := SessionFrom(cli); !errors.Is(err, usb.ErrPairingLost) {
		t.Errorf("SessionFrom() error = %v, want ErrPairingLost", err)
	}
}
