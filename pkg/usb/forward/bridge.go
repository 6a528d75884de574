// Package forward exposes a device-side byte stream as a local TCP endpoint
// so a debugger on the host can attach to it.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/apex/log"
)

// pollInterval bounds how long the relay waits on one side before giving the
// other side a turn.
const pollInterval = 10 * time.Millisecond

// Bridge owns one local listener and one device-side socket. It serves one
// client connection at a time; a finished or failed connection returns the
// bridge to accepting, it never kills the bridge itself.
type Bridge struct {
	listener net.Listener
	device   net.Conn
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start binds a listener on 127.0.0.1 with an OS-assigned port and begins
// relaying in the background. The bridge lives until Stop or ctx
// cancellation.
func Start(ctx context.Context, device net.Conn) (*Bridge, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		listener: listener,
		device:   device,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
		_ = device.Close()
	}()

	go b.acceptLoop(ctx)

	return b, nil
}

// Port returns the bound local port.
func (b *Bridge) Port() int {
	return b.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the endpoint string a debugger connects to.
func (b *Bridge) Addr() string {
	return fmt.Sprintf("localhost:%d", b.Port())
}

// Stop tears the bridge down: listener and device socket are closed and the
// relay goroutine is waited for.
func (b *Bridge) Stop() {
	b.cancel()
	<-b.done
}

// acceptLoop serves clients sequentially. The device socket is owned by
// exactly one relay at a time.
func (b *Bridge) acceptLoop(ctx context.Context) {
	defer close(b.done)
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("debug proxy stopped accepting")
			}
			return
		}
		log.WithField("client", conn.RemoteAddr().String()).Debug("debugger attached")
		if err := relay(conn, b.device); err != nil {
			log.WithError(err).Warn("debug proxy connection ended")
		}
		conn.Close()
	}
}

// relay shuttles bytes between the client and the device socket from a
// single goroutine, alternating reads under a short deadline so neither
// side can starve the other. A clean EOF on either side ends this
// connection's relay; any other I/O error is returned.
func relay(client, device net.Conn) error {
	defer client.SetReadDeadline(time.Time{})
	defer device.SetReadDeadline(time.Time{})

	buf := make([]byte, 4096)
	for {
		n, err := readSide(client, buf)
		if n > 0 {
			if _, werr := device.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing to device: %w", werr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading from client: %w", err)
		}

		n, err = readSide(device, buf)
		if n > 0 {
			if _, werr := client.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing to client: %w", werr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading from device: %w", err)
		}
	}
}

// readSide does one bounded read. A deadline expiry is "no data right now",
// reported as (0, nil).
func readSide(conn net.Conn, buf []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return n, nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		if n > 0 && errors.Is(err, io.EOF) {
			// deliver the final bytes, report EOF on the next read
			return n, nil
		}
		return n, err
	}
	return n, nil
}
