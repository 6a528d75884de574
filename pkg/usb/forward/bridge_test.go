package forward

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func startTestBridge(t *testing.T) (*Bridge, net.Conn) {
	t.Helper()
	deviceSide, remoteSide := net.Pipe()

	b, err := Start(context.Background(), deviceSide)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Stop)
	t.Cleanup(func() { remoteSide.Close() })

	return b, remoteSide
}

func dialBridge(t *testing.T, b *Bridge) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", b.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFull accumulates exactly n bytes from conn in the background.
func readFull(conn net.Conn, n int) <-chan []byte {
	ch := make(chan []byte, 1)
	go func() {
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			ch <- nil
			return
		}
		ch <- buf
	}()
	return ch
}

func payload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func writeChunked(t *testing.T, w io.Writer, data []byte, chunk int) {
	t.Helper()
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		if _, err := w.Write(data[off:end]); err != nil {
			t.Fatalf("write at offset %d: %v", off, err)
		}
	}
}

func TestBridgeRelayFidelity(t *testing.T) {
	b, device := startTestBridge(t)
	client := dialBridge(t, b)

	// client -> device, multi-kilobyte payload in small writes
	sent := payload(8 << 10)
	got := readFull(device, len(sent))
	writeChunked(t, client, sent, 100)
	select {
	case data := <-got:
		if !bytes.Equal(data, sent) {
			t.Fatal("client->device bytes corrupted or reordered")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client->device relay")
	}

	// device -> client, same round trip the other way
	reply := payload(8 << 10)
	got = readFull(client, len(reply))
	writeChunked(t, device, reply, 100)
	select {
	case data := <-got:
		if !bytes.Equal(data, reply) {
			t.Fatal("device->client bytes corrupted or reordered")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for device->client relay")
	}
}

func TestBridgeSurvivesClientDisconnect(t *testing.T) {
	b, device := startTestBridge(t)

	first := dialBridge(t, b)
	sent := []byte("hello from first client")
	got := readFull(device, len(sent))
	if _, err := first.Write(sent); err != nil {
		t.Fatal(err)
	}
	<-got
	first.Close() // orderly close ends only this connection's relay

	// the bridge stays up and serves the next client on the same
	// device socket
	second := dialBridge(t, b)
	sent = []byte("hello from second client")
	got = readFull(device, len(sent))
	if _, err := second.Write(sent); err != nil {
		t.Fatal(err)
	}
	select {
	case data := <-got:
		if !bytes.Equal(data, sent) {
			t.Fatal("second connection relayed wrong bytes")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bridge went deaf after the first client disconnected")
	}
}

func TestBridgeStop(t *testing.T) {
	deviceSide, remoteSide := net.Pipe()
	defer remoteSide.Close()

	b, err := Start(context.Background(), deviceSide)
	if err != nil {
		t.Fatal(err)
	}

	addr := b.Addr()
	b.Stop()

	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
		t.Fatal("listener still accepting after Stop")
	}
}
