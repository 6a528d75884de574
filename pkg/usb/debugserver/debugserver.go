// Package debugserver starts the device's remote debug service and hands
// back its raw byte stream. The developer disk image must already be
// mounted; this package does not re-mount.
package debugserver

import (
	"net"

	"github.com/mobiledevkit/ibridge/pkg/usb"
	"github.com/mobiledevkit/ibridge/pkg/usb/lockdownd"
)

const serviceName = "com.apple.debugserver"

type Client struct {
	c *usb.Client
}

// NewClient asks the device to start debugserver and connects to it. The
// returned stream speaks the gdb remote protocol; consumers (the proxy
// bridge, lldb) relay it verbatim.
func NewClient(udid string) (*Client, error) {
	cli, err := lockdownd.NewClientForService(serviceName, udid, false)
	if err != nil {
		return nil, err
	}

	// debugserver takes over the socket after the handshake
	cli.DisableSSL()

	return &Client{c: cli}, nil
}

// Conn exposes the raw device-side debug socket.
func (c *Client) Conn() net.Conn {
	return c.c.Conn()
}

func (c *Client) Close() error {
	return c.c.Close()
}
