//go:build !windows

package usb

import (
	"net"
	"os"
)

func usbmuxdDial() (net.Conn, error) {
	if addr := os.Getenv("USBMUXD_SOCKET_ADDRESS"); addr != "" {
		return net.Dial("tcp", addr)
	}
	return net.Dial("unix", "/var/run/usbmuxd")
}
