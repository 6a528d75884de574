package usb

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/blacktop/go-plist"
)

// Client is a connection to one device service (lockdownd or anything
// lockdownd started for us). Frames are big-endian length-prefixed XML
// plists, optionally TLS-wrapped with the host pair record identity.
type Client struct {
	tlsConn    *tls.Conn
	conn       net.Conn
	udid       string
	deviceID   int
	pairRecord *PairRecord
}

// NewClient connects to a TCP port on the device identified by udid. The
// pairing record is read up front; a device this host never paired with
// fails with ErrPairingLost before anything touches the wire.
func NewClient(udid string, port int) (*Client, error) {
	conn, err := NewConn()
	if err != nil {
		return nil, err
	}

	pairRecord, err := conn.ReadPairRecord(udid)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrPairingLost, err)
	}

	devices, err := conn.ListDevices()
	if err != nil {
		conn.Close()
		return nil, err
	}

	deviceID := -1
	for _, device := range devices {
		if device.UDID == udid {
			deviceID = device.DeviceID
			break
		}
	}

	if deviceID < 0 {
		conn.Close()
		return nil, fmt.Errorf("unable to find device with udid: %v", udid)
	}

	if err := conn.Dial(deviceID, port); err != nil {
		conn.Close()
		return nil, err
	}

	return &Client{
		conn:       conn,
		pairRecord: pairRecord,
		udid:       udid,
		deviceID:   deviceID,
	}, nil
}

// ClientFrom wraps an already established connection. Used by tests to talk
// to in-process fake services and by callers that hold a raw service stream.
func ClientFrom(conn net.Conn, udid string, pairRecord *PairRecord) *Client {
	return &Client{
		conn:       conn,
		udid:       udid,
		pairRecord: pairRecord,
	}
}

func (c *Client) EnableSSL() error {
	cert, err := tls.X509KeyPair(c.pairRecord.HostCertificate, c.pairRecord.HostPrivateKey)
	if err != nil {
		return err
	}

	c.tlsConn = tls.Client(c.conn, &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
	})
	if err := c.tlsConn.Handshake(); err != nil {
		return err
	}

	return nil
}

// DisableSSL drops back to the plain socket. The debugserver shim speaks its
// own protocol on the raw stream after the service handshake.
func (c *Client) DisableSSL() {
	c.tlsConn = nil
}

func (c *Client) Request(req, resp any) error {
	if err := c.Send(req); err != nil {
		return err
	}

	return c.Recv(resp)
}

func (c *Client) Send(req any) error {
	data, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		return err
	}

	if err := binary.Write(c.Conn(), binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}

	return binary.Write(c.Conn(), binary.BigEndian, data)
}

func (c *Client) Recv(resp any) error {
	data, err := c.RecvBytes()
	if err != nil {
		return err
	}

	if _, err := plist.Unmarshal(data, resp); err != nil {
		return err
	}

	return nil
}

func (c *Client) RecvBytes() ([]byte, error) {
	size := uint32(0)
	if err := binary.Read(c.Conn(), binary.BigEndian, &size); err != nil {
		return nil, err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(c.Conn(), data); err != nil {
		return nil, err
	}

	return data, nil
}

func (c *Client) UDID() string {
	return c.udid
}

func (c *Client) DeviceID() int {
	return c.deviceID
}

func (c *Client) Conn() net.Conn {
	if c.tlsConn != nil {
		return c.tlsConn
	}

	return c.conn
}

func (c *Client) PairRecord() *PairRecord {
	return c.pairRecord
}

func (c *Client) Close() error {
	return c.Conn().Close()
}
