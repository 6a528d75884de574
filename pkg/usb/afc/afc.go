// Package afc pushes files onto the device filesystem exposed by the
// com.apple.afc service. Only the surface the installer needs is
// implemented: directory creation and streamed file writes.
package afc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	pathpkg "path"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mobiledevkit/ibridge/pkg/usb"
	"github.com/mobiledevkit/ibridge/pkg/usb/lockdownd"
)

const (
	serviceName = "com.apple.afc"
	headerSize  = 40
	afcMagic    = "CFA6LPAA"
)

const (
	afcOpStatus         = 0x01
	afcOpData           = 0x02
	afcOpRemovePath     = 0x08
	afcOpMakeDir        = 0x09
	afcOpFileRefOpen    = 0x0d
	afcOpFileRefOpenRes = 0x0e
	afcOpFileRefWrite   = 0x10
	afcOpFileRefClose   = 0x14
)

const (
	afcFOpenWronly = 0x03 /* O_WRONLY | O_CREAT | O_TRUNC */
)

var statusErrors = map[uint64]error{
	1:  errors.New("unknown error"),
	2:  errors.New("invalid operation header"),
	3:  errors.New("no resources"),
	4:  errors.New("read error"),
	5:  errors.New("write error"),
	6:  errors.New("unknown packet type"),
	7:  errors.New("invalid argument"),
	8:  errors.New("object not found"),
	9:  errors.New("object is a directory"),
	10: errors.New("permission denied"),
	11: errors.New("service not connected"),
	12: errors.New("operation timeout"),
	13: errors.New("too much data"),
	14: io.EOF,
	15: errors.New("operation not supported"),
	16: errors.New("object exists"),
	17: errors.New("object busy"),
	18: errors.New("no space left"),
	19: errors.New("operation would block"),
	20: errors.New("io error"),
	21: errors.New("operation interrupted"),
	22: errors.New("operation in progress"),
	23: errors.New("internal error"),
}

type header struct {
	Magic        [8]byte
	EntireLength uint64
	ThisLength   uint64
	PacketNum    uint64
	Operation    uint64
}

type Client struct {
	mu        sync.Mutex
	c         *usb.Client
	packetNum uint64
}

func NewClient(udid string) (*Client, error) {
	c, err := lockdownd.NewClientForService(serviceName, udid, false)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

func encodeArgs(args ...any) []byte {
	ret := make([]byte, 0)
	for _, arg := range args {
		switch v := arg.(type) {
		case uint64:
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, v)
			ret = append(ret, b...)
		case string:
			ret = append(ret, []byte(v)...)
			ret = append(ret, 0)
		default:
			panic(fmt.Errorf("invalid afc argument type %T", v))
		}
	}
	return ret
}

func (c *Client) sendRequest(operation uint64, payload []byte, args ...any) error {
	argsData := encodeArgs(args...)
	hdr := &header{
		EntireLength: headerSize + uint64(len(argsData)) + uint64(len(payload)),
		ThisLength:   headerSize + uint64(len(argsData)),
		PacketNum:    atomic.AddUint64(&c.packetNum, 1),
		Operation:    operation,
	}
	copy(hdr.Magic[:], afcMagic)
	if err := binary.Write(c.c.Conn(), binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := c.c.Conn().Write(argsData); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := c.c.Conn().Write(payload)
		return err
	}
	return nil
}

type response struct {
	operation uint64
	data      []byte
}

func (c *Client) recvResponse() (*response, error) {
	hdr := &header{}
	if err := binary.Read(c.c.Conn(), binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	resp := &response{operation: hdr.Operation}
	toRead := hdr.EntireLength - headerSize
	if toRead > 0 {
		resp.data = make([]byte, toRead)
		if _, err := io.ReadFull(c.c.Conn(), resp.data); err != nil {
			return nil, err
		}
	}
	if hdr.Operation == afcOpStatus && len(resp.data) >= 8 {
		code := binary.LittleEndian.Uint64(resp.data)
		if err := statusErrors[code]; err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (c *Client) request(operation uint64, payload []byte, args ...any) (*response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendRequest(operation, payload, args...); err != nil {
		return nil, err
	}
	return c.recvResponse()
}

// MakeDir creates a directory on the device; existing directories are fine.
func (c *Client) MakeDir(path string) error {
	_, err := c.request(afcOpMakeDir, nil, path)
	return err
}

// RemovePath removes a file or empty directory on the device.
func (c *Client) RemovePath(path string) error {
	_, err := c.request(afcOpRemovePath, nil, path)
	return err
}

// CopyFileToDevice streams one local file to the device path.
func (c *Client) CopyFileToDevice(dst, src string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := c.FileOpen(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	return nil
}

// CopyToDevice mirrors a local file or directory tree under dst on the
// device.
func (c *Client) CopyToDevice(dst, src string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !srcInfo.IsDir() {
		return c.CopyFileToDevice(pathpkg.Join(dst, filepath.Base(src)), src)
	}
	base := filepath.Dir(src)
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		targetPath := pathpkg.Join(dst, filepath.ToSlash(rel))
		if info.IsDir() {
			return c.MakeDir(targetPath)
		}
		return c.CopyFileToDevice(targetPath, path)
	})
}

func (c *Client) Close() error {
	return c.c.Close()
}
