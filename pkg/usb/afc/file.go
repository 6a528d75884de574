package afc

import (
	"encoding/binary"
	"fmt"
)

// FileRef is an open, write-only file handle on the device.
type FileRef struct {
	c   *Client
	ref uint64
}

// FileOpen opens path on the device for writing, truncating it if present.
func (c *Client) FileOpen(path string) (*FileRef, error) {
	resp, err := c.request(afcOpFileRefOpen, nil, uint64(afcFOpenWronly), path)
	if err != nil {
		return nil, err
	}
	if resp.operation != afcOpFileRefOpenRes || len(resp.data) < 8 {
		return nil, fmt.Errorf("unexpected file open reply op %#x", resp.operation)
	}
	return &FileRef{
		c:   c,
		ref: binary.LittleEndian.Uint64(resp.data),
	}, nil
}

func (f *FileRef) Write(p []byte) (int, error) {
	if _, err := f.c.request(afcOpFileRefWrite, p, f.ref); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *FileRef) Close() error {
	_, err := f.c.request(afcOpFileRefClose, nil, f.ref)
	return err
}
