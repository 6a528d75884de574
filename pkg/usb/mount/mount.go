// Package mount drives the mobile_image_mounter service: it matches the
// developer support image on the host to the device OS version and mounts it
// on the device, a prerequisite for starting the remote debug service.
package mount

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"

	"github.com/mobiledevkit/ibridge/pkg/usb"
	"github.com/mobiledevkit/ibridge/pkg/usb/lockdownd"
)

const serviceName = "com.apple.mobile.mobile_image_mounter"

const ImageTypeDeveloper = "Developer"

// MountError is a non-OK status from the image mounter, except the
// "already mounted" case which MountImage swallows as success.
type MountError struct {
	Status        string
	Code          string
	DetailedError string
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount failed: %s: %s", e.Code, e.DetailedError)
}

type lookupImageRequest struct {
	Command   string `plist:"Command,omitempty"`
	ImageType string `plist:"ImageType,omitempty"`
}

type lookupImageResponse struct {
	Status         string   `plist:"Status,omitempty"`
	ImageSignature [][]byte `plist:"ImageSignature,omitempty"`
}

type mountRequest struct {
	Command        string `plist:"Command,omitempty"`
	ImageType      string `plist:"ImageType,omitempty"`
	ImageSize      int    `plist:"ImageSize,omitempty"`
	ImageSignature []byte `plist:"ImageSignature,omitempty"`
}

type mountResponse struct {
	Status        string `plist:"Status,omitempty"`
	Error         string `plist:"Error,omitempty"`
	DetailedError string `plist:"DetailedError,omitempty"`
}

type Client struct {
	c *usb.Client
}

func NewClient(udid string) (*Client, error) {
	c, err := lockdownd.NewClientForService(serviceName, udid, false)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

// ClientFrom wraps an existing mobile_image_mounter connection.
func ClientFrom(c *usb.Client) *Client {
	return &Client{c: c}
}

// LookupImage returns the signatures of images of the given type already
// present on the device.
func (c *Client) LookupImage(imageType string) ([][]byte, error) {
	req := &lookupImageRequest{Command: "LookupImage", ImageType: imageType}
	resp := &lookupImageResponse{}
	if err := c.c.Request(req, resp); err != nil {
		return nil, err
	}
	return resp.ImageSignature, nil
}

// Upload streams the disk image to the device ahead of mounting.
func (c *Client) Upload(imageType string, imageData, signature []byte) error {
	req := &mountRequest{
		Command:        "ReceiveBytes",
		ImageType:      imageType,
		ImageSize:      len(imageData),
		ImageSignature: signature,
	}
	resp := &mountResponse{}
	if err := c.c.Request(req, resp); err != nil {
		return err
	}
	if resp.Status != "ReceiveBytesAck" {
		return &MountError{Status: resp.Status, Code: resp.Error, DetailedError: resp.DetailedError}
	}

	if err := binary.Write(c.c.Conn(), binary.BigEndian, imageData); err != nil {
		return fmt.Errorf("failed to write image data: %w", err)
	}

	if err := c.c.Recv(resp); err != nil {
		return fmt.Errorf("failed to receive upload response: %w", err)
	}
	if resp.Status != "Complete" {
		return &MountError{Status: resp.Status, Code: resp.Error, DetailedError: resp.DetailedError}
	}

	return nil
}

// MountImage issues the mount request. A device answering that the image is
// already mounted is success, not failure; every other non-OK status is a
// MountError carrying the device's code.
func (c *Client) MountImage(imageType string, signature []byte) error {
	req := &mountRequest{
		Command:        "MountImage",
		ImageType:      imageType,
		ImageSignature: signature,
	}
	resp := &mountResponse{}
	if err := c.c.Request(req, resp); err != nil {
		return err
	}
	if resp.Status == "Complete" {
		return nil
	}
	if alreadyMounted(resp) {
		return nil
	}
	return &MountError{Status: resp.Status, Code: resp.Error, DetailedError: resp.DetailedError}
}

func alreadyMounted(resp *mountResponse) bool {
	return resp.Error == "ImageMountFailed" &&
		strings.Contains(strings.ToLower(resp.DetailedError), "already mounted")
}

// MountDeveloperImage mounts the located support image, idempotently: a
// Developer image already known to the device short-circuits to success.
func (c *Client) MountDeveloperImage(img *DeveloperImage) error {
	sigs, err := c.LookupImage(ImageTypeDeveloper)
	if err == nil && len(sigs) > 0 {
		log.Debug("developer image already mounted")
		return nil
	}

	imageData, err := os.ReadFile(img.Image)
	if err != nil {
		return fmt.Errorf("reading developer disk image: %w", err)
	}
	signature, err := os.ReadFile(img.Signature)
	if err != nil {
		return fmt.Errorf("reading developer disk image signature: %w", err)
	}

	if err := c.Upload(ImageTypeDeveloper, imageData, signature); err != nil {
		return err
	}
	return c.MountImage(ImageTypeDeveloper, signature)
}

type hangupRequest struct {
	Command string `plist:"Command"`
}

type hangupResponse struct {
	Goodbye bool `plist:"Goodbye,omitempty"`
}

func (c *Client) Hangup() error {
	req := &hangupRequest{Command: "Hangup"}
	resp := &hangupResponse{}
	return c.c.Request(req, resp)
}

func (c *Client) Close() error {
	if err := c.Hangup(); err != nil {
		log.WithError(err).Debug("image mounter hangup")
	}
	return c.c.Close()
}
