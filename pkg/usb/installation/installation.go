// Package installation drives the installation_proxy service: pushing a
// bundle onto the device, installing it, and resolving where an installed
// bundle lives on the device filesystem.
package installation

import (
	"errors"
	"fmt"
	pathpkg "path"
	"path/filepath"

	"github.com/mobiledevkit/ibridge/pkg/usb"
	"github.com/mobiledevkit/ibridge/pkg/usb/afc"
	"github.com/mobiledevkit/ibridge/pkg/usb/lockdownd"
)

const serviceName = "com.apple.mobile.installation_proxy"

// PackageTypeDeveloper tags transfers and installs of developer-signed
// bundles.
const PackageTypeDeveloper = "Developer"

var (
	// ErrAppNotInstalled means the device reported no app for the bundle id.
	ErrAppNotInstalled = errors.New("app is not installed on the device")

	// ErrMalformedAppInfo means the device's app record could not be decoded.
	ErrMalformedAppInfo = errors.New("malformed app info from device")
)

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

// ClientFrom wraps an existing installation_proxy connection.
func ClientFrom(c *usb.Client) *Client {
	return &Client{c: c}
}

// Lookup queries installed-application records, restricted to the given
// return attributes. The result maps bundle identifier to attribute dict.
func (c *Client) Lookup(returnAttributes ...string) (map[string]any, error) {
	req := &lookupRequest{
		Command: Command{
			Command:       "Lookup",
			ClientOptions: &ClientOptions{ReturnAttributes: returnAttributes},
		},
	}
	resp := &lookupResponse{}
	if err := c.c.Request(req, resp); err != nil {
		return nil, err
	}
	return resp.LookupResult, nil
}

// RemotePath resolves a bundle identifier to the install path on the device.
func (c *Client) RemotePath(bundleID string) (string, error) {
	apps, err := c.Lookup("CFBundleIdentifier", "Path")
	if err != nil {
		return "", err
	}
	entry, ok := apps[bundleID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAppNotInstalled, bundleID)
	}
	attrs, ok := entry.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMalformedAppInfo, bundleID)
	}
	path, ok := attrs["Path"].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s has no string Path", ErrMalformedAppInfo, bundleID)
	}
	return path, nil
}

// ProgressFunc observes install/uninstall progress events.
type ProgressFunc func(*ProgressEvent)

func (c *Client) watchProgress(cb ProgressFunc) error {
	for {
		ev := &ProgressEvent{}
		if err := c.c.Recv(ev); err != nil {
			return err
		}
		if ev.Error != "" {
			return fmt.Errorf("install failed: %s: %s", ev.Error, ev.ErrorDescription)
		}
		// some iOS versions interleave non-status messages; skip them
		if ev.Status == "" {
			continue
		}
		if ev.Status == "Complete" {
			ev.PercentComplete = 100
		}
		if cb != nil {
			cb(ev)
		}
		if ev.Status == "Complete" {
			return nil
		}
	}
}

// Install installs a bundle already present on the device filesystem,
// tagged as a Developer package.
func (c *Client) Install(packagePath string, progressCb ProgressFunc) error {
	req := &installRequest{
		Command: Command{
			Command:       "Install",
			ClientOptions: &ClientOptions{PackageType: PackageTypeDeveloper},
		},
		PackagePath: packagePath,
	}
	if err := c.c.Send(req); err != nil {
		return err
	}
	return c.watchProgress(progressCb)
}

// Uninstall removes an installed bundle by identifier.
func (c *Client) Uninstall(bundleID string, progressCb ProgressFunc) error {
	req := &applicationIdentifierRequest{
		Command:               Command{Command: "Uninstall"},
		ApplicationIdentifier: bundleID,
	}
	if err := c.c.Send(req); err != nil {
		return err
	}
	return c.watchProgress(progressCb)
}

// CopyAndInstall pushes a local bundle over afc and installs it. Either step
// failing aborts the whole operation; there is no partial-install recovery,
// the caller retries from the transfer.
func (c *Client) CopyAndInstall(bundlePath string, progressCb ProgressFunc) error {
	afcClient, err := afc.NewClient(c.c.UDID())
	if err != nil {
		return err
	}
	defer afcClient.Close()

	if err := afcClient.CopyToDevice("/", bundlePath); err != nil {
		return fmt.Errorf("failed to transfer %s to device: %w", bundlePath, err)
	}
	return c.Install(pathpkg.Join("/", filepath.Base(bundlePath)), progressCb)
}

func (c *Client) Close() error {
	return c.c.Close()
}
