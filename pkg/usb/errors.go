package usb

import (
	"errors"
	"fmt"
)

// Failure kinds shared by the device service clients. Callers match these
// with errors.Is / errors.As; none of them is retried internally.
var (
	// ErrPairingLost means usbmuxd has no pairing record for the device.
	ErrPairingLost = errors.New("device is not paired with this host")

	// ErrPairingInvalid means the device rejected the host pairing record.
	ErrPairingInvalid = errors.New("device rejected the host pairing record")
)

// ProtocolError is a non-OK reply from a device service. Code is the error
// string the device returned (e.g. "InvalidHostID", "SessionInactive").
type ProtocolError struct {
	Request string
	Code    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Request, e.Code)
}
