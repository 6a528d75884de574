// Package utils carries small CLI helpers.
package utils

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	"github.com/mobiledevkit/ibridge/pkg/usb"
)

// PickDevice returns the connected device to operate on: the only one when
// exactly one is attached, otherwise an interactive choice.
func PickDevice() (*usb.DeviceAttachment, error) {
	conn, err := usb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to usbmuxd: %w", err)
	}
	defer conn.Close()

	devices, err := conn.ListDevices()
	if err != nil {
		return nil, err
	}

	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("no devices connected")
	case 1:
		return devices[0], nil
	}

	choices := make([]string, len(devices))
	for i, dev := range devices {
		choices[i] = fmt.Sprintf("%s (%s)", dev.UDID, dev.ConnectionType)
	}
	var selected int
	prompt := &survey.Select{
		Message: "Select device:",
		Options: choices,
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return nil, err
	}
	return devices[selected], nil
}

// DeviceUDID resolves the --udid flag, picking interactively when empty.
func DeviceUDID(udid string) (string, error) {
	if udid != "" {
		return udid, nil
	}
	dev, err := PickDevice()
	if err != nil {
		return "", err
	}
	return dev.UDID, nil
}
