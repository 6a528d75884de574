// Package lldb assembles the scripted debugger launch: a command script that
// attaches to the local debug proxy, points the target at its on-device
// path and runs it, driven through an external lldb process.
package lldb

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/apex/log"
)

//go:embed helpers.py
var helpersPy []byte

// LaunchError reports a debugger process that exited non-zero.
type LaunchError struct {
	ExitCode int
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("lldb exited with status %d", e.ExitCode)
}

// Launch describes one scripted debug run.
type Launch struct {
	// LLDB is the debugger binary; empty means "lldb" from PATH.
	LLDB string
	// LocalBinary is the host-side copy of the target executable.
	LocalBinary string
	// Proxy is the local debug-proxy endpoint, "host:port".
	Proxy string
	// RemotePath is where the app bundle lives on the device.
	RemotePath string
	// Sysroot is the matched DeviceSupport directory.
	Sysroot string
	// Args is the argument string passed to the target process.
	Args string
}

// Script renders the lldb command sequence. helpersPath is where the helper
// python module was written.
func (l *Launch) Script(helpersPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform select remote-ios --sysroot '%s'\n", l.Sysroot)
	fmt.Fprintf(&b, "target create %s\n", l.LocalBinary)
	fmt.Fprintln(&b, "script pass")
	fmt.Fprintf(&b, "command script import %q\n", helpersPath)
	fmt.Fprintln(&b, "command script add -f helpers.set_remote_path set_remote_path")
	fmt.Fprintln(&b, "command script add -f helpers.connect_command connect")
	fmt.Fprintln(&b, "command script add -s synchronous -f helpers.run_command run")
	fmt.Fprintf(&b, "connect connect://%s\n", l.Proxy)
	fmt.Fprintf(&b, "set_remote_path %s\n", l.RemotePath)
	fmt.Fprintf(&b, "run %s\n", l.Args)
	fmt.Fprintln(&b, "quit")
	return b.String()
}

// WriteScript materializes the helper module and the command script in a
// fresh directory and returns the script path.
func (l *Launch) WriteScript(dir string) (string, error) {
	helpersPath := filepath.Join(dir, "helpers.py")
	if err := os.WriteFile(helpersPath, helpersPy, 0o644); err != nil {
		return "", err
	}

	scriptPath := filepath.Join(dir, "lldb-script")
	if err := os.WriteFile(scriptPath, []byte(l.Script(helpersPath)), 0o644); err != nil {
		return "", err
	}
	return scriptPath, nil
}

// Run writes the scripts to a temporary directory and drives lldb over
// them, waiting for it to exit. A non-zero debugger exit surfaces as a
// LaunchError rather than silent success.
func (l *Launch) Run() error {
	dir, err := os.MkdirTemp("", "ibridge-lldb")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	scriptPath, err := l.WriteScript(dir)
	if err != nil {
		return err
	}

	lldbBin := l.LLDB
	if lldbBin == "" {
		lldbBin = "lldb"
	}

	log.WithField("script", scriptPath).Debug("starting lldb")
	cmd := exec.Command(lldbBin, "-Q", "-s", scriptPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &LaunchError{ExitCode: exitErr.ExitCode()}
		}
		return err
	}
	return nil
}
