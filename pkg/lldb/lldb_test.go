package lldb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLaunch() *Launch {
	return &Launch{
		LocalBinary: "/tmp/build/demo",
		Proxy:       "localhost:54321",
		RemotePath:  "/var/containers/Bundle/Application/1234/demo.app",
		Sysroot:     "/Developer/Platforms/iPhoneOS.platform/DeviceSupport/13.4.1",
		Args:        "--flag value",
	}
}

func TestScriptCommandOrder(t *testing.T) {
	script := testLaunch().Script("/tmp/session/helpers.py")

	want := []string{
		"platform select remote-ios --sysroot '/Developer/Platforms/iPhoneOS.platform/DeviceSupport/13.4.1'",
		"target create /tmp/build/demo",
		"script pass",
		`command script import "/tmp/session/helpers.py"`,
		"command script add -f helpers.set_remote_path set_remote_path",
		"command script add -f helpers.connect_command connect",
		"command script add -s synchronous -f helpers.run_command run",
		"connect connect://localhost:54321",
		"set_remote_path /var/containers/Bundle/Application/1234/demo.app",
		"run --flag value",
		"quit",
	}
	got := strings.Split(strings.TrimRight(script, "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("script has %d lines, want %d:\n%s", len(got), len(want), script)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i+1, got[i], want[i])
		}
	}
}

func TestWriteScript(t *testing.T) {
	dir := t.TempDir()

	scriptPath, err := testLaunch().WriteScript(dir)
	if err != nil {
		t.Fatal(err)
	}

	helpers, err := os.ReadFile(filepath.Join(dir, "helpers.py"))
	if err != nil {
		t.Fatal(err)
	}
	for _, fn := range []string{"def set_remote_path", "def connect_command", "def run_command"} {
		if !strings.Contains(string(helpers), fn) {
			t.Errorf("helpers.py is missing %q", fn)
		}
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(script), filepath.Join(dir, "helpers.py")) {
		t.Error("command script does not import the helper module it was written with")
	}
}

func TestRunSurfacesDebuggerExitCode(t *testing.T) {
	l := testLaunch()
	l.LLDB = "false" // exits 1 regardless of arguments

	err := l.Run()
	lerr, ok := err.(*LaunchError)
	if !ok {
		t.Fatalf("Run() error = %v, want LaunchError", err)
	}
	if lerr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", lerr.ExitCode)
	}
}
