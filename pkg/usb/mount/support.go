package mount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoMatchingSupportImage means the host has no DeviceSupport entry for
// the device's OS version.
var ErrNoMatchingSupportImage = errors.New("no matching developer support image on host")

// DeveloperImage is the host-side support image matched to a device OS
// version. Dir doubles as the lldb sysroot.
type DeveloperImage struct {
	Dir       string
	Image     string
	Signature string
}

// twoTokenVersion reduces a dotted version to its first two components:
// "13.4.1" -> "13.4".
func twoTokenVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ".")
}

// FindDeveloperImage scans <developerDir>/Platforms/iPhoneOS.platform/DeviceSupport
// for the entry matching productVersion. Candidates are the directories whose
// name starts with the two-token version prefix; among those, the longest
// name that is itself a prefix of the full version wins ("13.4.1" beats
// "13.4" for a 13.4.1 device), falling back to the first candidate in
// directory order.
func FindDeveloperImage(developerDir, productVersion string) (*DeveloperImage, error) {
	supportDir := filepath.Join(developerDir, "Platforms", "iPhoneOS.platform", "DeviceSupport")
	entries, err := os.ReadDir(supportDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", supportDir, err)
	}

	prefix := twoTokenVersion(productVersion)
	best := ""
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		switch {
		case best == "":
			best = name
		case strings.HasPrefix(productVersion, name) &&
			(!strings.HasPrefix(productVersion, best) || len(name) > len(best)):
			best = name
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: version %s in %s", ErrNoMatchingSupportImage, productVersion, supportDir)
	}

	dir := filepath.Join(supportDir, best)
	return &DeveloperImage{
		Dir:       dir,
		Image:     filepath.Join(dir, "DeveloperDiskImage.dmg"),
		Signature: filepath.Join(dir, "DeveloperDiskImage.dmg.signature"),
	}, nil
}
