package mount

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func supportTree(t *testing.T, versions ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, v := range versions {
		dir := filepath.Join(root, "Platforms", "iPhoneOS.platform", "DeviceSupport", v)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestFindDeveloperImagePrefersMostSpecific(t *testing.T) {
	// both 13.4 and 13.4.1 share the two-token prefix; the longest entry
	// that is a prefix of the device version wins
	root := supportTree(t, "13.3", "13.4", "13.4.1")

	img, err := FindDeveloperImage(root, "13.4.1")
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Base(img.Dir); got != "13.4.1" {
		t.Errorf("matched %q, want %q", got, "13.4.1")
	}
}

func TestFindDeveloperImageTwoTokenPrefix(t *testing.T) {
	root := supportTree(t, "12.4", "13.4")

	img, err := FindDeveloperImage(root, "13.4.1")
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Base(img.Dir); got != "13.4" {
		t.Errorf("matched %q, want %q", got, "13.4")
	}

	if filepath.Base(img.Image) != "DeveloperDiskImage.dmg" {
		t.Errorf("image path = %q", img.Image)
	}
	if filepath.Base(img.Signature) != "DeveloperDiskImage.dmg.signature" {
		t.Errorf("signature path = %q", img.Signature)
	}
}

func TestFindDeveloperImageFallsBackToFirstCandidate(t *testing.T) {
	// Xcode names some entries "13.4 (17E255)"; none is a strict version
	// prefix, so the first candidate in directory order is taken
	root := supportTree(t, "13.4 (17E255)", "13.4 (17E8258)")

	img, err := FindDeveloperImage(root, "13.4.1")
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Base(img.Dir); got != "13.4 (17E255)" {
		t.Errorf("matched %q, want %q", got, "13.4 (17E255)")
	}
}

func TestFindDeveloperImageNoMatch(t *testing.T) {
	root := supportTree(t, "12.4", "13.3")

	_, err := FindDeveloperImage(root, "14.2")
	if !errors.Is(err, ErrNoMatchingSupportImage) {
		t.Errorf("error = %v, want ErrNoMatchingSupportImage", err)
	}
}

func TestTwoTokenVersion(t *testing.T) {
	for version, want := range map[string]string{
		"13.4.1": "13.4",
		"13.4":   "13.4",
		"13":     "13",
	} {
		if got := twoTokenVersion(version); got != want {
			t.Errorf("twoTokenVersion(%q) = %q, want %q", version, got, want)
		}
	}
}
