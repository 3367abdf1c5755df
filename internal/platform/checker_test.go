package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/liangyou/devkit/pkg/models"
)

func TestCheckerTag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		goos, goarch, want string
	}{
		{"linux", "amd64", "linuxx64"},
		{"linux", "arm64", "linuxarm64"},
		{"darwin", "arm64", "darwinarm64"},
		{"windows", "amd64", "windowsx64"},
		{"linux", "arm", "linuxarm32hf"},
		{"plan9", "amd64", Exotic},
		{"linux", "sparc", Exotic},
	}
	for _, tc := range cases {
		checker := NewChecker(models.Config{})
		checker.goos = func() string { return tc.goos }
		checker.goarch = func() string { return tc.goarch }
		if got := checker.Tag(); got != tc.want {
			t.Fatalf("Tag(%s/%s)=%s want %s", tc.goos, tc.goarch, got, tc.want)
		}
	}
}

func TestCheckerValidateSupportedPlatform(t *testing.T) {
	t.Parallel()

	temp := t.TempDir()
	cfg := models.Config{RootDir: filepath.Join(temp, "devkit")}

	checker := NewChecker(cfg)
	checker.goos = func() string { return "darwin" }
	checker.goarch = func() string { return "arm64" }

	if err := checker.Validate(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(temp, "devkit", "candidates")); err != nil {
		t.Fatalf("expected candidates dir: %v", err)
	}
}

func TestCheckerUnsupportedArch(t *testing.T) {
	t.Parallel()

	checker := NewChecker(models.Config{})
	checker.goos = func() string { return "linux" }
	checker.goarch = func() string { return "sparc" }

	if err := checker.Validate(); err == nil {
		t.Fatal("expected error for unsupported arch")
	}
}

func TestCheckerPermissionError(t *testing.T) {
	t.Parallel()

	temp := t.TempDir()
	filePath := filepath.Join(temp, "file")
	if err := os.WriteFile(filePath, []byte("content"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	checker := NewChecker(models.Config{RootDir: filePath})
	checker.goos = func() string { return "linux" }
	checker.goarch = func() string { return "amd64" }

	if err := checker.Validate(); err == nil {
		t.Fatal("expected error due to invalid directory")
	}
}
