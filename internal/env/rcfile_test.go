package env

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/liangyou/devkit/pkg/models"
)

func TestParseRC(t *testing.T) {
	t.Parallel()

	data := []byte(`# project toolchain
java=21.0.1
gradle = 8.5   # build
java=17.0.9

`)
	pins, err := ParseRC(data)
	if err != nil {
		t.Fatalf("ParseRC error: %v", err)
	}
	want := []models.Pin{
		{Candidate: "java", Version: "17.0.9"},
		{Candidate: "gradle", Version: "8.5"},
	}
	if diff := cmp.Diff(want, pins); diff != "" {
		t.Fatalf("pins mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseRC([]byte("java\n")); err == nil {
		t.Fatal("expected error for line without version")
	}
}

func TestWriteAndLoadRC(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := LoadRC(dir); !errors.Is(err, ErrNoRCFile) {
		t.Fatalf("expected ErrNoRCFile, got %v", err)
	}

	pins := []models.Pin{{Candidate: "maven", Version: "3.9.6"}}
	if _, err := WriteRC(dir, pins); err != nil {
		t.Fatalf("WriteRC error: %v", err)
	}
	got, err := LoadRC(dir)
	if err != nil {
		t.Fatalf("LoadRC error: %v", err)
	}
	if diff := cmp.Diff(pins, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
