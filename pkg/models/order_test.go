package models

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"1.10.0", "1.9.3", 1},
		{"8.5", "8.5", 0},
		{"21.0.1", "21.0.1-rc1", 1},
		{"2.4.13-local", "2.4.12", 1},
		{"17.0.9-tem", "21.0.1-tem", -1},
		{"snapshot", "1.0", -1},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Fatalf("CompareVersions(%q,%q)=%d want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCompareVersionsSorts(t *testing.T) {
	t.Parallel()

	versions := []string{"1.9.0", "1.10.2", "1.10.0", "0.9"}
	sort.Slice(versions, func(i, j int) bool { return CompareVersions(versions[i], versions[j]) > 0 })

	want := []string{"1.10.2", "1.10.0", "1.9.0", "0.9"}
	if diff := cmp.Diff(want, versions); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}
