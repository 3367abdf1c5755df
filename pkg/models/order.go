package models

import (
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// CompareVersions 比较两个版本号，返回 1 表示 a>b。
// 能解析为 semver 时按 semver 比较，否则按数字分段比较，最后按字典序。
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		if c := va.Compare(vb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	}

	if c := compareSegments(a, b); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareSegments(a, b string) int {
	ap := strings.FieldsFunc(a, isSeparator)
	bp := strings.FieldsFunc(b, isSeparator)
	n := len(ap)
	if len(bp) > n {
		n = len(bp)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(ap) {
			ai = leadingInt(ap[i])
		}
		if i < len(bp) {
			bi = leadingInt(bp[i])
		}
		switch {
		case ai > bi:
			return 1
		case ai < bi:
			return -1
		}
	}
	return 0
}

func isSeparator(r rune) bool {
	return r == '.' || r == '-' || r == '_' || r == '+'
}

func leadingInt(value string) int {
	var n int
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			break
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
