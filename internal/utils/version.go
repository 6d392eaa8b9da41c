package utils

import (
	"strconv"
	"strings"
)

// CompareVersions compares dotted versions such as "v1.2.3" or "2.0.0-beta".
// Pre-release and build suffixes are ignored and missing parts count as zero.
// It returns -1, 0 or 1 as current is older than, equal to or newer than target.
func CompareVersions(current, target string) int {
	a, b := versionParts(current), versionParts(target)
	for len(a) < len(b) {
		a = append(a, 0)
	}
	for len(b) < len(a) {
		b = append(b, 0)
	}
	for i := range a {
		switch {
		case a[i] > b[i]:
			return 1
		case a[i] < b[i]:
			return -1
		}
	}
	return 0
}

func versionParts(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var parts []int
	for _, p := range strings.Split(v, ".") {
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		n, _ := strconv.Atoi(p[:end])
		parts = append(parts, n)
	}
	return parts
}
