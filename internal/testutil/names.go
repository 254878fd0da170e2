package testutil

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
)

var nameCounter atomic.Int64

// maxNameSegment bounds the part of a unique name derived from the test name.
const maxNameSegment = 48

// UniqueName returns "<prefix>-<test name>-<n>", unique within the process.
// Slashes in subtest names are replaced and long names are truncated with a
// hash suffix, so the result is usable as a file name or storage key.
func UniqueName(prefix, testName string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, testName)
	if len(safe) > maxNameSegment {
		h := fnv.New32a()
		_, _ = h.Write([]byte(testName))
		safe = fmt.Sprintf("%s_%08x", safe[:maxNameSegment-9], h.Sum32())
	}
	return fmt.Sprintf("%s-%s-%d", prefix, safe, nameCounter.Add(1))
}
