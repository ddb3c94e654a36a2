package pondb

import (
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// stringCollator provides locale-aware ordering for STRING cells so that
// index ordering matches the engine's collation rules instead of raw
// byte comparison. A single collator is shared across all comparisons;
// golang.org/x/text/collate.Collator is safe for concurrent Compare
// calls once constructed.
var stringCollator = collate.New(language.Und)

// largeStringThreshold is the byte length above which string comparison
// falls back to the streaming path instead of buffering both operands
// into strings.Compare-style collation (spec boundary: 32 KiB).
const largeStringThreshold = 32 * 1024

func compareStrings(a, b string) int {
	if len(a) > largeStringThreshold || len(b) > largeStringThreshold {
		return compareStringsStreaming(a, b)
	}
	return stringCollator.CompareString(a, b)
}

// compareStringsStreaming compares large strings byte-wise in bounded
// chunks rather than materializing a collation key for the whole value.
func compareStringsStreaming(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	const chunk = 4096
	for off := 0; off < n; off += chunk {
		end := off + chunk
		if end > n {
			end = n
		}
		for i := off; i < end; i++ {
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
