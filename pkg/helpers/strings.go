package helpers

import "unicode/utf8"

// Truncate caps s at max bytes, backing up to the nearest rune start so
// the cut never leaves an invalid UTF-8 tail.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
