package config

import "strings"

// MaskSecret hides a key for logging. Keys of five bytes or fewer are fully
// masked, keys up to 20 bytes keep their first and last byte, and longer keys
// keep three leading bytes and the last one.
func MaskSecret(s string) string {
	n := len(s)
	switch {
	case n == 0:
		return ""
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	default:
		return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
	}
}
