package util

import "strings"

// Sanitize strips every '/' from an externally supplied identifier so it can
// be used as a single path segment in the document store.
func Sanitize(ref string) string {
	return strings.ReplaceAll(ref, "/", "")
}
