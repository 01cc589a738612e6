package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// ContainsNonASCII checks if a string contains any non-ASCII characters (bytes > 127).
func ContainsNonASCII(s string) bool {
	for _, v := range s {
		if v >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// ContainsLineBreak reports whether s contains a CR or LF. Values that end up
// on a command line must not, or they could smuggle extra commands.
func ContainsLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// NewConnID returns a new lexically sortable connection identifier.
func NewConnID() string {
	return ulid.Make().String()
}
