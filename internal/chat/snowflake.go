package chat

import "strings"

// IDNewer reports whether id a was issued after id b. Discord snowflakes
// are decimal strings that grow with time, so a longer string is newer
// and equal lengths compare lexically. The empty ID is older than any
// other.
func IDNewer(a, b string) bool {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
