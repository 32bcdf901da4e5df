package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier used for session keys.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s parses as an identifier produced by New.
func Valid(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
