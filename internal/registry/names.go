package registry

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upperCaser = cases.Upper(language.Und)

// NormalizeName canonicalizes a vocabulary value: surrounding whitespace
// trimmed, interior whitespace runs collapsed to single underscores, and the
// result Unicode-uppercased. Lookups normalize both sides, so callers may
// pass values in any casing.
func NormalizeName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return upperCaser.String(strings.Join(fields, "_"))
}

// MintUID returns a new row identifier. UIDs stay in canonical lowercase form
// and are compared case-insensitively.
func MintUID() string {
	return uuid.NewString()
}
