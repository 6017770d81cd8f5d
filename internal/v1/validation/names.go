// Package validation checks user, room and list identifiers against the
// admissible character set.
package validation

import (
	"unicode"
	"unicode/utf8"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
)

// reserved characters that can never appear in an identifier.
const reserved = ":{}"

// CheckName validates an identifier: non-empty, valid UTF-8, no control
// characters, no ':' '{' '}' and no DEL.
func CheckName(name string) error {
	if name == "" || !utf8.ValidString(name) {
		return chaterr.New(chaterr.InvalidName, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == 0x7f {
			return chaterr.New(chaterr.InvalidName, name)
		}
		for _, bad := range reserved {
			if r == bad {
				return chaterr.New(chaterr.InvalidName, name)
			}
		}
	}
	return nil
}

// CheckNames validates a batch of identifiers, failing on the first bad one.
func CheckNames(names []string) error {
	for _, n := range names {
		if err := CheckName(n); err != nil {
			return err
		}
	}
	return nil
}
