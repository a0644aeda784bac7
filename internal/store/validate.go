package store

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxSessionIDLength bounds session ids so they fit object keys, file names and
// the VARCHAR-sized primary keys of the relational backends.
const MaxSessionIDLength = 64

// ErrInvalidSessionID is returned for ids that cannot be used as a storage key.
var ErrInvalidSessionID = errors.New("invalid session id")

var validSessionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateSessionID checks that a session id is safe to embed in paths and keys.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("%w: %d chars (max %d)", ErrInvalidSessionID, len(id), MaxSessionIDLength)
	}
	if !validSessionIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}
