package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// idLen is the length of a ContentID: a v4 UUID in hex without dashes.
const idLen = 32

// ContentID names one shared content record. It doubles as the capability in
// share links, so it carries the full randomness of a v4 UUID. Blob handles
// use the same format.
type ContentID string

// NewID returns a fresh ContentID.
func NewID() (ContentID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return ContentID(hex.EncodeToString(u[:])), nil
}

// ParseID accepts only the form NewID produces. Anything else, including
// upper case or dashed UUIDs, is ErrInvalidID.
func ParseID(s string) (ContentID, error) {
	if !IsHexID(s) {
		return "", ErrInvalidID
	}
	return ContentID(s), nil
}

func (id ContentID) String() string { return string(id) }

func (id ContentID) Valid() bool { return IsHexID(string(id)) }

// IsHexID reports whether s is 32 lower-case hex digits. Blob stores check
// their handles with it before touching paths or keys.
func IsHexID(s string) bool {
	if len(s) != idLen {
		return false
	}
	for _, c := range []byte(s) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
