// Package passwd hashes and verifies content access passwords with bcrypt.
// Comparison is constant time; the work factor is tunable.
package passwd

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/haukened/vanish/internal/domain"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

// MaxLength is the longest password bcrypt accepts, in bytes.
const MaxLength = 72

// Bcrypt implements app.PasswordHasher.
type Bcrypt struct {
	Cost int
}

// New returns a Bcrypt hasher. Costs outside bcrypt's range fall back to DefaultCost.
func New(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Bcrypt{Cost: cost}
}

// Hash derives a salted hash of password.
func (b *Bcrypt) Hash(password string) ([]byte, error) {
	if len(password) > MaxLength {
		return nil, fmt.Errorf("%w: password longer than %d bytes", domain.ErrInvalidInput, MaxLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return h, nil
}

// Verify reports whether password matches hash. A mismatch is not an error;
// a malformed hash is.
func (b *Bcrypt) Verify(hash []byte, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verify password: %w", err)
	}
}
