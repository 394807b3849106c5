package authkit

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const absentUserPassword = "shopauth-absent-user-password"

// PasswordHasher hashes and verifies passwords with bcrypt at a fixed cost.
type PasswordHasher struct {
	cost       int
	absentHash []byte
}

// NewPasswordHasher constructs a bcrypt hasher; the cost must be within bcrypt's accepted range.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("password.new: cost %d out of range: %w", cost, ErrConfiguration)
	}
	absentHash, err := bcrypt.GenerateFromPassword([]byte(absentUserPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("password.new: %w", err)
	}
	return &PasswordHasher{cost: cost, absentHash: absentHash}, nil
}

// Hash returns a salted bcrypt hash of plaintext.
func (hasher *PasswordHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), hasher.cost)
	if err != nil {
		return "", fmt.Errorf("password.hash: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches storedHash. Any bcrypt error counts as a mismatch.
func (hasher *PasswordHasher) Verify(plaintext string, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}

// VerifyAbsent burns one comparison against a dummy hash so an unknown account costs
// the same time as a wrong password. It always reports false.
func (hasher *PasswordHasher) VerifyAbsent(plaintext string) bool {
	_ = bcrypt.CompareHashAndPassword(hasher.absentHash, []byte(plaintext))
	return false
}
