package authkit

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/google/uuid"
)

func newRecordID() string {
	return uuid.NewString()
}

// HashRefreshToken is the at-rest lookup key for a refresh token; stores never persist the token itself.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
