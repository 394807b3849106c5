package authkit

import "errors"

// Errors returned by AuthService and its components. Store and crypto errors never cross
// this boundary; callers only see these kinds, wrapped with an operation code.
var (
	// ErrDuplicateEmail indicates a registration for an email that already has an account.
	ErrDuplicateEmail = errors.New("auth.duplicate_email")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("auth.invalid_credentials")
	// ErrInvalidToken indicates a refresh token that failed verification, lookup, or user resolution.
	ErrInvalidToken = errors.New("auth.invalid_token")
	// ErrExpiredToken indicates a well-signed refresh token whose stored record has expired.
	ErrExpiredToken = errors.New("auth.expired_token")
	// ErrConfiguration indicates a missing or invalid startup setting.
	ErrConfiguration = errors.New("auth.configuration")
	// ErrStoreFailure wraps any persistence failure.
	ErrStoreFailure = errors.New("auth.store_failure")
	// ErrInvalidRole indicates a role outside of RoleCustomer and RoleAdmin.
	ErrInvalidRole = errors.New("auth.invalid_role")
	// ErrInvalidIdentity indicates a token request for an identity without a user id.
	ErrInvalidIdentity = errors.New("auth.invalid_identity")
)

// IsUnauthorized reports whether err belongs to the token failure classes that transports
// surface as one generic unauthorized response.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken)
}
