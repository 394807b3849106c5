package authkit

import "errors"

var (
	// ErrRefreshTokenNotFound indicates no active refresh token matched the provided value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenAlreadyRevoked signals that a compare-and-set revoke lost to an earlier revoke.
	ErrRefreshTokenAlreadyRevoked = errors.New("refresh_store.already_revoked")
	// ErrRefreshTokenEmpty indicates that the provided token text is empty.
	ErrRefreshTokenEmpty = errors.New("refresh_store.empty_token")
	// ErrRefreshTokenDuplicate indicates a token value that is already recorded.
	ErrRefreshTokenDuplicate = errors.New("refresh_store.duplicate")
)

var (
	// ErrUserNotFound indicates no user matched the lookup key.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrUserEmailTaken indicates the unique email constraint rejected a create.
	ErrUserEmailTaken = errors.New("user_store.email_taken")
)
