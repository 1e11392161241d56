package auth

import "errors"

var (
	// ErrMissingToken is returned when a connection presents no credential.
	ErrMissingToken = errors.New("authentication required")

	// ErrInvalidToken is returned when the credential fails signature or
	// structural verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when the credential is past its validity window.
	ErrExpiredToken = errors.New("token expired")

	// ErrConfig is returned for invalid authenticator configuration.
	ErrConfig = errors.New("invalid auth config")
)
