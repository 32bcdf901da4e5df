package auth

import "errors"

var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrNotApproved        = errors.New("auth: account not approved")
	ErrNotFound           = errors.New("auth: not found")
	ErrExpired            = errors.New("auth: expired")
)
