package auth

import "fmt"

// Principal is the account behind an authenticated request, re-read from the store per request.
type Principal struct {
	Account   *Account
	SessionID string
}

// NewPrincipal wraps an account and the session it authenticated with.
func NewPrincipal(account *Account, sessionID string) Principal {
	return Principal{Account: account, SessionID: sessionID}
}

// ID returns the account id, or zero for an empty principal.
func (p Principal) ID() int64 {
	if p.Account == nil {
		return 0
	}
	return p.Account.ID
}

// Username returns the account username, or "" for an empty principal.
func (p Principal) Username() string {
	if p.Account == nil {
		return ""
	}
	return p.Account.Username
}

// HasPermission reports whether the principal can execute the action identified by key.
// Unapproved accounts hold no permissions.
func (p Principal) HasPermission(key string) bool {
	if p.Account == nil || !p.Account.Approved {
		return false
	}
	return p.Account.Role.Satisfies(RequiredRole(key))
}

// Require returns nil when the principal holds perm, ErrNotApproved for pending accounts
// and ErrForbidden otherwise.
func (p Principal) Require(perm string) error {
	if p.Account == nil {
		return ErrUnauthenticated
	}
	if !p.Account.Approved {
		return ErrNotApproved
	}
	if !p.HasPermission(perm) {
		return fmt.Errorf("%w: %s requires role %s", ErrForbidden, perm, RequiredRole(perm))
	}
	return nil
}
