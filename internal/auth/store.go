package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the account core.
//
// Methods taking an *AuditEntry append it in the same transaction as the mutation.
// A failing audit append is logged by the store and never fails the mutation.
type Store interface {
	Ping(ctx context.Context) error
	Accounts(ctx context.Context) AccountStore
	Invitations(ctx context.Context) InvitationStore
	Approvals(ctx context.Context) ApprovalStore
	Audit(ctx context.Context) AuditStore
	Sessions(ctx context.Context) SessionStore
	Preferences(ctx context.Context) PreferenceStore
}

// AccountStore manages accounts.
type AccountStore interface {
	// Create inserts acct as-is and sets its ID. Used for the bootstrap admin.
	// Unset actor fields on entry are filled from the new account.
	Create(ctx context.Context, acct *Account, entry *AuditEntry) error
	// Register inserts an unapproved account plus one pending approval request.
	// Usernames or emails held by accounts or by unexpired pending invitations are ErrConflict.
	// Unset actor fields on entry are filled from the new account.
	Register(ctx context.Context, acct *Account, entry *AuditEntry) (*ApprovalRequest, error)
	Find(ctx context.Context, id int64) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	MarkLogin(ctx context.Context, id int64, at time.Time) error
	SetRole(ctx context.Context, id int64, role Role, entry *AuditEntry) error
	// Delete removes the account and cascades to its audit entries, approval requests,
	// preferences and sessions.
	Delete(ctx context.Context, id int64, entry *AuditEntry) error
}

// InvitationStore manages invitations.
type InvitationStore interface {
	// Create inserts inv. Usernames or emails already held by an account are ErrConflict.
	Create(ctx context.Context, inv *Invitation, entry *AuditEntry) error
	// Accept locks the pending invitation matching tokenHash, creates the approved account
	// it describes and marks the invitation accepted, atomically. No pending match is
	// ErrNotFound; a match past its expiry at now is ErrExpired and is left untouched.
	// Unset actor fields on entry are filled from the new account.
	Accept(ctx context.Context, tokenHash, passwordHash string, now time.Time, entry *AuditEntry) (*Account, error)
	Revoke(ctx context.Context, id int64, entry *AuditEntry) error
	// List returns all invitations newest first with the issuer's username.
	List(ctx context.Context) ([]*Invitation, error)
}

// ApprovalStore manages self-registration reviews.
type ApprovalStore interface {
	// Pending returns pending requests newest first.
	Pending(ctx context.Context) ([]*ApprovalRequest, error)
	// Decide records the outcome and, on approval, flips the account's approval flag,
	// atomically. Missing requests are ErrNotFound; decided ones are ErrConflict.
	Decide(ctx context.Context, id int64, status ApprovalStatus, reviewerID int64, at time.Time, entry *AuditEntry) (*ApprovalRequest, error)
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	// List returns at most limit entries, newest first.
	List(ctx context.Context, limit int) ([]*AuditEntry, error)
}

// SessionStore manages login sessions.
type SessionStore interface {
	Create(ctx context.Context, sess *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Revoke(ctx context.Context, id string, at time.Time, entry *AuditEntry) error
}

// PreferenceStore keeps per-account UI preferences.
type PreferenceStore interface {
	// Get returns the stored object, or "{}" when none was saved.
	Get(ctx context.Context, accountID int64) (Preferences, error)
	Put(ctx context.Context, accountID int64, prefs Preferences) error
}
