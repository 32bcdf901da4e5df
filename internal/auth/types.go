package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AdminUsername names the bootstrap account that can never be deleted.
const AdminUsername = "admin"

// Role is the closed set of account roles, ordered admin > write > readonly.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleWrite    Role = "write"
	RoleReadonly Role = "readonly"
)

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleWrite:
		return 2
	case RoleReadonly:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r.rank() > 0 }

// Satisfies reports whether r grants everything required grants.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && required.Valid() && r.rank() >= required.rank()
}

// ParseRole normalizes s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Account is a console user. PasswordHash never leaves the process.
type Account struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Approved     bool       `json:"approved"`
	InvitedBy    *int64     `json:"invitedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

// IsBootstrapAdmin reports whether a is the undeletable "admin" account.
func (a *Account) IsBootstrapAdmin() bool {
	return a != nil && a.Username == AdminUsername
}

// InvitationStatus is the stored lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation reserves a username and email for an invitee. Only the token hash is stored.
type Invitation struct {
	ID                int64            `json:"id"`
	Username          string           `json:"username"`
	Email             string           `json:"email"`
	Role              Role             `json:"role"`
	TokenHash         string           `json:"-"`
	InvitedBy         *int64           `json:"invitedBy,omitempty"`
	InvitedByUsername string           `json:"invitedByUsername,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	ExpiresAt         time.Time        `json:"expiresAt"`
	Status            InvitationStatus `json:"status"`
	AcceptedAccountID *int64           `json:"acceptedAccountId,omitempty"`
}

// Expired reports whether the invitation is past its expiry at now.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// EffectiveStatus reports the status as observed at now: a pending invitation past expiry reads as expired.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && i.Expired(now) {
		return InvitationExpired
	}
	return i.Status
}

// ApprovalStatus is the state of a self-registration review.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest tracks one self-registered account awaiting an admin decision.
type ApprovalRequest struct {
	ID            int64          `json:"id"`
	AccountID     int64          `json:"accountId"`
	Username      string         `json:"username"`
	Email         string         `json:"email"`
	RequestedRole Role           `json:"requestedRole"`
	Status        ApprovalStatus `json:"status"`
	ReviewerID    *int64         `json:"reviewerId,omitempty"`
	ReviewedAt    *time.Time     `json:"reviewedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// AuditEntry is an append-only record. ActorUsername is copied at write time.
type AuditEntry struct {
	ID            int64     `json:"id"`
	ActorID       *int64    `json:"actorId,omitempty"`
	ActorUsername string    `json:"username"`
	Action        string    `json:"action"`
	Resource      string    `json:"resource"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Session is a server-side login record referenced by the session token.
type Session struct {
	ID        string
	AccountID int64
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
}

// Active reports whether the session can still authenticate requests at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Preferences is an opaque per-account JSON object.
type Preferences = json.RawMessage

// Audit action tags.
const (
	ActionRegister         = "register"
	ActionLogin            = "login"
	ActionLoginUnapproved  = "login_unapproved"
	ActionLogout           = "logout"
	ActionInviteUser       = "invite_user"
	ActionAcceptInvitation = "accept_invitation"
	ActionRevokeInvitation = "revoke_invitation"
	ActionApproveUser      = "approve_user"
	ActionRejectUser       = "reject_user"
	ActionDeleteUser       = "delete_user"
	ActionChangeRole       = "change_role"
	ActionBootstrapAdmin   = "bootstrap_admin"
)

func ptr[T any](v T) *T { return &v }
