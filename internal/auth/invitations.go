package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const invitationTokenBytes = 32

// IssuedInvitation is returned once at issue time; Token is never stored.
type IssuedInvitation struct {
	Token      string      `json:"token"`
	ExpiresAt  time.Time   `json:"expiresAt"`
	Invitation *Invitation `json:"invitation"`
}

// HashInvitationToken returns the stored form of an invitation token.
func HashInvitationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newInvitationToken() (string, error) {
	buf := make([]byte, invitationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate invitation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Invite reserves a username and email for a new account with a preassigned role.
func (s *Service) Invite(ctx context.Context, p Principal, in InviteInput) (IssuedInvitation, error) {
	if err := p.Require(PermInvitationsManage); err != nil {
		return IssuedInvitation{}, err
	}
	in.normalize()
	if err := validateInput(&in); err != nil {
		return IssuedInvitation{}, err
	}
	token, err := newInvitationToken()
	if err != nil {
		return IssuedInvitation{}, err
	}
	now := s.now().UTC()
	inv := &Invitation{
		Username:          in.Username,
		Email:             in.Email,
		Role:              in.Role,
		TokenHash:         HashInvitationToken(token),
		InvitedBy:         ptr(p.ID()),
		InvitedByUsername: p.Username(),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.invitationTTL),
		Status:            InvitationPending,
	}
	entry := &AuditEntry{
		ActorID:       ptr(p.ID()),
		ActorUsername: p.Username(),
		Action:        ActionInviteUser,
		Resource:      "account:" + in.Username,
		Details:       fmt.Sprintf("%s as %s", in.Email, in.Role),
	}
	err = s.store.Invitations(ctx).Create(ctx, inv, entry)
	s.event("invite", err)
	if err != nil {
		return IssuedInvitation{}, err
	}
	return IssuedInvitation{Token: token, ExpiresAt: inv.ExpiresAt, Invitation: inv}, nil
}

// AcceptInvitation redeems token once, creating an approved account with the invited role.
func (s *Service) AcceptInvitation(ctx context.Context, token, password string) (*Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	entry := &AuditEntry{Action: ActionAcceptInvitation, Resource: "invitation"}
	acct, err := s.store.Invitations(ctx).Accept(ctx, HashInvitationToken(token), hash, s.now().UTC(), entry)
	s.event("accept_invitation", err)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// RevokeInvitation deletes an invitation (admin only).
func (s *Service) RevokeInvitation(ctx context.Context, p Principal, id int64) error {
	if err := p.Require(PermInvitationsManage); err != nil {
		return err
	}
	entry := &AuditEntry{
		ActorID:       ptr(p.ID()),
		ActorUsername: p.Username(),
		Action:        ActionRevokeInvitation,
		Resource:      idResource("invitation", id),
	}
	return s.store.Invitations(ctx).Revoke(ctx, id, entry)
}

// ListInvitations returns every invitation with its effective status (admin only).
func (s *Service) ListInvitations(ctx context.Context, p Principal) ([]*Invitation, error) {
	if err := p.Require(PermInvitationsManage); err != nil {
		return nil, err
	}
	list, err := s.store.Invitations(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, inv := range list {
		inv.Status = inv.EffectiveStatus(now)
	}
	return list, nil
}
