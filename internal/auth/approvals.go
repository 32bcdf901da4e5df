package auth

import (
	"context"
	"fmt"
	"strings"
)

// PendingApprovals lists undecided self-registrations, newest first (admin only).
func (s *Service) PendingApprovals(ctx context.Context, p Principal) ([]*ApprovalRequest, error) {
	if err := p.Require(PermApprovalsDecide); err != nil {
		return nil, err
	}
	return s.store.Approvals(ctx).Pending(ctx)
}

// Decide approves or rejects a pending request (admin only). Rejection is terminal: the
// account stays unapproved until an admin deletes it.
func (s *Service) Decide(ctx context.Context, p Principal, id int64, outcome string) (*ApprovalRequest, error) {
	if err := p.Require(PermApprovalsDecide); err != nil {
		return nil, err
	}
	status := ApprovalStatus(strings.ToLower(strings.TrimSpace(outcome)))
	action := ActionApproveUser
	switch status {
	case ApprovalApproved:
	case ApprovalRejected:
		action = ActionRejectUser
	default:
		return nil, fmt.Errorf("%w: status must be approved or rejected", ErrInvalidInput)
	}
	entry := &AuditEntry{
		ActorID:       ptr(p.ID()),
		ActorUsername: p.Username(),
		Action:        action,
		Resource:      idResource("approval_request", id),
	}
	req, err := s.store.Approvals(ctx).Decide(ctx, id, status, p.ID(), s.now().UTC(), entry)
	s.event("approval", err)
	if err != nil {
		return nil, err
	}
	return req, nil
}
