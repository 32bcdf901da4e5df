package pg

import (
	"context"
	"database/sql"
	"time"

	"opsconsole.dev/internal/auth"
)

type approvalStore struct{ s *Store }

func (a approvalStore) Pending(ctx context.Context) ([]*auth.ApprovalRequest, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		select r.id, r.account_id, a.username, a.email, r.requested_role, r.status,
		       r.reviewer_id, r.reviewed_at, r.created_at
		from approval_requests r
		join accounts a on a.id = r.account_id
		where r.status = 'pending'
		order by r.created_at desc, r.id desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.ApprovalRequest
	for rows.Next() {
		var (
			req        auth.ApprovalRequest
			role       string
			status     string
			reviewerID sql.NullInt64
			reviewedAt sql.NullTime
		)
		if err := rows.Scan(&req.ID, &req.AccountID, &req.Username, &req.Email, &role, &status,
			&reviewerID, &reviewedAt, &req.CreatedAt); err != nil {
			return nil, err
		}
		req.RequestedRole = auth.Role(role)
		req.Status = auth.ApprovalStatus(status)
		req.ReviewerID = int64Ptr(reviewerID)
		req.ReviewedAt = timePtr(reviewedAt)
		req.CreatedAt = req.CreatedAt.UTC()
		result = append(result, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (a approvalStore) Decide(ctx context.Context, id int64, status auth.ApprovalStatus, reviewerID int64, at time.Time, entry *auth.AuditEntry) (*auth.ApprovalRequest, error) {
	req := &auth.ApprovalRequest{ID: id}
	err := a.s.inTx(ctx, func(tx *sql.Tx) error {
		var role, current string
		err := tx.QueryRowContext(ctx, `
			select r.account_id, a.username, a.email, r.requested_role, r.status, r.created_at
			from approval_requests r
			join accounts a on a.id = r.account_id
			where r.id = $1
			for update of r
		`, id).Scan(&req.AccountID, &req.Username, &req.Email, &role, &current, &req.CreatedAt)
		if err != nil {
			return mapError(err)
		}
		if auth.ApprovalStatus(current) != auth.ApprovalPending {
			return auth.ErrConflict
		}
		if _, err := tx.ExecContext(ctx, `
			update approval_requests set status = $2, reviewer_id = $3, reviewed_at = $4
			where id = $1
		`, id, string(status), reviewerID, at); err != nil {
			return err
		}
		if status == auth.ApprovalApproved {
			res, err := tx.ExecContext(ctx, `update accounts set approved = true where id = $1`, req.AccountID)
			if err != nil {
				return err
			}
			if err := expectOneRow(res); err != nil {
				return err
			}
		}
		if entry != nil && entry.Details == "" {
			entry.Details = req.Username
		}
		a.s.appendAuditTx(ctx, tx, entry)

		req.RequestedRole = auth.Role(role)
		req.Status = status
		req.ReviewerID = &reviewerID
		req.ReviewedAt = &at
		req.CreatedAt = req.CreatedAt.UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}
