package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"opsconsole.dev/internal/auth"
)

const accountColumns = `id, username, email, password_hash, role, approved, invited_by, created_at, last_login_at`

type accountStore struct{ s *Store }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a         auth.Account
		role      string
		invitedBy sql.NullInt64
		lastLogin sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &role, &a.Approved, &invitedBy, &a.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	a.Role = auth.Role(role)
	a.InvitedBy = int64Ptr(invitedBy)
	a.CreatedAt = a.CreatedAt.UTC()
	a.LastLoginAt = timePtr(lastLogin)
	return &a, nil
}

func insertAccount(ctx context.Context, q queryer, a *auth.Account) error {
	err := q.QueryRowContext(ctx, `
		insert into accounts (username, email, password_hash, role, approved, invited_by, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning id
	`, a.Username, a.Email, a.PasswordHash, string(a.Role), a.Approved, nullInt64(a.InvitedBy), a.CreatedAt).Scan(&a.ID)
	return mapError(err)
}

func (a accountStore) Create(ctx context.Context, acct *auth.Account, entry *auth.AuditEntry) error {
	return a.s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertAccount(ctx, tx, acct); err != nil {
			return err
		}
		fillActor(entry, acct.ID, acct.Username)
		a.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
}

func (a accountStore) Register(ctx context.Context, acct *auth.Account, entry *auth.AuditEntry) (*auth.ApprovalRequest, error) {
	acct.Approved = false
	var req *auth.ApprovalRequest
	err := a.s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockIdentity(ctx, tx, acct.Username, acct.Email); err != nil {
			return err
		}
		var held int
		err := tx.QueryRowContext(ctx, `
			select 1 from invitations
			where status = 'pending' and expires_at > $3 and (username = $1 or email = $2)
			limit 1
		`, acct.Username, acct.Email, acct.CreatedAt).Scan(&held)
		switch {
		case err == nil:
			return auth.ErrConflict
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		if err := insertAccount(ctx, tx, acct); err != nil {
			return err
		}
		req = &auth.ApprovalRequest{
			AccountID:     acct.ID,
			Username:      acct.Username,
			Email:         acct.Email,
			RequestedRole: acct.Role,
			Status:        auth.ApprovalPending,
			CreatedAt:     acct.CreatedAt,
		}
		if err := tx.QueryRowContext(ctx, `
			insert into approval_requests (account_id, requested_role, status, created_at)
			values ($1, $2, 'pending', $3)
			returning id
		`, acct.ID, string(acct.Role), acct.CreatedAt).Scan(&req.ID); err != nil {
			return mapError(err)
		}
		fillActor(entry, acct.ID, acct.Username)
		a.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (a accountStore) Find(ctx context.Context, id int64) (*auth.Account, error) {
	row := a.s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, mapError(err)
	}
	return acct, nil
}

func (a accountStore) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := a.s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where username = $1`, username)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, mapError(err)
	}
	return acct, nil
}

func (a accountStore) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := a.s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (a accountStore) MarkLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := a.s.db.ExecContext(ctx, `update accounts set last_login_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (a accountStore) SetRole(ctx context.Context, id int64, role auth.Role, entry *auth.AuditEntry) error {
	return a.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `update accounts set role = $2 where id = $1`, id, string(role))
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		a.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
}

// Delete relies on foreign keys: audit_log, approval_requests, user_preferences and
// sessions cascade; inviter and reviewer references are set null.
func (a accountStore) Delete(ctx context.Context, id int64, entry *auth.AuditEntry) error {
	return a.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from accounts where id = $1`, id)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		a.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
}
