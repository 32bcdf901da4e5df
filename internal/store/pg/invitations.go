package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"opsconsole.dev/internal/auth"
)

type invitationStore struct{ s *Store }

func (i invitationStore) Create(ctx context.Context, inv *auth.Invitation, entry *auth.AuditEntry) error {
	return i.s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockIdentity(ctx, tx, inv.Username, inv.Email); err != nil {
			return err
		}
		var taken int
		err := tx.QueryRowContext(ctx, `
			select 1 from accounts where username = $1 or email = $2 limit 1
		`, inv.Username, inv.Email).Scan(&taken)
		switch {
		case err == nil:
			return auth.ErrConflict
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		err = tx.QueryRowContext(ctx, `
			insert into invitations (username, email, role, token_hash, invited_by, created_at, expires_at, status)
			values ($1, $2, $3, $4, $5, $6, $7, 'pending')
			returning id
		`, inv.Username, inv.Email, string(inv.Role), inv.TokenHash, nullInt64(inv.InvitedBy), inv.CreatedAt, inv.ExpiresAt).Scan(&inv.ID)
		if err != nil {
			return mapError(err)
		}
		i.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
}

func (i invitationStore) Accept(ctx context.Context, tokenHash, passwordHash string, now time.Time, entry *auth.AuditEntry) (*auth.Account, error) {
	var acct *auth.Account
	err := i.s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			id        int64
			username  string
			email     string
			role      string
			invitedBy sql.NullInt64
			expiresAt time.Time
		)
		err := tx.QueryRowContext(ctx, `
			select id, username, email, role, invited_by, expires_at
			from invitations
			where token_hash = $1 and status = 'pending'
			for update
		`, tokenHash).Scan(&id, &username, &email, &role, &invitedBy, &expiresAt)
		if err != nil {
			return mapError(err)
		}
		if now.After(expiresAt) {
			return auth.ErrExpired
		}
		acct = &auth.Account{
			Username:     username,
			Email:        email,
			PasswordHash: passwordHash,
			Role:         auth.Role(role),
			Approved:     true,
			InvitedBy:    int64Ptr(invitedBy),
			CreatedAt:    now,
		}
		if err := insertAccount(ctx, tx, acct); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			update invitations set status = 'accepted', accepted_account_id = $2
			where id = $1 and status = 'pending'
		`, id, acct.ID)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		fillActor(entry, acct.ID, acct.Username)
		i.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (i invitationStore) Revoke(ctx context.Context, id int64, entry *auth.AuditEntry) error {
	return i.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from invitations where id = $1`, id)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		i.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
}

func (i invitationStore) List(ctx context.Context) ([]*auth.Invitation, error) {
	rows, err := i.s.db.QueryContext(ctx, `
		select i.id, i.username, i.email, i.role, i.invited_by, coalesce(a.username, ''),
		       i.created_at, i.expires_at, i.status, i.accepted_account_id
		from invitations i
		left join accounts a on a.id = i.invited_by
		order by i.created_at desc, i.id desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Invitation
	for rows.Next() {
		var (
			inv       auth.Invitation
			role      string
			status    string
			invitedBy sql.NullInt64
			accepted  sql.NullInt64
		)
		if err := rows.Scan(&inv.ID, &inv.Username, &inv.Email, &role, &invitedBy, &inv.InvitedByUsername,
			&inv.CreatedAt, &inv.ExpiresAt, &status, &accepted); err != nil {
			return nil, err
		}
		inv.Role = auth.Role(role)
		inv.Status = auth.InvitationStatus(status)
		inv.InvitedBy = int64Ptr(invitedBy)
		inv.AcceptedAccountID = int64Ptr(accepted)
		inv.CreatedAt = inv.CreatedAt.UTC()
		inv.ExpiresAt = inv.ExpiresAt.UTC()
		result = append(result, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
