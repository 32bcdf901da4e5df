package pg

import (
	"context"
	"database/sql"
	"time"

	"opsconsole.dev/internal/auth"
)

type sessionStore struct{ s *Store }

func (ss sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := ss.s.db.ExecContext(ctx, `
		insert into sessions (id, account_id, created_at, expires_at, user_agent, ip_address)
		values ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.AccountID, sess.CreatedAt, sess.ExpiresAt, sess.UserAgent, sess.IPAddress)
	return mapError(err)
}

func (ss sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	var (
		sess    auth.Session
		revoked sql.NullTime
	)
	err := ss.s.db.QueryRowContext(ctx, `
		select id, account_id, created_at, expires_at, revoked_at, user_agent, ip_address
		from sessions
		where id = $1
	`, id).Scan(&sess.ID, &sess.AccountID, &sess.CreatedAt, &sess.ExpiresAt, &revoked, &sess.UserAgent, &sess.IPAddress)
	if err != nil {
		return nil, mapError(err)
	}
	sess.RevokedAt = timePtr(revoked)
	return &sess, nil
}

func (ss sessionStore) Revoke(ctx context.Context, id string, at time.Time, entry *auth.AuditEntry) error {
	return ss.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update sessions set revoked_at = coalesce(revoked_at, $2) where id = $1
		`, id, at)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		ss.s.appendAuditTx(ctx, tx, entry)
		return nil
	})
}
