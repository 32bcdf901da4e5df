package pg

import (
	"context"
	"database/sql"
	"time"

	"opsconsole.dev/internal/auth"
)

type auditStore struct{ s *Store }

func insertAudit(ctx context.Context, q queryer, e *auth.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return q.QueryRowContext(ctx, `
		insert into audit_log (actor_id, actor_username, action, resource, details, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, nullInt64(e.ActorID), e.ActorUsername, e.Action, e.Resource, e.Details, e.CreatedAt).Scan(&e.ID)
}

func (a auditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	return insertAudit(ctx, a.s.db, entry)
}

func (a auditStore) List(ctx context.Context, limit int) ([]*auth.AuditEntry, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		select id, actor_id, actor_username, action, resource, details, created_at
		from audit_log
		order by created_at desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.AuditEntry
	for rows.Next() {
		var (
			e       auth.AuditEntry
			actorID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &actorID, &e.ActorUsername, &e.Action, &e.Resource, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = int64Ptr(actorID)
		e.CreatedAt = e.CreatedAt.UTC()
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
