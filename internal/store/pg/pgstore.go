// Package pg implements auth.Store on PostgreSQL through the pgx database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/obs"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ auth.Store = (*Store)(nil)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for swallowed audit failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects with the pgx driver and applies pool defaults.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: obs.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Accounts(context.Context) auth.AccountStore       { return accountStore{s} }
func (s *Store) Invitations(context.Context) auth.InvitationStore { return invitationStore{s} }
func (s *Store) Approvals(context.Context) auth.ApprovalStore     { return approvalStore{s} }
func (s *Store) Audit(context.Context) auth.AuditStore            { return auditStore{s} }
func (s *Store) Sessions(context.Context) auth.SessionStore       { return sessionStore{s} }
func (s *Store) Preferences(context.Context) auth.PreferenceStore { return preferenceStore{s} }

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// lockIdentity serializes transactions reserving the same username or email until commit.
// Username is always locked before email.
func lockIdentity(ctx context.Context, tx *sql.Tx, username, email string) error {
	_, err := tx.ExecContext(ctx,
		`select pg_advisory_xact_lock(hashtext($1)), pg_advisory_xact_lock(hashtext($2))`,
		"username:"+username, "email:"+email)
	return err
}

// appendAuditTx writes entry inside tx behind a savepoint. A failed insert is rolled
// back to the savepoint and logged so the enclosing mutation still commits.
func (s *Store) appendAuditTx(ctx context.Context, tx *sql.Tx, entry *auth.AuditEntry) {
	if entry == nil {
		return
	}
	if _, err := tx.ExecContext(ctx, `savepoint audit_entry`); err != nil {
		s.logger.Warn("audit_append_failed", zap.String("action", entry.Action), zap.Error(err))
		return
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		s.logger.Warn("audit_append_failed", zap.String("action", entry.Action), zap.Error(err))
		if _, rbErr := tx.ExecContext(ctx, `rollback to savepoint audit_entry`); rbErr != nil {
			s.logger.Error("audit_savepoint_rollback_failed", zap.Error(rbErr))
		}
		return
	}
	if _, err := tx.ExecContext(ctx, `release savepoint audit_entry`); err != nil {
		s.logger.Warn("audit_savepoint_release_failed", zap.Error(err))
	}
}

func fillActor(entry *auth.AuditEntry, id int64, username string) {
	if entry == nil {
		return
	}
	if entry.ActorID == nil {
		entry.ActorID = &id
	}
	if entry.ActorUsername == "" {
		entry.ActorUsername = username
	}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError converts driver errors into auth sentinels where one applies.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time.UTC()
	return &v
}
