package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"opsconsole.dev/internal/auth"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, opts...), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func expectAuditInsert(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectExec(q("savepoint audit_entry")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("insert into audit_log")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectExec(q("release savepoint audit_entry")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectIdentityLock(mock sqlmock.Sqlmock, username, email string) {
	mock.ExpectExec(q("pg_advisory_xact_lock(hashtext($1)), pg_advisory_xact_lock(hashtext($2))")).
		WithArgs("username:"+username, "email:"+email).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestAcceptInvitationCreatesAccountAndConsumesToken(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("from invitations where token_hash = $1 and status = 'pending' for update")).
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "role", "invited_by", "expires_at"}).
			AddRow(int64(7), "alice", "alice@x.com", "write", int64(1), now.Add(24*time.Hour)))
	mock.ExpectQuery(q("insert into accounts")).
		WithArgs("alice", "alice@x.com", "bcrypt-hash", "write", true, sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(q("update invitations set status = 'accepted', accepted_account_id = $2")).
		WithArgs(int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock, 100)
	mock.ExpectCommit()

	entry := &auth.AuditEntry{Action: auth.ActionAcceptInvitation}
	acct, err := store.Invitations(ctx).Accept(ctx, "hash", "bcrypt-hash", now, entry)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if acct.ID != 42 || !acct.Approved || acct.Role != auth.RoleWrite {
		t.Fatalf("unexpected account %+v", acct)
	}
	if acct.InvitedBy == nil || *acct.InvitedBy != 1 {
		t.Fatalf("expected inviter 1, got %v", acct.InvitedBy)
	}
	if entry.ActorID == nil || *entry.ActorID != 42 || entry.ActorUsername != "alice" {
		t.Fatalf("audit actor not filled: %+v", entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptInvitationExpiredLeavesRowUntouched(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("from invitations where token_hash = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "role", "invited_by", "expires_at"}).
			AddRow(int64(7), "alice", "alice@x.com", "write", nil, now.Add(-time.Second)))
	mock.ExpectRollback()

	_, err := store.Invitations(ctx).Accept(ctx, "hash", "bcrypt-hash", now, nil)
	if !errors.Is(err, auth.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptInvitationUnknownToken(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("from invitations where token_hash = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "role", "invited_by", "expires_at"}))
	mock.ExpectRollback()

	_, err := store.Invitations(ctx).Accept(ctx, "hash", "bcrypt-hash", now, nil)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterMapsUniqueViolationToConflict(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectIdentityLock(mock, "bob", "bob@x.com")
	mock.ExpectQuery(q("select 1 from invitations")).
		WithArgs("bob", "bob@x.com", now).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectQuery(q("insert into accounts")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "accounts_username_key"})
	mock.ExpectRollback()

	acct := &auth.Account{Username: "bob", Email: "bob@x.com", PasswordHash: "h", Role: auth.RoleReadonly, CreatedAt: now}
	_, err := store.Accounts(ctx).Register(ctx, acct, nil)
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterCreatesPendingRequest(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectIdentityLock(mock, "bob", "bob@x.com")
	mock.ExpectQuery(q("select 1 from invitations")).WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectQuery(q("insert into accounts")).
		WithArgs("bob", "bob@x.com", "h", "readonly", false, sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectQuery(q("insert into approval_requests")).
		WithArgs(int64(5), "readonly", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	expectAuditInsert(mock, 1)
	mock.ExpectCommit()

	acct := &auth.Account{Username: "bob", Email: "bob@x.com", PasswordHash: "h", Role: auth.RoleReadonly, Approved: true, CreatedAt: now}
	req, err := store.Accounts(ctx).Register(ctx, acct, &auth.AuditEntry{Action: auth.ActionRegister})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if acct.Approved {
		t.Fatalf("registered accounts must start unapproved")
	}
	if req.ID != 9 || req.AccountID != 5 || req.Status != auth.ApprovalPending {
		t.Fatalf("unexpected request %+v", req)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterHonoursInvitationReservation(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectIdentityLock(mock, "alice", "a@x.com")
	mock.ExpectQuery(q("select 1 from invitations")).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.Accounts(ctx).Register(ctx, &auth.Account{Username: "alice", Email: "a@x.com", CreatedAt: now}, nil)
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateInvitationLocksIdentityBeforeCheckingAccounts(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectIdentityLock(mock, "alice", "alice@x.com")
	mock.ExpectQuery(q("select 1 from accounts where username = $1 or email = $2 limit 1")).
		WithArgs("alice", "alice@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectQuery(q("insert into invitations")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	expectAuditInsert(mock, 11)
	mock.ExpectCommit()

	inv := &auth.Invitation{
		Username: "alice", Email: "alice@x.com", Role: auth.RoleWrite, TokenHash: "hash",
		CreatedAt: now, ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	if err := store.Invitations(ctx).Create(ctx, inv, &auth.AuditEntry{Action: auth.ActionInviteUser}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.ID != 3 {
		t.Fatalf("expected id 3, got %d", inv.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateInvitationConflictsWithAccountAfterLock(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectIdentityLock(mock, "bob", "bob@x.com")
	mock.ExpectQuery(q("select 1 from accounts")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	inv := &auth.Invitation{Username: "bob", Email: "bob@x.com", Role: auth.RoleReadonly, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Invitations(ctx).Create(ctx, inv, nil); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDecideCommitsWhenAuditInsertFails(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store, mock := newMock(t, WithLogger(zap.New(core)))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("from approval_requests r join accounts a on a.id = r.account_id where r.id = $1 for update of r")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "username", "email", "requested_role", "status", "created_at"}).
			AddRow(int64(5), "bob", "bob@x.com", "readonly", "pending", now))
	mock.ExpectExec(q("update approval_requests set status = $2, reviewer_id = $3, reviewed_at = $4")).
		WithArgs(int64(3), "approved", int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("update accounts set approved = true where id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("savepoint audit_entry")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("insert into audit_log")).WillReturnError(errors.New("audit_log is full"))
	mock.ExpectExec(q("rollback to savepoint audit_entry")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	entry := &auth.AuditEntry{ActorID: new(int64), ActorUsername: "admin", Action: auth.ActionApproveUser}
	req, err := store.Approvals(ctx).Decide(ctx, 3, auth.ApprovalApproved, 1, now, entry)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if req.Status != auth.ApprovalApproved || req.Username != "bob" {
		t.Fatalf("unexpected request %+v", req)
	}
	if logs.FilterMessage("audit_append_failed").Len() != 1 {
		t.Fatalf("expected audit failure to be logged")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDecideRejectLeavesAccountAlone(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("from approval_requests r")).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "username", "email", "requested_role", "status", "created_at"}).
			AddRow(int64(5), "bob", "bob@x.com", "readonly", "pending", now))
	mock.ExpectExec(q("update approval_requests")).
		WithArgs(int64(3), "rejected", int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := store.Approvals(ctx).Decide(ctx, 3, auth.ApprovalRejected, 1, now, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDecideAlreadyDecided(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("from approval_requests r")).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "username", "email", "requested_role", "status", "created_at"}).
			AddRow(int64(5), "bob", "bob@x.com", "readonly", "rejected", now))
	mock.ExpectRollback()

	_, err := store.Approvals(ctx).Decide(ctx, 3, auth.ApprovalApproved, 1, now, nil)
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteAccountMissing(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q("delete from accounts where id = $1")).WithArgs(int64(77)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Accounts(ctx).Delete(ctx, 77, &auth.AuditEntry{Action: auth.ActionDeleteUser})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByUsernameScansNullableColumns(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	cols := []string{"id", "username", "email", "password_hash", "role", "approved", "invited_by", "created_at", "last_login_at"}
	mock.ExpectQuery(q("from accounts where username = $1")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), "admin", "admin@x.com", "h", "admin", true, nil, now, nil))
	mock.ExpectQuery(q("from accounts where username = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(cols))

	acct, err := store.Accounts(ctx).FindByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if acct.InvitedBy != nil || acct.LastLoginAt != nil || acct.Role != auth.RoleAdmin {
		t.Fatalf("unexpected account %+v", acct)
	}
	if _, err := store.Accounts(ctx).FindByUsername(ctx, "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditListAndPreferences(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(q("from audit_log order by created_at desc, id desc limit $1")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor_id", "actor_username", "action", "resource", "details", "created_at"}).
			AddRow(int64(2), int64(1), "admin", "approve_user", "approval_request:3", "bob", now).
			AddRow(int64(1), nil, "system", "bootstrap_admin", "account:admin", "", now.Add(-time.Hour)))
	mock.ExpectQuery(q("select preferences from user_preferences")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"preferences"}))
	mock.ExpectExec(q("insert into user_preferences")).
		WithArgs(int64(99), []byte(`{"a":1}`)).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	entries, err := store.Audit(ctx).List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != 2 || entries[1].ActorID != nil {
		t.Fatalf("unexpected entries %+v", entries)
	}

	prefs, err := store.Preferences(ctx).Get(ctx, 1)
	if err != nil || string(prefs) != `{}` {
		t.Fatalf("Get: %s %v", prefs, err)
	}
	if err := store.Preferences(ctx).Put(ctx, 99, auth.Preferences(`{"a":1}`)); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing account, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRevokeIsAudited(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q("update sessions set revoked_at = coalesce(revoked_at, $2) where id = $1")).
		WithArgs("01J0SESSION", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock, 11)
	mock.ExpectCommit()

	if err := store.Sessions(ctx).Revoke(ctx, "01J0SESSION", now, &auth.AuditEntry{Action: auth.ActionLogout}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
