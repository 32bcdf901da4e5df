package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/config"
	"opsconsole.dev/internal/store/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *auth.Service
	store *memory.Store
	clock *testClock
	admin auth.Principal
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	st := memory.New(opts...)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := auth.NewService(st, &auth.Hasher{Pepper: "pepper", Cost: bcrypt.MinCost},
		auth.WithClock(clock.Now),
		auth.WithSessionSecret("test-secret"),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	created, err := svc.EnsureAdmin(context.Background(), "admin@x.com", "admin-pass")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin: %v %v", created, err)
	}
	adminAcct, err := st.Accounts(context.Background()).FindByUsername(context.Background(), auth.AdminUsername)
	if err != nil {
		t.Fatalf("find admin: %v", err)
	}
	return &fixture{svc: svc, store: st, clock: clock, admin: auth.NewPrincipal(adminAcct, "")}
}

func (f *fixture) principal(t *testing.T, username string) auth.Principal {
	t.Helper()
	acct, err := f.store.Accounts(context.Background()).FindByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("find %s: %v", username, err)
	}
	return auth.NewPrincipal(acct, "")
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.EnsureAdmin(context.Background(), "admin@x.com", "another-pass")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if created {
		t.Fatalf("expected existing admin to be kept")
	}
	if !f.admin.Account.Approved || f.admin.Account.Role != auth.RoleAdmin {
		t.Fatalf("bootstrap admin must be an approved admin: %+v", f.admin.Account)
	}
}

func TestEnsureAdminAcceptsConfigDefaults(t *testing.T) {
	cfg, err := config.FromLookup(func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("FromLookup: %v", err)
	}
	svc, err := auth.NewService(memory.New(), &auth.Hasher{Pepper: cfg.Pepper, Cost: bcrypt.MinCost},
		auth.WithSessionSecret("test-secret"),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	created, err := svc.EnsureAdmin(context.Background(), cfg.AdminEmail, "Xk3vQ9mTz7LpW2sRb8NcYd4F")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin with default email %q: %v %v", cfg.AdminEmail, created, err)
	}
}

func TestVerifyDoesNotRevealUsernames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errWrong := f.svc.Verify(ctx, "admin", "wrong-pass")
	_, errMissing := f.svc.Verify(ctx, "nobody", "wrong-pass")
	if !errors.Is(errWrong, auth.ErrInvalidCredentials) || !errors.Is(errMissing, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", errWrong, errMissing)
	}
	if errWrong.Error() != errMissing.Error() {
		t.Fatalf("error shapes differ: %q vs %q", errWrong, errMissing)
	}

	acct, err := f.svc.Verify(ctx, " ADMIN ", "admin-pass")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if acct.Username != "admin" {
		t.Fatalf("unexpected account %+v", acct)
	}
}

func TestRegisterConcurrentSameUsername(t *testing.T) {
	f := newFixture(t)
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.svc.Register(context.Background(), auth.RegisterInput{
				Username: "bob",
				Password: "secret1",
				Email:    "bob@x.com",
				Role:     auth.RoleReadonly,
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, auth.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("expected exactly one success, got ok=%d conflicts=%d", ok, conflicts)
	}
}

func TestRegisterRejectsAdminRoleAndBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.Register(ctx, auth.RegisterInput{Username: "eve", Password: "secret1", Email: "eve@x.com", Role: auth.RoleAdmin})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, _, err = f.svc.Register(ctx, auth.RegisterInput{Username: "eve", Password: "123", Email: "eve@x.com", Role: auth.RoleWrite})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestInvitationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "alice", Email: "alice@x.com", Role: auth.RoleWrite})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if len(issued.Token) < 43 {
		t.Fatalf("token too short for 256 bits: %q", issued.Token)
	}
	if want := f.clock.Now().Add(7 * 24 * time.Hour); !issued.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", issued.ExpiresAt, want)
	}
	if issued.Invitation.TokenHash == issued.Token {
		t.Fatalf("raw token must not be stored")
	}

	alice, err := f.svc.AcceptInvitation(ctx, issued.Token, "secret1")
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if !alice.Approved || alice.Role != auth.RoleWrite || alice.Username != "alice" {
		t.Fatalf("unexpected account %+v", alice)
	}
	if alice.InvitedBy == nil || *alice.InvitedBy != f.admin.ID() {
		t.Fatalf("expected inviter to be recorded, got %v", alice.InvitedBy)
	}

	if _, err := f.svc.AcceptInvitation(ctx, issued.Token, "other1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("second accept: expected ErrNotFound, got %v", err)
	}

	list, err := f.svc.ListInvitations(ctx, f.admin)
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	if len(list) != 1 || list[0].Status != auth.InvitationAccepted || list[0].InvitedByUsername != "admin" {
		t.Fatalf("unexpected invitations %+v", list)
	}

	if _, err := f.svc.Login(ctx, "alice", "secret1", auth.SessionMeta{}); err != nil {
		t.Fatalf("invited account should log in: %v", err)
	}
}

func TestAcceptAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "dave", Email: "dave@x.com", Role: auth.RoleReadonly})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	f.clock.Advance(7*24*time.Hour + time.Second)

	if _, err := f.svc.AcceptInvitation(ctx, issued.Token, "secret1"); !errors.Is(err, auth.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	raw, err := f.store.Invitations(ctx).List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if raw[0].Status != auth.InvitationPending {
		t.Fatalf("stored status must stay pending, got %s", raw[0].Status)
	}
	list, err := f.svc.ListInvitations(ctx, f.admin)
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	if list[0].Status != auth.InvitationExpired {
		t.Fatalf("effective status should be expired, got %s", list[0].Status)
	}
	if _, err := f.store.Accounts(ctx).FindByUsername(ctx, "dave"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("no account may be created for an expired invitation: %v", err)
	}
}

func TestAcceptConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	issued, err := f.svc.Invite(context.Background(), f.admin, auth.InviteInput{Username: "erin", Email: "erin@x.com", Role: auth.RoleWrite})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptInvitation(context.Background(), issued.Token, "secret1")
		}(i)
	}
	wg.Wait()
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", ok)
	}
}

func TestInviteRequiresAdminAndFreeNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "writer", Email: "writer@x.com", Role: auth.RoleWrite})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if _, err := f.svc.AcceptInvitation(ctx, issued.Token, "secret1"); err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	writer := f.principal(t, "writer")

	if _, err := f.svc.Invite(ctx, writer, auth.InviteInput{Username: "x1y", Email: "x@x.com", Role: auth.RoleReadonly}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for write role, got %v", err)
	}
	if _, err := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "writer", Email: "new@x.com", Role: auth.RoleReadonly}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict for taken username, got %v", err)
	}
	if _, err := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "fresh", Email: "writer@x.com", Role: auth.RoleReadonly}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict for taken email, got %v", err)
	}
}

func TestRegistrationHonoursPendingInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "frank", Email: "frank@x.com", Role: auth.RoleWrite}); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	_, _, err := f.svc.Register(ctx, auth.RegisterInput{Username: "frank", Password: "secret1", Email: "f2@x.com", Role: auth.RoleReadonly})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRevokeInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued, err := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "gina", Email: "gina@x.com", Role: auth.RoleWrite})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := f.svc.RevokeInvitation(ctx, f.admin, issued.Invitation.ID); err != nil {
		t.Fatalf("RevokeInvitation: %v", err)
	}
	if err := f.svc.RevokeInvitation(ctx, f.admin, issued.Invitation.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.AcceptInvitation(ctx, issued.Token, "secret1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("revoked token must not be accepted: %v", err)
	}
}

func TestApproveFlipsOnlyTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, bobReq, err := f.svc.Register(ctx, auth.RegisterInput{Username: "bob", Password: "secret1", Email: "bob@x.com", Role: auth.RoleReadonly})
	if err != nil {
		t.Fatalf("Register bob: %v", err)
	}
	carol, _, err := f.svc.Register(ctx, auth.RegisterInput{Username: "carol", Password: "secret1", Email: "carol@x.com", Role: auth.RoleWrite})
	if err != nil {
		t.Fatalf("Register carol: %v", err)
	}

	pending, err := f.svc.PendingApprovals(ctx, f.admin)
	if err != nil {
		t.Fatalf("PendingApprovals: %v", err)
	}
	if len(pending) != 2 || pending[0].Username != "carol" {
		t.Fatalf("expected newest first, got %+v", pending)
	}

	req, err := f.svc.Decide(ctx, f.admin, bobReq.ID, "approved")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if req.Status != auth.ApprovalApproved || req.ReviewerID == nil || *req.ReviewerID != f.admin.ID() || req.ReviewedAt == nil {
		t.Fatalf("unexpected request %+v", req)
	}

	gotBob, _ := f.store.Accounts(ctx).Find(ctx, bob.ID)
	gotCarol, _ := f.store.Accounts(ctx).Find(ctx, carol.ID)
	if !gotBob.Approved {
		t.Fatalf("bob should be approved")
	}
	if gotCarol.Approved {
		t.Fatalf("carol must stay unapproved")
	}
	if _, err := f.svc.Login(ctx, "bob", "secret1", auth.SessionMeta{}); err != nil {
		t.Fatalf("approved account should log in: %v", err)
	}
}

func TestRejectScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, req, err := f.svc.Register(ctx, auth.RegisterInput{Username: "bob", Password: "secret1", Email: "bob@x.com", Role: auth.RoleReadonly})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if bob.Approved || req.Status != auth.ApprovalPending || req.RequestedRole != auth.RoleReadonly {
		t.Fatalf("unexpected registration state %+v %+v", bob, req)
	}

	decided, err := f.svc.Decide(ctx, f.admin, req.ID, "rejected")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != auth.ApprovalRejected {
		t.Fatalf("status = %s", decided.Status)
	}
	if _, err := f.svc.Decide(ctx, f.admin, req.ID, "approved"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("decided request must not be re-decided, got %v", err)
	}

	res, err := f.svc.Login(ctx, "bob", "secret1", auth.SessionMeta{})
	if !errors.Is(err, auth.ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
	if res.Account == nil || res.Account.Username != "bob" || res.Token != "" {
		t.Fatalf("unapproved login must return the account and no token: %+v", res)
	}
	pending, _ := f.svc.PendingApprovals(ctx, f.admin)
	if len(pending) != 0 {
		t.Fatalf("no pending requests expected, got %d", len(pending))
	}
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Decide(ctx, f.admin, 999, "approved"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Decide(ctx, f.admin, 1, "maybe"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteAccountRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.DeleteAccount(ctx, f.admin, f.admin.ID()); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("admin account must be undeletable, got %v", err)
	}

	issued, _ := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "ops", Email: "ops@x.com", Role: auth.RoleAdmin})
	if _, err := f.svc.AcceptInvitation(ctx, issued.Token, "secret1"); err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	ops := f.principal(t, "ops")
	if err := f.svc.DeleteAccount(ctx, ops, ops.ID()); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("self-deletion must be forbidden, got %v", err)
	}
	if err := f.svc.DeleteAccount(ctx, ops, f.admin.ID()); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("admin account must be undeletable by other admins, got %v", err)
	}

	bob, _, err := f.svc.Register(ctx, auth.RegisterInput{Username: "bob", Password: "secret1", Email: "bob@x.com", Role: auth.RoleReadonly})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.store.Preferences(ctx).Put(ctx, bob.ID, json.RawMessage(`{"region":"us-west-2"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := f.svc.DeleteAccount(ctx, ops, bob.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	entries, _ := f.store.Audit(ctx).List(ctx, 100)
	for _, e := range entries {
		if e.ActorID != nil && *e.ActorID == bob.ID {
			t.Fatalf("bob's audit entries should be gone: %+v", e)
		}
	}
	pending, _ := f.svc.PendingApprovals(ctx, f.admin)
	if len(pending) != 0 {
		t.Fatalf("bob's approval request should be gone")
	}
	prefs, _ := f.store.Preferences(ctx).Get(ctx, bob.ID)
	if string(prefs) != `{}` {
		t.Fatalf("bob's preferences should be gone, got %s", prefs)
	}
	if err := f.svc.DeleteAccount(ctx, ops, bob.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoginAuthenticateLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "admin", "admin-pass", auth.SessionMeta{UserAgent: "test", IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" || res.Account.LastLoginAt == nil {
		t.Fatalf("expected token and last login, got %+v", res)
	}

	p, err := f.svc.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Username() != "admin" || p.SessionID != res.SessionID {
		t.Fatalf("unexpected principal %+v", p)
	}

	if err := f.svc.Logout(ctx, p); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, res.Token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("revoked session must not authenticate, got %v", err)
	}

	entries, _ := f.store.Audit(ctx).List(ctx, 1)
	if len(entries) != 1 || entries[0].Action != auth.ActionLogout {
		t.Fatalf("logout should be audited, got %+v", entries)
	}
}

func TestSessionExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "admin", "admin-pass", auth.SessionMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.clock.Advance(13 * time.Hour)
	if _, err := f.svc.Authenticate(ctx, res.Token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "garbage"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for garbage, got %v", err)
	}
}

func TestRoleChangeAppliesToLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued, _ := f.svc.Invite(ctx, f.admin, auth.InviteInput{Username: "hank", Email: "hank@x.com", Role: auth.RoleWrite})
	hank, err := f.svc.AcceptInvitation(ctx, issued.Token, "secret1")
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	res, err := f.svc.Login(ctx, "hank", "secret1", auth.SessionMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := f.svc.ChangeRole(ctx, f.admin, hank.ID, "readonly"); err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}
	p, err := f.svc.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.HasPermission(auth.PermResourcesOperate) {
		t.Fatalf("demoted account must lose write permissions immediately")
	}
	if _, err := f.svc.ChangeRole(ctx, f.admin, f.admin.ID(), "readonly"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("admin role must be fixed, got %v", err)
	}
	if _, err := f.svc.ChangeRole(ctx, p, f.admin.ID(), "readonly"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("readonly cannot change roles, got %v", err)
	}
}

func TestPreferencesAndRecordAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prefs, err := f.svc.Preferences(ctx, f.admin)
	if err != nil || string(prefs) != `{}` {
		t.Fatalf("Preferences: %s %v", prefs, err)
	}
	if err := f.svc.SavePreferences(ctx, f.admin, auth.Preferences(`["not","object"]`)); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := f.svc.SavePreferences(ctx, f.admin, auth.Preferences(`{"region":"us-west-2"}`)); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}
	prefs, _ = f.svc.Preferences(ctx, f.admin)
	if string(prefs) != `{"region":"us-west-2"}` {
		t.Fatalf("unexpected prefs %s", prefs)
	}

	if err := f.svc.RecordAction(ctx, f.admin, "view_logs", "cloudwatch", "opened"); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	if err := f.svc.RecordAction(ctx, f.admin, " ", "x", ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	entries, err := f.svc.AuditLog(ctx, f.admin, 0)
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	if entries[0].Action != "view_logs" || entries[0].ActorUsername != "admin" {
		t.Fatalf("unexpected newest entry %+v", entries[0])
	}
}

func TestAuditFailureNeverFailsTheAction(t *testing.T) {
	f := newFixture(t, memory.WithAuditFailure(errors.New("audit table locked")))
	ctx := context.Background()

	_, req, err := f.svc.Register(ctx, auth.RegisterInput{Username: "ivan", Password: "secret1", Email: "ivan@x.com", Role: auth.RoleWrite})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.Decide(ctx, f.admin, req.ID, "approved"); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := f.svc.Login(ctx, "ivan", "secret1", auth.SessionMeta{}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.RecordAction(ctx, f.admin, "click", "button", ""); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
}
