package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"opsconsole.dev/internal/ids"
	"opsconsole.dev/internal/obs"
)

const (
	defaultSessionTTL    = 12 * time.Hour
	defaultInvitationTTL = 7 * 24 * time.Hour

	defaultAuditLimit = 100
	maxAuditLimit     = 1000
	maxAuditField     = 512
	maxAuditDetails   = 4096
)

// Auditor records entries outside a store transaction. Implementations never fail the caller.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Service implements the account lifecycle and the access gate over a Store.
type Service struct {
	store   Store
	hasher  *Hasher
	tokens  *TokenCodec
	auditor Auditor
	logger  *zap.Logger
	now     func() time.Time

	secret        []byte
	sessionTTL    time.Duration
	invitationTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithSessionSecret sets the HMAC key for session tokens. Without it a random key is
// generated and sessions do not survive a restart.
func WithSessionSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return nil
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithInvitationTTL configures invitation lifetime.
func WithInvitationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.invitationTTL = ttl
		}
		return nil
	}
}

// WithAuditor routes non-transactional audit entries.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		s.auditor = a
		return nil
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, hasher *Hasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: hasher is required")
	}
	svc := &Service{
		store:         store,
		hasher:        hasher,
		logger:        obs.Logger(),
		now:           time.Now,
		sessionTTL:    defaultSessionTTL,
		invitationTTL: defaultInvitationTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		svc.secret = make([]byte, 32)
		if _, err := rand.Read(svc.secret); err != nil {
			return nil, fmt.Errorf("auth: generate session secret: %w", err)
		}
	}
	tokens, err := NewTokenCodec(svc.secret, svc.now)
	if err != nil {
		return nil, err
	}
	svc.tokens = tokens
	if svc.auditor == nil {
		svc.auditor = storeAuditor{store: store, logger: svc.logger}
	}
	return svc, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// EnsureAdmin creates the approved "admin" account when it does not exist yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	_, err := s.store.Accounts(ctx).FindByUsername(ctx, AdminUsername)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	email = normalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return false, fmt.Errorf("%w: admin email", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	acct := &Account{
		Username:     AdminUsername,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleAdmin,
		Approved:     true,
		CreatedAt:    s.now().UTC(),
	}
	entry := &AuditEntry{Action: ActionBootstrapAdmin, Resource: "account:" + AdminUsername}
	if err := s.store.Accounts(ctx).Create(ctx, acct, entry); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Register creates an unapproved account and its pending approval request.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, *ApprovalRequest, error) {
	in.normalize()
	if err := validateInput(&in); err != nil {
		s.event("register", err)
		return nil, nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.event("register", err)
		return nil, nil, err
	}
	acct := &Account{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    s.now().UTC(),
	}
	entry := &AuditEntry{
		Action:   ActionRegister,
		Resource: "account:" + in.Username,
		Details:  "requested role " + string(in.Role),
	}
	req, err := s.store.Accounts(ctx).Register(ctx, acct, entry)
	s.event("register", err)
	if err != nil {
		return nil, nil, err
	}
	return acct, req, nil
}

// Verify checks a username and password. Unknown users and wrong passwords both yield
// ErrInvalidCredentials after the same hashing work.
func (s *Service) Verify(ctx context.Context, username, password string) (*Account, error) {
	username = normalizeUsername(username)
	acct, err := s.store.Accounts(ctx).FindByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		s.hasher.Compare("", password)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}
	if !s.hasher.Compare(acct.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return acct, nil
}

// MarkLogin stamps the last-login time. Failures are logged and dropped.
func (s *Service) MarkLogin(ctx context.Context, acct *Account) {
	now := s.now().UTC()
	if err := s.store.Accounts(ctx).MarkLogin(ctx, acct.ID, now); err != nil {
		s.logger.Warn("mark_login_failed", zap.Int64("account_id", acct.ID), zap.Error(err))
		return
	}
	acct.LastLoginAt = &now
}

// SessionMeta describes the client opening a session.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// LoginResult carries the authenticated account and, for approved accounts, a session token.
type LoginResult struct {
	Account   *Account
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// Login verifies credentials and opens a session. Unapproved accounts get their account
// back together with ErrNotApproved and no session.
func (s *Service) Login(ctx context.Context, username, password string, meta SessionMeta) (LoginResult, error) {
	acct, err := s.Verify(ctx, username, password)
	if err != nil {
		s.event("login", err)
		return LoginResult{}, err
	}
	if !acct.Approved {
		s.event("login", ErrNotApproved)
		s.auditor.Record(ctx, AuditEntry{
			ActorID:       ptr(acct.ID),
			ActorUsername: acct.Username,
			Action:        ActionLoginUnapproved,
			Resource:      "session",
		})
		return LoginResult{Account: acct}, ErrNotApproved
	}

	now := s.now().UTC()
	sess := &Session{
		ID:        ids.New(),
		AccountID: acct.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
		UserAgent: truncate(meta.UserAgent, maxAuditField),
		IPAddress: meta.IPAddress,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return LoginResult{}, err
	}
	token, err := s.tokens.Sign(sess)
	if err != nil {
		return LoginResult{}, err
	}
	s.MarkLogin(ctx, acct)
	s.event("login", nil)
	s.auditor.Record(ctx, AuditEntry{
		ActorID:       ptr(acct.ID),
		ActorUsername: acct.Username,
		Action:        ActionLogin,
		Resource:      "session",
		Details:       meta.IPAddress,
	})
	return LoginResult{Account: acct, Token: token, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt}, nil
}

// Authenticate resolves a session token into a principal, re-reading the session and
// account so revocations and role changes apply immediately.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	accountID, sessionID, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}
	sess, err := s.store.Sessions(ctx).Find(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Principal{}, ErrUnauthenticated
	case err != nil:
		return Principal{}, err
	}
	if sess.AccountID != accountID || !sess.Active(s.now()) {
		return Principal{}, ErrUnauthenticated
	}
	acct, err := s.store.Accounts(ctx).Find(ctx, accountID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Principal{}, ErrUnauthenticated
	case err != nil:
		return Principal{}, err
	}
	return NewPrincipal(acct, sess.ID), nil
}

// Logout revokes the principal's session.
func (s *Service) Logout(ctx context.Context, p Principal) error {
	if p.Account == nil || p.SessionID == "" {
		return ErrUnauthenticated
	}
	entry := &AuditEntry{
		ActorID:       ptr(p.ID()),
		ActorUsername: p.Username(),
		Action:        ActionLogout,
		Resource:      "session",
	}
	return s.store.Sessions(ctx).Revoke(ctx, p.SessionID, s.now().UTC(), entry)
}

// ListAccounts returns every account (admin only).
func (s *Service) ListAccounts(ctx context.Context, p Principal) ([]*Account, error) {
	if err := p.Require(PermUsersManage); err != nil {
		return nil, err
	}
	return s.store.Accounts(ctx).List(ctx)
}

// ChangeRole sets another account's role (admin only). The "admin" account's role is fixed.
func (s *Service) ChangeRole(ctx context.Context, p Principal, id int64, role string) (*Account, error) {
	if err := p.Require(PermUsersManage); err != nil {
		return nil, err
	}
	r, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	accounts := s.store.Accounts(ctx)
	target, err := accounts.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.IsBootstrapAdmin() {
		return nil, fmt.Errorf("%w: the %s account role cannot be changed", ErrForbidden, AdminUsername)
	}
	entry := &AuditEntry{
		ActorID:       ptr(p.ID()),
		ActorUsername: p.Username(),
		Action:        ActionChangeRole,
		Resource:      accountResource(target),
		Details:       fmt.Sprintf("%s -> %s", target.Role, r),
	}
	if err := accounts.SetRole(ctx, id, r, entry); err != nil {
		return nil, err
	}
	target.Role = r
	return target, nil
}

// DeleteAccount removes another account (admin only). The "admin" account and the
// caller's own account cannot be deleted.
func (s *Service) DeleteAccount(ctx context.Context, p Principal, id int64) error {
	if err := p.Require(PermUsersManage); err != nil {
		return err
	}
	accounts := s.store.Accounts(ctx)
	target, err := accounts.Find(ctx, id)
	if err != nil {
		return err
	}
	if target.IsBootstrapAdmin() {
		return fmt.Errorf("%w: the %s account cannot be deleted", ErrForbidden, AdminUsername)
	}
	if target.ID == p.ID() {
		return fmt.Errorf("%w: cannot delete your own account", ErrForbidden)
	}
	entry := &AuditEntry{
		ActorID:       ptr(p.ID()),
		ActorUsername: p.Username(),
		Action:        ActionDeleteUser,
		Resource:      accountResource(target),
		Details:       target.Email,
	}
	return accounts.Delete(ctx, id, entry)
}

// Preferences returns the principal's stored preferences.
func (s *Service) Preferences(ctx context.Context, p Principal) (Preferences, error) {
	if err := p.Require(PermPreferencesWrite); err != nil {
		return nil, err
	}
	return s.store.Preferences(ctx).Get(ctx, p.ID())
}

// SavePreferences replaces the principal's preferences with a JSON object.
func (s *Service) SavePreferences(ctx context.Context, p Principal, prefs Preferences) error {
	if err := p.Require(PermPreferencesWrite); err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(prefs, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: preferences must be a JSON object", ErrInvalidInput)
	}
	return s.store.Preferences(ctx).Put(ctx, p.ID(), prefs)
}

// RecordAction appends a client-reported action on behalf of the principal.
func (s *Service) RecordAction(ctx context.Context, p Principal, action, resource, details string) error {
	if err := p.Require(PermAuditWrite); err != nil {
		return err
	}
	action = strings.TrimSpace(action)
	resource = strings.TrimSpace(resource)
	if action == "" || len(action) > maxAuditField || len(resource) > maxAuditField {
		return fmt.Errorf("%w: action is required and action/resource are limited to %d bytes", ErrInvalidInput, maxAuditField)
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID:       ptr(p.ID()),
		ActorUsername: p.Username(),
		Action:        action,
		Resource:      resource,
		Details:       truncate(details, maxAuditDetails),
	})
	return nil
}

// AuditLog returns up to limit entries newest first (admin only). Non-positive limits use
// the default; large ones are capped.
func (s *Service) AuditLog(ctx context.Context, p Principal, limit int) ([]*AuditEntry, error) {
	if err := p.Require(PermAuditRead); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	return s.store.Audit(ctx).List(ctx, limit)
}

func (s *Service) event(name string, err error) {
	obs.RecordAuthEvent(name, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotApproved):
		return "not_approved"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "error"
	}
}

func accountResource(a *Account) string {
	return "account:" + a.Username
}

func idResource(kind string, id int64) string {
	return kind + ":" + strconv.FormatInt(id, 10)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type storeAuditor struct {
	store  Store
	logger *zap.Logger
}

func (a storeAuditor) Record(ctx context.Context, entry AuditEntry) {
	if err := a.store.Audit(ctx).Append(ctx, &entry); err != nil {
		a.logger.Warn("audit_append_failed", zap.String("action", entry.Action), zap.Error(err))
	}
}
