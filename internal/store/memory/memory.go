// Package memory is an in-process auth.Store for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/obs"
)

// Store keeps every table in maps guarded by one mutex, so each method is atomic.
type Store struct {
	mu       sync.Mutex
	logger   *zap.Logger
	auditErr error

	seq         int64
	accounts    map[int64]*auth.Account
	invitations map[int64]*auth.Invitation
	approvals   map[int64]*auth.ApprovalRequest
	audit       []*auth.AuditEntry
	sessions    map[string]*auth.Session
	prefs       map[int64]auth.Preferences
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

// WithAuditFailure makes every audit append fail with err.
func WithAuditFailure(err error) Option {
	return func(s *Store) { s.auditErr = err }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		logger:      obs.Logger(),
		accounts:    make(map[int64]*auth.Account),
		invitations: make(map[int64]*auth.Invitation),
		approvals:   make(map[int64]*auth.ApprovalRequest),
		sessions:    make(map[string]*auth.Session),
		prefs:       make(map[int64]auth.Preferences),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Accounts(context.Context) auth.AccountStore       { return accountStore{s} }
func (s *Store) Invitations(context.Context) auth.InvitationStore { return invitationStore{s} }
func (s *Store) Approvals(context.Context) auth.ApprovalStore     { return approvalStore{s} }
func (s *Store) Audit(context.Context) auth.AuditStore            { return auditStore{s} }
func (s *Store) Sessions(context.Context) auth.SessionStore       { return sessionStore{s} }
func (s *Store) Preferences(context.Context) auth.PreferenceStore { return preferenceStore{s} }

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// appendAuditLocked mirrors the savepoint behaviour of the SQL store: a failed append is
// logged and the surrounding mutation proceeds.
func (s *Store) appendAuditLocked(entry *auth.AuditEntry, actor *auth.Account) {
	if entry == nil {
		return
	}
	if actor != nil {
		if entry.ActorID == nil {
			id := actor.ID
			entry.ActorID = &id
		}
		if entry.ActorUsername == "" {
			entry.ActorUsername = actor.Username
		}
	}
	if err := s.insertAuditLocked(entry); err != nil {
		s.logger.Warn("audit_append_failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *Store) insertAuditLocked(entry *auth.AuditEntry) error {
	if s.auditErr != nil {
		return s.auditErr
	}
	if entry.ActorID != nil {
		if _, ok := s.accounts[*entry.ActorID]; !ok {
			return auth.ErrNotFound
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ID = s.nextID()
	cp := *entry
	cp.ActorID = clonePtr(entry.ActorID)
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Store) accountTakenLocked(username, email string) bool {
	for _, a := range s.accounts {
		if a.Username == username || a.Email == email {
			return true
		}
	}
	return false
}

func (s *Store) invitationHeldLocked(username, email string, now time.Time) bool {
	for _, inv := range s.invitations {
		if inv.Status != auth.InvitationPending || inv.Expired(now) {
			continue
		}
		if inv.Username == username || inv.Email == email {
			return true
		}
	}
	return false
}

type accountStore struct{ s *Store }

func (a accountStore) Create(_ context.Context, acct *auth.Account, entry *auth.AuditEntry) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountTakenLocked(acct.Username, acct.Email) {
		return auth.ErrConflict
	}
	acct.ID = s.nextID()
	s.accounts[acct.ID] = cloneAccount(acct)
	s.appendAuditLocked(entry, acct)
	return nil
}

func (a accountStore) Register(_ context.Context, acct *auth.Account, entry *auth.AuditEntry) (*auth.ApprovalRequest, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountTakenLocked(acct.Username, acct.Email) || s.invitationHeldLocked(acct.Username, acct.Email, acct.CreatedAt) {
		return nil, auth.ErrConflict
	}
	acct.ID = s.nextID()
	acct.Approved = false
	s.accounts[acct.ID] = cloneAccount(acct)
	req := &auth.ApprovalRequest{
		ID:            s.nextID(),
		AccountID:     acct.ID,
		Username:      acct.Username,
		Email:         acct.Email,
		RequestedRole: acct.Role,
		Status:        auth.ApprovalPending,
		CreatedAt:     acct.CreatedAt,
	}
	s.approvals[req.ID] = cloneApproval(req)
	s.appendAuditLocked(entry, acct)
	return req, nil
}

func (a accountStore) Find(_ context.Context, id int64) (*auth.Account, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (a accountStore) FindByUsername(_ context.Context, username string) (*auth.Account, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.Username == username {
			return cloneAccount(acct), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (a accountStore) List(context.Context) ([]*auth.Account, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, cloneAccount(acct))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a accountStore) MarkLogin(_ context.Context, id int64, at time.Time) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	acct.LastLoginAt = &at
	return nil
}

func (a accountStore) SetRole(_ context.Context, id int64, role auth.Role, entry *auth.AuditEntry) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	acct.Role = role
	s.appendAuditLocked(entry, nil)
	return nil
}

func (a accountStore) Delete(_ context.Context, id int64, entry *auth.AuditEntry) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.accounts, id)
	delete(s.prefs, id)

	kept := s.audit[:0]
	for _, e := range s.audit {
		if e.ActorID != nil && *e.ActorID == id {
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept

	for reqID, req := range s.approvals {
		if req.AccountID == id {
			delete(s.approvals, reqID)
			continue
		}
		if req.ReviewerID != nil && *req.ReviewerID == id {
			req.ReviewerID = nil
		}
	}
	for sessID, sess := range s.sessions {
		if sess.AccountID == id {
			delete(s.sessions, sessID)
		}
	}
	for _, inv := range s.invitations {
		if inv.InvitedBy != nil && *inv.InvitedBy == id {
			inv.InvitedBy = nil
		}
		if inv.AcceptedAccountID != nil && *inv.AcceptedAccountID == id {
			inv.AcceptedAccountID = nil
		}
	}
	for _, acct := range s.accounts {
		if acct.InvitedBy != nil && *acct.InvitedBy == id {
			acct.InvitedBy = nil
		}
	}
	s.appendAuditLocked(entry, nil)
	return nil
}

type invitationStore struct{ s *Store }

func (i invitationStore) Create(_ context.Context, inv *auth.Invitation, entry *auth.AuditEntry) error {
	s := i.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountTakenLocked(inv.Username, inv.Email) {
		return auth.ErrConflict
	}
	for _, other := range s.invitations {
		if other.TokenHash == inv.TokenHash {
			return auth.ErrConflict
		}
		if other.Status == auth.InvitationPending && (other.Username == inv.Username || other.Email == inv.Email) {
			return auth.ErrConflict
		}
	}
	inv.ID = s.nextID()
	s.invitations[inv.ID] = cloneInvitation(inv)
	s.appendAuditLocked(entry, nil)
	return nil
}

func (i invitationStore) Accept(_ context.Context, tokenHash, passwordHash string, now time.Time, entry *auth.AuditEntry) (*auth.Account, error) {
	s := i.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var inv *auth.Invitation
	for _, candidate := range s.invitations {
		if candidate.TokenHash == tokenHash && candidate.Status == auth.InvitationPending {
			inv = candidate
			break
		}
	}
	if inv == nil {
		return nil, auth.ErrNotFound
	}
	if inv.Expired(now) {
		return nil, auth.ErrExpired
	}
	if s.accountTakenLocked(inv.Username, inv.Email) {
		return nil, auth.ErrConflict
	}
	acct := &auth.Account{
		ID:           s.nextID(),
		Username:     inv.Username,
		Email:        inv.Email,
		PasswordHash: passwordHash,
		Role:         inv.Role,
		Approved:     true,
		InvitedBy:    clonePtr(inv.InvitedBy),
		CreatedAt:    now,
	}
	s.accounts[acct.ID] = cloneAccount(acct)
	inv.Status = auth.InvitationAccepted
	inv.AcceptedAccountID = clonePtr(&acct.ID)
	s.appendAuditLocked(entry, acct)
	return acct, nil
}

func (i invitationStore) Revoke(_ context.Context, id int64, entry *auth.AuditEntry) error {
	s := i.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.invitations, id)
	s.appendAuditLocked(entry, nil)
	return nil
}

func (i invitationStore) List(context.Context) ([]*auth.Invitation, error) {
	s := i.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Invitation, 0, len(s.invitations))
	for _, inv := range s.invitations {
		cp := cloneInvitation(inv)
		cp.InvitedByUsername = ""
		if inv.InvitedBy != nil {
			if issuer, ok := s.accounts[*inv.InvitedBy]; ok {
				cp.InvitedByUsername = issuer.Username
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	return out, nil
}

type approvalStore struct{ s *Store }

func (a approvalStore) Pending(context.Context) ([]*auth.ApprovalRequest, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.ApprovalRequest
	for _, req := range s.approvals {
		if req.Status == auth.ApprovalPending {
			out = append(out, cloneApproval(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (a approvalStore) Decide(_ context.Context, id int64, status auth.ApprovalStatus, reviewerID int64, at time.Time, entry *auth.AuditEntry) (*auth.ApprovalRequest, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if req.Status != auth.ApprovalPending {
		return nil, auth.ErrConflict
	}
	req.Status = status
	req.ReviewerID = &reviewerID
	req.ReviewedAt = &at
	if status == auth.ApprovalApproved {
		if acct, ok := s.accounts[req.AccountID]; ok {
			acct.Approved = true
		}
	}
	if entry != nil && entry.Details == "" {
		entry.Details = req.Username
	}
	s.appendAuditLocked(entry, nil)
	return cloneApproval(req), nil
}

type auditStore struct{ s *Store }

func (a auditStore) Append(_ context.Context, entry *auth.AuditEntry) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAuditLocked(entry)
}

func (a auditStore) List(_ context.Context, limit int) ([]*auth.AuditEntry, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.AuditEntry, 0, min(limit, len(s.audit)))
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.audit[i]
		cp.ActorID = clonePtr(s.audit[i].ActorID)
		out = append(out, &cp)
	}
	return out, nil
}

type sessionStore struct{ s *Store }

func (ss sessionStore) Create(_ context.Context, sess *auth.Session) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[sess.AccountID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return auth.ErrConflict
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (ss sessionStore) Find(_ context.Context, id string) (*auth.Session, error) {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *sess
	cp.RevokedAt = clonePtr(sess.RevokedAt)
	return &cp, nil
}

func (ss sessionStore) Revoke(_ context.Context, id string, at time.Time, entry *auth.AuditEntry) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if sess.RevokedAt == nil {
		sess.RevokedAt = &at
	}
	s.appendAuditLocked(entry, nil)
	return nil
}

type preferenceStore struct{ s *Store }

func (p preferenceStore) Get(_ context.Context, accountID int64) (auth.Preferences, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs, ok := s.prefs[accountID]
	if !ok {
		return auth.Preferences(`{}`), nil
	}
	return append(auth.Preferences(nil), prefs...), nil
}

func (p preferenceStore) Put(_ context.Context, accountID int64, prefs auth.Preferences) error {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return auth.ErrNotFound
	}
	s.prefs[accountID] = append(auth.Preferences(nil), prefs...)
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAccount(a *auth.Account) *auth.Account {
	cp := *a
	cp.InvitedBy = clonePtr(a.InvitedBy)
	cp.LastLoginAt = clonePtr(a.LastLoginAt)
	return &cp
}

func cloneInvitation(i *auth.Invitation) *auth.Invitation {
	cp := *i
	cp.InvitedBy = clonePtr(i.InvitedBy)
	cp.AcceptedAccountID = clonePtr(i.AcceptedAccountID)
	return &cp
}

func cloneApproval(r *auth.ApprovalRequest) *auth.ApprovalRequest {
	cp := *r
	cp.ReviewerID = clonePtr(r.ReviewerID)
	cp.ReviewedAt = clonePtr(r.ReviewedAt)
	return &cp
}
