package audit

import (
	"strings"

	"opsconsole.dev/internal/auth"
)

// Filter narrows an audit listing at read time. Username, Action and Resource match
// exactly (case-insensitive); Query is a substring match over every text field.
type Filter struct {
	Query    string
	Username string
	Action   string
	Resource string
}

// Empty reports whether the filter keeps everything.
func (f Filter) Empty() bool {
	return f.Query == "" && f.Username == "" && f.Action == "" && f.Resource == ""
}

// Match reports whether e passes the filter.
func (f Filter) Match(e *auth.AuditEntry) bool {
	if f.Username != "" && !strings.EqualFold(e.ActorUsername, f.Username) {
		return false
	}
	if f.Action != "" && !strings.EqualFold(e.Action, f.Action) {
		return false
	}
	if f.Resource != "" && !strings.EqualFold(e.Resource, f.Resource) {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	for _, field := range []string{e.ActorUsername, e.Action, e.Resource, e.Details} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Apply returns the entries that pass, preserving order.
func (f Filter) Apply(entries []*auth.AuditEntry) []*auth.AuditEntry {
	f.Query = strings.TrimSpace(f.Query)
	if f.Empty() {
		return entries
	}
	out := make([]*auth.AuditEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}
