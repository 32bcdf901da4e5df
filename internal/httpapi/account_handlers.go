package httpapi

import (
	"encoding/json"
	"net/http"

	"opsconsole.dev/internal/audit"
)

type decideRequest struct {
	Status string `json:"status"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type logActionRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Details  string `json:"details"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListAccounts(r.Context(), principal(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.DeleteAccount(r.Context(), principal(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.auth.ChangeRole(r.Context(), principal(r), id, req.Role)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	list, err := a.auth.PendingApprovals(r.Context(), principal(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (a *API) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req decideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decided, err := a.auth.Decide(r.Context(), principal(r), id, req.Status)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (a *API) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := a.auth.Preferences(r.Context(), principal(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (a *API) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs json.RawMessage
	if err := decodeJSON(r, &prefs); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.SavePreferences(r.Context(), principal(r), prefs); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (a *API) handleLogAction(w http.ResponseWriter, r *http.Request) {
	var req logActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.RecordAction(r.Context(), principal(r), req.Action, req.Resource, req.Details); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (a *API) handleUserLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
		return
	}
	entries, err := a.auth.AuditLog(r.Context(), principal(r), limit)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	filter := audit.Filter{
		Query:    q.Get("q"),
		Username: q.Get("username"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": filter.Apply(entries)})
}
