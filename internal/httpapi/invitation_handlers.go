package httpapi

import (
	"net/http"

	"opsconsole.dev/internal/auth"
)

type acceptInvitationRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	var in auth.InviteInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	issued, err := a.auth.Invite(r.Context(), principal(r), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      issued.Token,
		"expiresAt":  issued.ExpiresAt,
		"invitation": issued.Invitation,
	})
}

func (a *API) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	list, err := a.auth.ListInvitations(r.Context(), principal(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": list})
}

func (a *API) handleRevokeInvitation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.RevokeInvitation(r.Context(), principal(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.auth.AcceptInvitation(r.Context(), req.Token, req.Password)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"accountId": acct.ID})
}
