package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"opsconsole.dev/internal/resources"
)

func resourceTarget(r *http.Request) (string, resources.Kind, error) {
	vars := mux.Vars(r)
	kind, err := resources.ParseKind(vars["kind"])
	if err != nil {
		return "", "", err
	}
	return vars["region"], kind, nil
}

func (a *API) handleListResources(w http.ResponseWriter, r *http.Request) {
	region, kind, err := resourceTarget(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	listing, err := a.resources.List(r.Context(), region, kind)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if listing.Resources == nil {
		listing.Resources = []resources.Resource{}
	}
	writeJSON(w, http.StatusOK, listing)
}

// handleResourceAction audits every attempt, successful or not.
func (a *API) handleResourceAction(w http.ResponseWriter, r *http.Request) {
	region, kind, err := resourceTarget(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req resources.ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p := principal(r)
	res, err := a.resources.Apply(r.Context(), region, kind, req)

	details := "ok"
	if err != nil {
		details = "failed: " + err.Error()
	} else if req.DesiredCount != nil {
		details = fmt.Sprintf("ok desiredCount=%d", *req.DesiredCount)
	}
	resource := fmt.Sprintf("%s/%s/%s", region, kind, req.ID)
	if auditErr := a.auth.RecordAction(r.Context(), p, "resource_"+string(req.Action), resource, details); auditErr != nil {
		a.logger.Warn("resource_action_unaudited", zap.String("resource", resource), zap.Error(auditErr))
	}

	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
