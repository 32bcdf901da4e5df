package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/resources"
)

// handleError maps domain sentinels to status codes. Anything unrecognised is a 500 whose
// cause only reaches the log.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrConflict),
		errors.Is(err, auth.ErrExpired),
		errors.Is(err, resources.ErrInvalidRequest),
		errors.Is(err, resources.ErrUnsupportedAction):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid username or password")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrNotApproved):
		writeError(w, r, http.StatusForbidden, "account is awaiting approval")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound),
		errors.Is(err, resources.ErrNotFound),
		errors.Is(err, resources.ErrUnknownRegion),
		errors.Is(err, resources.ErrUnknownKind):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, resources.ErrUpstream),
		errors.Is(err, resources.ErrProviderUnavailable):
		a.logger.Warn("resource_action_failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "cloud provider request failed")
	default:
		a.logger.Error("request_failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
