package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
)

// respondJSON writes data as a JSON body with the given status, following the teacher's
// respondJSON/respondError split (set Content-Type, encode, log encode
// failures — never attempt to recover a half-written response).
func respondJSON(w http.ResponseWriter, log *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("failed to encode response body", zap.Error(err))
	}
}

// respondError maps err to an HTTP status via its cperr.Kind and writes a
// JSON error body carrying that kind as an error_code, the way the teacher's
// respondError carries its ERR_%d code.
func respondError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := cperr.KindOf(err)
	status := statusForKind(kind)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Kind", string(kind))
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error":      err.Error(),
		"error_code": kind,
		"retryable":  cperr.IsRetryable(err),
	}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Warn("failed to encode error body", zap.Error(encErr))
	}
}

// statusForKind maps the control-plane error taxonomy onto HTTP statuses.
func statusForKind(kind cperr.Kind) int {
	switch kind {
	case cperr.KindValidation:
		return http.StatusBadRequest
	case cperr.KindPolicy:
		return http.StatusForbidden
	case cperr.KindFrozen:
		return http.StatusLocked
	case cperr.KindNotFound:
		return http.StatusNotFound
	case cperr.KindConflict:
		return http.StatusConflict
	case cperr.KindAuditIntegrity:
		return http.StatusInternalServerError
	case cperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes r's body into dst, returning a ValidationError on any
// failure so handlers don't need their own JSON-specific error path.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return cperr.Validation("malformed request body: %v", err)
	}
	return nil
}
