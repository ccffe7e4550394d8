package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is:
//   - logged server-side with the technical detail and the request ID
//   - mapped through core.MapError to a coded, user-facing message
//   - returned as JSON with a status code chosen by statusFor
//
// Row-level failures are not errors here: they travel in the import result.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form. A zero status is
// replaced by statusFor(err).
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request error",
			"path", r.URL.Path, "method", r.Method, "status", status, "error", err.Error(), "code", userMsg.Code)
	} else {
		logger.Warn("request rejected",
			"path", r.URL.Path, "method", r.Method, "status", status, "error", err.Error(), "code", userMsg.Code)
	}

	if errors.Is(err, core.ErrTooManyImports) {
		w.Header().Set("Retry-After", "30")
	}
	respondErrorJSON(w, userMsg, status)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor picks the HTTP status of an error by its code family.
func statusFor(err error) int {
	var unknown *core.UnknownEntityError
	switch {
	case errors.As(err, &unknown), errors.Is(err, core.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	}

	code := core.MapError(err).Code
	switch {
	case code == "UPL005", code == "DB006":
		return http.StatusGatewayTimeout
	case code == "UPL004":
		return 499 // client closed request
	case strings.HasPrefix(code, "TPL"), strings.HasPrefix(code, "IMP"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(code, "FILE"):
		return http.StatusBadRequest
	case code == "DB001", code == "DB002", code == "DB003":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
