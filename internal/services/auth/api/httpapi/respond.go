package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
)

type errorResponse struct {
	Error    string            `json:"error"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()

	response := errorResponse{
		Error:   string(code),
		Message: "internal error",
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		response.Message = appErr.Message
		response.Metadata = appErr.Metadata
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "code", string(code))
		response.Message = "internal error"
		response.Metadata = nil
	}
	s.writeJSON(w, status, response)
}

// writeVerifyError renders code-check failures with the verified flag the
// endpoint's clients read. Server faults fall through to the generic shape.
func (s *Server) writeVerifyError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.writeError(w, err)
		return
	}

	response := map[string]any{
		"verified": false,
		"error":    string(code),
		"message":  "",
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		response["message"] = appErr.Message
		if len(appErr.Metadata) > 0 {
			response["metadata"] = appErr.Metadata
		}
	}
	s.writeJSON(w, status, response)
}

func decodeJSON(r *http.Request, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "malformed request body")
	}
	return nil
}
