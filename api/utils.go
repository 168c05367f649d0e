package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"warden/util"

	"go.uber.org/zap"
)

// errorResponse is the JSON body of every error
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Warnf("Failed to encode response: %v", err)
	}
}

// writeError logs the full error and sends only message to the client
func writeError(w http.ResponseWriter, status int, message string, err error, logger *zap.SugaredLogger, details ...string) {
	if logger != nil {
		if err != nil {
			logger.Warnw(message, "error", util.SanitizeError(err), "status_code", status)
		} else {
			logger.Debugw(message, "status_code", status)
		}
	}
	writeJSON(w, status, errorResponse{Error: message, Details: details}, nil)
}

// readBody reads at most limit bytes, answering 413 when the body is larger
func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.BodyLimit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body", err, a.logger)
		return nil, false
	}
	return data, true
}

// decodeValidated checks data against the named schema and decodes it into dst
func (a *API) decodeValidated(w http.ResponseWriter, schema string, data []byte, dst interface{}) bool {
	if problems, err := a.schemas.validate(schema, data); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		return false
	} else if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Request does not match %s schema", schema), nil, a.logger, problems...)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		return false
	}
	return true
}
