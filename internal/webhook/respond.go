// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leadrelay/orchestrator/internal/apperr"
)

// envelope is the body of every response: success, an optional message or
// error, and the payload's fields spread alongside.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// writeSuccess responds 200 with data's fields spread into the envelope.
// data may be a map or any JSON-encodable struct.
func writeSuccess(w http.ResponseWriter, message string, data any) {
	body := envelope{}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			if err := json.Unmarshal(raw, &body); err != nil {
				body = envelope{"data": data}
			}
		}
	}
	body["success"] = true
	if message == "" {
		message = "Success"
	}
	body["message"] = message
	writeJSON(w, http.StatusOK, body)
}

// writeError maps err to its status and a caller-safe message. Internal
// detail is included only in development.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := envelope{
		"success": false,
		"error":   apperr.Message(err),
	}

	if h.opts.Development {
		details := envelope{
			"kind":  apperr.KindOf(err).String(),
			"cause": err.Error(),
		}
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindUpstream {
			details["service"] = ae.Service
			details["status"] = ae.Status
			details["code"] = ae.Code
		}
		body["details"] = details
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "status", status, "error", err)
	} else {
		slog.WarnContext(r.Context(), "request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}
