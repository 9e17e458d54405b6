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
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/dispatch"
	"github.com/leadrelay/orchestrator/internal/logger"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-Id"

// maxBodyBytes bounds request bodies, including multipart inbound email.
const maxBodyBytes = 25 << 20

func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logger.WithLogFields(r.Context(), logger.LogFields{RequestID: id, Route: r.URL.Path})
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		slog.DebugContext(ctx, "request received", "method", r.Method)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withRecover(development bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.ErrorContext(r.Context(), "handler panicked", "panic", rec)
				body := envelope{"success": false, "error": "internal server error"}
				if development {
					body["details"] = envelope{"panic": fmt.Sprint(rec)}
				}
				writeJSON(w, http.StatusInternalServerError, body)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// signed rejects requests whose signature does not match, when signature
// validation is enabled. The body is restored for the wrapped handler.
func (h *Handler) signed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.opts.ValidateSignatures {
			next(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{"success": false, "error": "could not read request body"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		fullURL := dispatch.CallbackURL(h.opts.PublicDomain, r.URL.RequestURI())
		sig := r.Header.Get(assistant.SignatureHeader)

		var ok bool
		if isJSON(r) {
			ok = assistant.ValidateBodySignature(h.opts.AuthToken, fullURL, body, sig)
		} else {
			params, err := url.ParseQuery(string(body))
			ok = err == nil && assistant.ValidateFormSignature(h.opts.AuthToken, fullURL, params, sig)
		}
		if !ok {
			slog.WarnContext(r.Context(), "request signature mismatch")
			writeJSON(w, http.StatusForbidden, envelope{"success": false, "error": "invalid request signature"})
			return
		}
		next(w, r)
	})
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func isJSON(r *http.Request) bool {
	mt := mediaType(r)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
