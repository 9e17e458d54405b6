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

// Package logger configures slog for the relay and enriches every record
// with request-scoped fields carried on the context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Setup installs the default logger: JSON in production, text at debug
// level in development.
func Setup(development bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, development)))
}

// NewHandler builds the relay's handler writing to w.
func NewHandler(w io.Writer, development bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if development {
		opts.Level = slog.LevelDebug
		return NewContextHandler(slog.NewTextHandler(w, opts))
	}
	return NewContextHandler(slog.NewJSONHandler(w, opts))
}

// ContextHandler adds the LogFields stored on the context to each record.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps h.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	f := GetLogFields(ctx)
	if f.RequestID != "" {
		r.AddAttrs(slog.String("request_id", f.RequestID))
	}
	if f.Route != "" {
		r.AddAttrs(slog.String("route", f.Route))
	}
	if f.Identity != "" {
		r.AddAttrs(slog.String("identity", f.Identity))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
