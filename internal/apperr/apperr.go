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

// Package apperr defines the failure kinds shared by every layer of the
// relay. Adapters return *Error values carrying enough detail to pick an
// HTTP status; only the webhook layer turns them into responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindConfiguration
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindConfiguration:
		return "configuration"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Named failures. Wrap them with one of the constructors below so callers
// can match with errors.Is and the handler can still classify the kind.
var (
	ErrInvalidAddress          = errors.New("invalid address")
	ErrMalformedInboundPayload = errors.New("malformed inbound payload")
	ErrThreadNotFound          = errors.New("thread not found")
	ErrSessionNotFound         = errors.New("session not found")
	ErrLeadNotFound            = errors.New("lead not found")
	ErrInvalidScore            = errors.New("invalid score")
	ErrStaleSession            = errors.New("session modified concurrently")
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "dispatch.inbound"
	Msg  string // user-visible message

	// Upstream detail, set for KindUpstream when the service reported it.
	Service string
	Status  int
	Code    string

	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a malformed or missing field.
func Validation(op string, cause error, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg, Err: cause}
}

// Validationf is Validation with a formatted message and no named cause.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a lookup miss.
func NotFound(op string, cause error, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg, Err: cause}
}

// Conflict reports a conditional write that lost against a concurrent writer.
func Conflict(op, msg string) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg, Err: ErrStaleSession}
}

// Configuration reports missing credentials or settings.
func Configuration(op, msg string) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: msg}
}

// Upstream reports a failure of the assistant service or the email transport.
func Upstream(op, service string, status int, code string, cause error) *Error {
	msg := fmt.Sprintf("%s request failed", service)
	if cause != nil {
		msg = fmt.Sprintf("%s request failed: %v", service, cause)
	}
	return &Error{Kind: KindUpstream, Op: op, Msg: msg, Service: service, Status: status, Code: code, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a failure to the status code returned to the webhook sender.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the message safe to show the caller. Unclassified errors
// collapse to a generic message so internals do not leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	return "internal server error"
}
