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

// Package identity turns contact references into canonical identity tokens
// and pulls addresses and message ids out of raw email headers.
package identity

import (
	"regexp"
	"strings"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/models"
)

// Known channels.
const (
	ChannelEmail    = "email"
	ChannelPhone    = "phone"
	ChannelWhatsApp = "whatsapp"
)

var (
	angleAddr  = regexp.MustCompile(`<([^>]+)>`)
	phoneNoise = regexp.MustCompile(`[\s().-]`)
)

// New builds the identity for channel and address. Email addresses are
// lower-cased; phone numbers lose formatting characters.
func New(channel, address string) (models.Identity, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	address = normalize(channel, address)

	if channel == "" || strings.Contains(channel, ":") {
		return "", apperr.Validation("identity.new", apperr.ErrInvalidAddress, "channel is required")
	}
	if address == "" {
		return "", apperr.Validation("identity.new", apperr.ErrInvalidAddress, "address is required")
	}
	if strings.Contains(address, ":") {
		return "", apperr.Validationf("identity.new", "address %q must not contain ':'", address)
	}

	return models.Identity(channel + ":" + address), nil
}

// FromEmail is shorthand for New(ChannelEmail, address).
func FromEmail(address string) (models.Identity, error) {
	return New(ChannelEmail, address)
}

// Parse splits an identity token received from outside (e.g. an x-identity
// header). The whatsapp channel is folded onto phone with a leading '+'.
func Parse(token string) (channel, address string, err error) {
	ch, addr, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok {
		return "", "", apperr.Validationf("identity.parse",
			`invalid identity %q: use "email:<email>" or "phone:<phone>"`, token)
	}
	ch = strings.ToLower(strings.TrimSpace(ch))

	switch ch {
	case ChannelEmail, ChannelPhone:
	case ChannelWhatsApp:
		ch = ChannelPhone
		addr = strings.TrimSpace(addr)
		if addr != "" && !strings.HasPrefix(addr, "+") {
			addr = "+" + addr
		}
	default:
		return "", "", apperr.Validationf("identity.parse", "unsupported identity channel %q", ch)
	}

	addr = normalize(ch, addr)
	if addr == "" {
		return "", "", apperr.Validation("identity.parse", apperr.ErrInvalidAddress, "identity address is empty")
	}
	return ch, addr, nil
}

func normalize(channel, address string) string {
	address = strings.TrimSpace(address)
	switch channel {
	case ChannelEmail:
		return strings.ToLower(address)
	case ChannelPhone, ChannelWhatsApp:
		return phoneNoise.ReplaceAllString(address, "")
	}
	return address
}

// ExtractSenderAddress returns the address inside "Display Name <addr>", or
// the whole trimmed field when there are no angle brackets.
func ExtractSenderAddress(rawFrom string) string {
	if m := angleAddr.FindStringSubmatch(rawFrom); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(rawFrom)
}

// ExtractMessageID scans raw headers for Message-ID (any case) and returns
// its value without angle brackets.
func ExtractMessageID(rawHeaders string) (string, bool) {
	v, ok := HeaderValue(rawHeaders, "Message-ID")
	if !ok {
		return "", false
	}
	id := FirstAngleValue(v)
	return id, id != ""
}

// HeaderValue returns the value of the first header named name in a raw
// header block. Folded continuation lines are joined.
func HeaderValue(rawHeaders, name string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(rawHeaders, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		key, value, ok := strings.Cut(lines[i], ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), name) {
			continue
		}
		for i+1 < len(lines) && len(lines[i+1]) > 0 && (lines[i+1][0] == ' ' || lines[i+1][0] == '\t') {
			i++
			value += " " + strings.TrimSpace(lines[i])
		}
		return strings.TrimSpace(value), true
	}
	return "", false
}

// FirstAngleValue returns the first <...> token of a header value, or the
// trimmed value when it has none.
func FirstAngleValue(v string) string {
	if m := angleAddr.FindStringSubmatch(v); m != nil {
		return strings.TrimSpace(m[1])
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
