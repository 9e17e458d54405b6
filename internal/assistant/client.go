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

// Package assistant talks to the conversational AI assistant service. A
// message is submitted to an assistant and answered asynchronously: the
// assistant later POSTs its reply to the webhook URL given with the message.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/models"
)

const (
	// DefaultBaseURL is the assistant service API root.
	DefaultBaseURL = "https://assistants.twilio.com"
	// DefaultTimeout bounds every call to the service.
	DefaultTimeout = 10 * time.Second

	// ModeEmail asks the assistant to answer in email form.
	ModeEmail = "email"

	serviceName = "assistant"
)

// Config holds connection settings.
type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Timeout    time.Duration

	// OAuth switches to client-credentials auth when ClientID is set.
	OAuth OAuthConfig
}

// OAuthConfig holds client-credentials settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Message is a submission to an assistant.
type Message struct {
	Identity  models.Identity `json:"identity"`
	Body      string          `json:"body"`
	SessionID string          `json:"session_id,omitempty"`
	Webhook   string          `json:"webhook,omitempty"`
	Mode      string          `json:"mode,omitempty"`
}

// Reply is the synchronous acknowledgement of a submission.
type Reply struct {
	Status     string `json:"status"`
	SessionID  string `json:"session_id"`
	AccountSID string `json:"account_sid"`
	Body       string `json:"body"`
	Flagged    bool   `json:"flagged"`
	Aborted    bool   `json:"aborted"`
}

// SessionMessage is one entry of a session's history.
type SessionMessage struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Role        string    `json:"role"`
	Identity    string    `json:"identity"`
	DateCreated time.Time `json:"date_created"`
}

// Client calls the assistant service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a client. It fails with a configuration error when neither
// OAuth client credentials nor an account SID and auth token are set.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var hc *http.Client
	switch {
	case cfg.OAuth.ClientID != "":
		if cfg.OAuth.ClientSecret == "" || cfg.OAuth.TokenURL == "" {
			return nil, apperr.Configuration("assistant.new", "assistant oauth requires client_secret and token_url")
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		hc = cc.Client(ctx)
		hc.Timeout = cfg.Timeout
		slog.Info("assistant client using oauth client credentials", "token_url", cfg.OAuth.TokenURL)
	case cfg.AccountSID != "" && cfg.AuthToken != "":
		hc = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &basicAuthTransport{user: cfg.AccountSID, pass: cfg.AuthToken, next: http.DefaultTransport},
		}
	default:
		return nil, apperr.Configuration("assistant.new", "assistant credentials are not configured")
	}

	return NewWithHTTPClient(hc, cfg.BaseURL), nil
}

// NewWithHTTPClient wraps an already authenticated HTTP client.
func NewWithHTTPClient(hc *http.Client, baseURL string) *Client {
	return &Client{httpClient: hc, baseURL: strings.TrimRight(baseURL, "/")}
}

// SendMessage submits msg to the assistant and returns its acknowledgement.
// The real answer arrives later on msg.Webhook.
func (c *Client) SendMessage(ctx context.Context, assistantID string, msg Message) (*Reply, error) {
	if assistantID == "" {
		return nil, apperr.Configuration("assistant.send", "assistant id is not configured")
	}

	endpoint := fmt.Sprintf("%s/v1/Assistants/%s/Messages", c.baseURL, url.PathEscape(assistantID))
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal assistant message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var reply Reply
	if err := c.do(req, "assistant.send", &reply); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "assistant accepted message",
		"assistant_id", assistantID,
		"identity", msg.Identity,
		"session_id", reply.SessionID,
		"status", reply.Status,
	)
	return &reply, nil
}

// ListSessionMessages returns up to limit messages of a session, oldest first.
func (c *Client) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]SessionMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	endpoint := fmt.Sprintf("%s/v1/Sessions/%s/Messages?PageSize=%d", c.baseURL, url.PathEscape(sessionID), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var page struct {
		Messages []SessionMessage `json:"messages"`
	}
	if err := c.do(req, "assistant.list_messages", &page); err != nil {
		return nil, err
	}

	sort.SliceStable(page.Messages, func(i, j int) bool {
		return page.Messages[i].DateCreated.Before(page.Messages[j].DateCreated)
	})
	return page.Messages, nil
}

// apiError is the service's error body.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Upstream(op, serviceName, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Upstream(op, serviceName, resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		code := ""
		cause := fmt.Errorf("HTTP %d", resp.StatusCode)
		if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
			if ae.Code != 0 {
				code = fmt.Sprint(ae.Code)
			}
			cause = fmt.Errorf("HTTP %d: %s", resp.StatusCode, ae.Message)
		}
		return apperr.Upstream(op, serviceName, resp.StatusCode, code, cause)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Upstream(op, serviceName, resp.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type basicAuthTransport struct {
	user, pass string
	next       http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.user, t.pass)
	return t.next.RoundTrip(r)
}
