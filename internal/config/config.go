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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/leadrelay/orchestrator/internal/apperr"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all configuration for the relay.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Email     EmailConfig     `yaml:"email"`
	Assistant AssistantConfig `yaml:"assistant"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
	// PublicDomain is the host assistants call back on, e.g. "relay.example.com".
	PublicDomain string `yaml:"public_domain"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Provider    string `yaml:"provider"` // "postgres" or "memory"
	DatabaseURL string `yaml:"database_url"`
}

// RedisConfig enables the dedup guard and the event queue. An empty URL
// disables both.
type RedisConfig struct {
	URL         string        `yaml:"url"`
	EventsQueue string        `yaml:"events_queue"`
	DedupTTL    time.Duration `yaml:"dedup_ttl"`
}

// EmailConfig selects the outbound transport.
type EmailConfig struct {
	Provider       string         `yaml:"provider"` // "sendgrid", "mailgun" or "smtp"
	Sender         string         `yaml:"sender"`
	DefaultSubject string         `yaml:"default_subject"`
	SendGrid       SendGridConfig `yaml:"sendgrid"`
	Mailgun        MailgunConfig  `yaml:"mailgun"`
	SMTP           SMTPConfig     `yaml:"smtp"`
}

type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
}

type MailgunConfig struct {
	Domain  string `yaml:"domain"`
	APIKey  string `yaml:"api_key"`
	Region  string `yaml:"region"`
	APIBase string `yaml:"api_base"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Security string `yaml:"security"`
}

// AssistantConfig holds assistant service credentials and assistant ids.
type AssistantConfig struct {
	BaseURL    string        `yaml:"base_url"`
	AccountSID string        `yaml:"account_sid"`
	AuthToken  string        `yaml:"auth_token"`
	Timeout    time.Duration `yaml:"timeout"`
	OAuth      OAuthConfig   `yaml:"oauth"`
	IDs        AssistantIDs  `yaml:"ids"`
}

type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// AssistantIDs names the assistants the relay talks to. Only Primary is
// required; the other flows report a configuration error when theirs is
// missing.
type AssistantIDs struct {
	Primary    string `yaml:"primary"`
	Extraction string `yaml:"extraction"`
	Rep        string `yaml:"rep"`
	Manager    string `yaml:"manager"`
}

type WebhookConfig struct {
	ValidateSignatures bool `yaml:"validate_signatures"`
}

// Defaults.
const (
	DefaultPort             = 8080
	DefaultSubject          = "Exciting New Homes, Just for You"
	DefaultEventsQueue      = "leadrelay:events"
	DefaultDedupTTL         = 5 * time.Minute
	DefaultAssistantTimeout = 10 * time.Second
)

// Load reads configuration from the file at CONFIG_PATH (default
// config.yaml, with env var expansion) and fills gaps from the environment.
// In development a .env file is loaded first. A missing default file is not
// an error; a missing CONFIG_PATH is.
func Load() (*Config, error) {
	if os.Getenv("LEADRELAY_ENV") == EnvDevelopment {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	path, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit {
		path = "config.yaml"
	}

	cfg, err := LoadFile(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return FromEnv(&Config{}), nil
	}
	return cfg, err
}

// LoadFile reads the YAML file at path, then applies environment fallbacks
// and defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	return FromEnv(&cfg), nil
}

// FromEnv fills every unset field of cfg from the environment or a default
// and returns cfg.
func FromEnv(cfg *Config) *Config {
	s := &cfg.Server
	s.Port = firstNonZero(s.Port, envOrDefaultInt("PORT", DefaultPort))
	s.Env = firstNonEmpty(s.Env, envOrDefault("LEADRELAY_ENV", EnvProduction))
	s.PublicDomain = firstNonEmpty(s.PublicDomain, os.Getenv("PUBLIC_DOMAIN"))

	st := &cfg.Storage
	st.Provider = strings.ToLower(firstNonEmpty(st.Provider, envOrDefault("STORAGE_PROVIDER", "postgres")))
	st.DatabaseURL = firstNonEmpty(st.DatabaseURL, os.Getenv("DATABASE_URL"))

	r := &cfg.Redis
	r.URL = firstNonEmpty(r.URL, os.Getenv("REDIS_URL"))
	r.EventsQueue = firstNonEmpty(r.EventsQueue, envOrDefault("EVENTS_QUEUE", DefaultEventsQueue))
	if r.DedupTTL == 0 {
		r.DedupTTL = envOrDefaultDuration("DEDUP_TTL", DefaultDedupTTL)
	}

	e := &cfg.Email
	e.Provider = strings.ToLower(firstNonEmpty(e.Provider, envOrDefault("EMAIL_PROVIDER", "sendgrid")))
	e.Sender = firstNonEmpty(e.Sender, os.Getenv("SENDER_EMAIL"))
	e.DefaultSubject = firstNonEmpty(e.DefaultSubject, envOrDefault("DEFAULT_SUBJECT", DefaultSubject))
	e.SendGrid.APIKey = firstNonEmpty(e.SendGrid.APIKey, os.Getenv("SENDGRID_API_KEY"))
	e.Mailgun.Domain = firstNonEmpty(e.Mailgun.Domain, os.Getenv("MAILGUN_DOMAIN"))
	e.Mailgun.APIKey = firstNonEmpty(e.Mailgun.APIKey, os.Getenv("MAILGUN_API_KEY"))
	e.Mailgun.Region = firstNonEmpty(e.Mailgun.Region, envOrDefault("MAILGUN_REGION", "us"))
	e.Mailgun.APIBase = firstNonEmpty(e.Mailgun.APIBase, os.Getenv("MAILGUN_API_BASE"))
	e.SMTP.Host = firstNonEmpty(e.SMTP.Host, os.Getenv("SMTP_HOST"))
	e.SMTP.Port = firstNonZero(e.SMTP.Port, envOrDefaultInt("SMTP_PORT", 587))
	e.SMTP.Username = firstNonEmpty(e.SMTP.Username, os.Getenv("SMTP_USERNAME"))
	e.SMTP.Password = firstNonEmpty(e.SMTP.Password, os.Getenv("SMTP_PASSWORD"))
	e.SMTP.Security = firstNonEmpty(e.SMTP.Security, envOrDefault("SMTP_SECURITY", "starttls"))

	a := &cfg.Assistant
	a.BaseURL = firstNonEmpty(a.BaseURL, os.Getenv("ASSISTANT_BASE_URL"))
	a.AccountSID = firstNonEmpty(a.AccountSID, os.Getenv("TWILIO_ACCOUNT_SID"))
	a.AuthToken = firstNonEmpty(a.AuthToken, os.Getenv("TWILIO_AUTH_TOKEN"))
	if a.Timeout == 0 {
		a.Timeout = envOrDefaultDuration("ASSISTANT_TIMEOUT", DefaultAssistantTimeout)
	}
	a.OAuth.ClientID = firstNonEmpty(a.OAuth.ClientID, os.Getenv("ASSISTANT_OAUTH_CLIENT_ID"))
	a.OAuth.ClientSecret = firstNonEmpty(a.OAuth.ClientSecret, os.Getenv("ASSISTANT_OAUTH_CLIENT_SECRET"))
	a.OAuth.TokenURL = firstNonEmpty(a.OAuth.TokenURL, os.Getenv("ASSISTANT_OAUTH_TOKEN_URL"))
	a.IDs.Primary = firstNonEmpty(a.IDs.Primary, os.Getenv("ASSISTANT_ID"))
	a.IDs.Extraction = firstNonEmpty(a.IDs.Extraction, os.Getenv("EXTRACT_ASSISTANT_ID"))
	a.IDs.Rep = firstNonEmpty(a.IDs.Rep, os.Getenv("REP_ASSISTANT_ID"))
	a.IDs.Manager = firstNonEmpty(a.IDs.Manager, os.Getenv("ASSISTANT_ID_MANAGER"))

	if v := os.Getenv("VALIDATE_SIGNATURES"); v != "" {
		cfg.Webhook.ValidateSignatures, _ = strconv.ParseBool(v)
	}
	return cfg
}

// IsDevelopment reports whether error details may be returned to callers.
func (c *Config) IsDevelopment() bool { return c.Server.Env == EnvDevelopment }

// Validate reports every missing required setting in one configuration error.
func (c *Config) Validate() error {
	var missing []string
	need := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	need(c.Server.PublicDomain != "", "server.public_domain")

	switch c.Storage.Provider {
	case "postgres":
		need(c.Storage.DatabaseURL != "", "storage.database_url")
	case "memory":
	default:
		return apperr.Configuration("config.validate", fmt.Sprintf("unknown storage provider %q", c.Storage.Provider))
	}

	need(c.Email.Sender != "" || (c.Email.Provider == "smtp" && c.Email.SMTP.Username != ""), "email.sender")
	switch c.Email.Provider {
	case "sendgrid":
		need(c.Email.SendGrid.APIKey != "", "email.sendgrid.api_key")
	case "mailgun":
		need(c.Email.Mailgun.Domain != "", "email.mailgun.domain")
		need(c.Email.Mailgun.APIKey != "", "email.mailgun.api_key")
	case "smtp":
		need(c.Email.SMTP.Host != "", "email.smtp.host")
	default:
		return apperr.Configuration("config.validate", fmt.Sprintf("unknown email provider %q", c.Email.Provider))
	}

	if c.Assistant.OAuth.ClientID != "" {
		need(c.Assistant.OAuth.ClientSecret != "", "assistant.oauth.client_secret")
		need(c.Assistant.OAuth.TokenURL != "", "assistant.oauth.token_url")
	} else {
		need(c.Assistant.AccountSID != "", "assistant.account_sid")
		need(c.Assistant.AuthToken != "", "assistant.auth_token")
	}
	need(c.Assistant.IDs.Primary != "", "assistant.ids.primary")

	if c.Webhook.ValidateSignatures && c.Assistant.AuthToken == "" {
		missing = append(missing, "assistant.auth_token (required by webhook.validate_signatures)")
	}

	if len(missing) > 0 {
		return apperr.Configuration("config.validate", "missing configuration: "+strings.Join(missing, ", "))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
