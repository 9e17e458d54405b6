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

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/config"
	"github.com/leadrelay/orchestrator/internal/identity"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/providers"
	"github.com/leadrelay/orchestrator/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the lead store schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Provider != "postgres" {
			return apperr.Configuration("leadctl.migrate", "migrate needs storage.provider postgres")
		}
		pg, err := store.Connect(cmd.Context(), cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.Migrate(cmd.Context()); err != nil {
			return err
		}
		slog.Info("schema up to date")
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := providers.NewLeadStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer s.Close()

		f := store.SessionFilter{}
		f.Limit, _ = cmd.Flags().GetInt("limit")
		if raw, _ := cmd.Flags().GetString("identity"); raw != "" {
			if f.Identity, err = parseIdentity(raw); err != nil {
				return err
			}
		}

		sessions, err := s.ListSessions(cmd.Context(), f)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sessions)
	},
}

var conversationCmd = &cobra.Command{
	Use:   "conversation <session-id>",
	Short: "Show an assistant session's messages, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := assistant.New(cmd.Context(), assistantConfig(cfg.Assistant))
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		msgs, err := client.ListSessionMessages(cmd.Context(), models.ParseSessionRef(args[0]).AssistantID(), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), msgs)
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <identity>",
	Short: "Find the lead for an identity such as email:jane@x.com",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := providers.NewLeadStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := parseIdentity(args[0])
		if err != nil {
			return err
		}
		var email, phone string
		if id.Channel() == identity.ChannelEmail {
			email = id.Address()
		} else {
			phone = id.Address()
		}

		lead, err := s.FindLead(cmd.Context(), email, phone)
		if err != nil {
			return err
		}
		if lead == nil {
			return fmt.Errorf("no lead found for %s", id)
		}
		return printJSON(cmd.OutOrStdout(), lead)
	},
}

var sendEmailCmd = &cobra.Command{
	Use:   "send-email",
	Short: "Send an email through the outbound gate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		to, _ := cmd.Flags().GetString("to")
		body, _ := cmd.Flags().GetString("body")
		subject, _ := cmd.Flags().GetString("subject")

		id, err := identity.FromEmail(identity.ExtractSenderAddress(to))
		if err != nil {
			return err
		}

		s, err := providers.NewLeadStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer s.Close()
		transport, err := providers.NewEmailTransport(cfg.Email)
		if err != nil {
			return err
		}

		res, err := outbound.NewGate(s, transport, cfg.Email.DefaultSubject).Send(cmd.Context(), outbound.Request{
			Identity: id,
			Body:     body,
			Subject:  subject,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, sessionsCmd, conversationCmd, lookupCmd, sendEmailCmd)

	sessionsCmd.Flags().String("identity", "", "only sessions of this identity")
	sessionsCmd.Flags().Int("limit", store.DefaultListLimit, "maximum sessions to list")

	conversationCmd.Flags().Int("limit", 50, "maximum messages to show")

	sendEmailCmd.Flags().String("to", "", "recipient address")
	sendEmailCmd.Flags().String("body", "", "email body")
	sendEmailCmd.Flags().String("subject", "", "subject (default from configuration)")
	_ = sendEmailCmd.MarkFlagRequired("to")
	_ = sendEmailCmd.MarkFlagRequired("body")
}

func parseIdentity(raw string) (models.Identity, error) {
	ch, addr, err := identity.Parse(raw)
	if err != nil {
		return "", err
	}
	return identity.New(ch, addr)
}

func assistantConfig(c config.AssistantConfig) assistant.Config {
	return assistant.Config{
		BaseURL:    c.BaseURL,
		AccountSID: c.AccountSID,
		AuthToken:  c.AuthToken,
		Timeout:    c.Timeout,
		OAuth: assistant.OAuthConfig{
			ClientID:     c.OAuth.ClientID,
			ClientSecret: c.OAuth.ClientSecret,
			TokenURL:     c.OAuth.TokenURL,
			Scopes:       c.OAuth.Scopes,
		},
	}
}
