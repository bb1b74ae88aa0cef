// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
)

// loadConfig resolves the configuration for cmd and sets up its logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.Setup("authcore", version, cfg.LogFormat, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// openApp loads the configuration and builds the services. The caller must
// Close the returned app.
func openApp(cmd *cobra.Command, deps *Deps) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return buildApp(cmd.Context(), cfg, logger, deps, nil)
}

// secretReader reads one secret per line so secrets stay out of argv and
// shell history.
type secretReader struct {
	scanner *bufio.Scanner
}

func newSecretReader(r io.Reader) *secretReader {
	return &secretReader{scanner: bufio.NewScanner(r)}
}

// next returns the next line with its line ending removed.
func (s *secretReader) next(what string) (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", oops.Code("INPUT_READ_FAILED").With("input", what).Wrap(err)
		}
		return "", oops.Code("INPUT_MISSING").With("input", what).Errorf("expected %s on stdin", what)
	}
	return strings.TrimRight(s.scanner.Text(), "\r"), nil
}

// parseID parses a ULID flag value.
func parseID(flag, value string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(value)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ID").With("flag", flag).With("value", value).Wrap(err)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}

// commandContext bounds a one-shot command.
func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

type identityView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewIdentity(i *auth.Identity) identityView {
	return identityView{
		ID:          i.ID.String(),
		Email:       i.Email,
		DisplayName: i.DisplayName,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

type sessionView struct {
	Identity        identityView `json:"identity"`
	SessionID       string       `json:"session_id"`
	AccessToken     string       `json:"access_token"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
	ResetToken      string       `json:"reset_token"`
	ResetExpiresAt  time.Time    `json:"reset_expires_at"`
}

func viewSession(out *auth.SignInOutput) sessionView {
	return sessionView{
		Identity:        viewIdentity(out.Identity),
		SessionID:       out.SessionID.String(),
		AccessToken:     out.AccessToken,
		AccessExpiresAt: out.AccessExpiresAt,
		ResetToken:      out.ResetToken,
		ResetExpiresAt:  out.ResetExpiresAt,
	}
}

type countView struct {
	Count int64 `json:"count"`
}
