// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
)

// NewRootCmd creates the root command with default dependencies.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&Deps{})
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - credential checks, lockout and sessions",
		Long: `authcore verifies passwords, throttles sign-in abuse with per-source
rate limits and per-account lockout, and issues and validates sessions.`,
		SilenceUsage: true,
	}

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newIdentityCmd(deps))
	cmd.AddCommand(newSignInCmd(deps))
	cmd.AddCommand(newSessionCmd(deps))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newServeCmd(deps))

	return cmd
}
