// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
)

func newSignInCmd(deps *Deps) *cobra.Command {
	var email, sourceIP, userAgent string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and print a new session",
		Long: `Check a password and open a session. The password is read from the first
line of stdin. The printed tokens are shown only once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := newSecretReader(cmd.InOrStdin()).next("password")
			if err != nil {
				return err
			}

			a, err := openApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, defaultCommandTimeout)
			defer cancel()
			ctx = auth.ContextWithUserAgent(ctx, userAgent)

			res := a.signIn.Execute(ctx, email, password, sourceIP)
			if !res.OK() {
				return res.Err()
			}
			return writeJSON(cmd.OutOrStdout(), viewSession(res.Data()))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&sourceIP, "source-ip", "", "client address used for rate limiting")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "client user agent recorded on the session")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
