// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newSessionCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Validate, refresh and revoke sessions",
	}
	cmd.AddCommand(newSessionValidateCmd(deps))
	cmd.AddCommand(newSessionRefreshCmd(deps))
	cmd.AddCommand(newSessionRevokeCmd(deps))
	cmd.AddCommand(newSessionSweepCmd(deps))
	return cmd
}

// sessionFlags identify one session of one identity.
type sessionFlags struct {
	identity string
	session  string
}

func (f *sessionFlags) bind(cmd *cobra.Command, sessionRequired bool) {
	cmd.Flags().StringVar(&f.identity, "identity", "", "identity ID")
	cmd.Flags().StringVar(&f.session, "session", "", "session ID")
	_ = cmd.MarkFlagRequired("identity")
	if sessionRequired {
		_ = cmd.MarkFlagRequired("session")
	}
}

func (f *sessionFlags) parse() (identityID, sessionID ulid.ULID, err error) {
	identityID, err = parseID("identity", f.identity)
	if err != nil {
		return ulid.ULID{}, ulid.ULID{}, err
	}
	if f.session == "" {
		return identityID, ulid.ULID{}, nil
	}
	sessionID, err = parseID("session", f.session)
	if err != nil {
		return ulid.ULID{}, ulid.ULID{}, err
	}
	return identityID, sessionID, nil
}

func newSessionValidateCmd(deps *Deps) *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Resolve an access token to its identity",
		Long:  `Validate an access token read from the first line of stdin.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identityID, sessionID, err := flags.parse()
			if err != nil {
				return err
			}
			token, err := newSecretReader(cmd.InOrStdin()).next("access token")
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

			res := a.validator.Validate(ctx, identityID, sessionID, token)
			if !res.OK() {
				return res.Err()
			}
			return writeJSON(cmd.OutOrStdout(), viewIdentity(res.Data()))
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func newSessionRefreshCmd(deps *Deps) *cobra.Command {
	var (
		flags    sessionFlags
		sourceIP string
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Trade a reset token for a new session",
		Long: `Replace a session with a new one. The reset token is read from the first
line of stdin. The old session stops working.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identityID, sessionID, err := flags.parse()
			if err != nil {
				return err
			}
			token, err := newSecretReader(cmd.InOrStdin()).next("reset token")
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

			res := a.sessions.Refresh(ctx, identityID, sessionID, token, sourceIP)
			if !res.OK() {
				return res.Err()
			}
			return writeJSON(cmd.OutOrStdout(), viewSession(res.Data()))
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().StringVar(&sourceIP, "source-ip", "", "client address recorded on the new session")
	return cmd
}

func newSessionRevokeCmd(deps *Deps) *cobra.Command {
	var (
		flags sessionFlags
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Sign out one session or every session of an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (flags.session != "") {
				return oops.Code("INVALID_ARGS").Errorf("pass exactly one of --session or --all")
			}
			identityID, sessionID, err := flags.parse()
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

			if all {
				res := a.sessions.SignOutAll(ctx, identityID)
				if !res.OK() {
					return res.Err()
				}
				return writeJSON(cmd.OutOrStdout(), countView{Count: res.Data()})
			}
			if res := a.sessions.SignOut(ctx, identityID, sessionID); !res.OK() {
				return res.Err()
			}
			return writeJSON(cmd.OutOrStdout(), countView{Count: 1})
		},
	}
	flags.bind(cmd, false)
	cmd.Flags().BoolVar(&all, "all", false, "revoke every session of the identity")
	return cmd
}

func newSessionSweepCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions that can no longer be used or refreshed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, deps)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, defaultCommandTimeout)
			defer cancel()

			res := a.sessions.Sweep(ctx)
			if !res.OK() {
				return res.Err()
			}
			return writeJSON(cmd.OutOrStdout(), countView{Count: res.Data()})
		},
	}
}
