// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/authcore/internal/auth"
)

const defaultCommandTimeout = 30 * time.Second

func newIdentityCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage identities",
	}
	cmd.AddCommand(newIdentityCreateCmd(deps))
	cmd.AddCommand(newIdentitySeedCmd(deps))
	cmd.AddCommand(newIdentityPasswdCmd(deps))
	return cmd
}

func newIdentityCreateCmd(deps *Deps) *cobra.Command {
	var email, displayName string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an identity",
		Long:  `Register an identity. The password is read from the first line of stdin.`,
		Args:  cobra.NoArgs,
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

			res := a.accounts.Register(ctx, email, displayName, password)
			if !res.OK() {
				return res.Err()
			}
			return writeJSON(cmd.OutOrStdout(), viewIdentity(res.Data()))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("display-name")
	return cmd
}

// seedIdentity is one entry of a seed file.
type seedIdentity struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
	Password    string `yaml:"password"`
}

type seedFile struct {
	Identities []seedIdentity `yaml:"identities"`
}

type seedReport struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

func newIdentitySeedCmd(deps *Deps) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register identities from a YAML file",
		Long: `Register every identity listed in a YAML file of the form:

  identities:
    - email: admin@example.com
      display_name: Admin
      password: change-me-please

Identities whose email is already registered are skipped, so the command is
safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeds, err := readSeedFile(path)
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

			report := seedReport{Created: []string{}, Skipped: []string{}}
			for i, s := range seeds {
				res := a.accounts.Register(ctx, s.Email, s.DisplayName, s.Password)
				switch {
				case res.OK():
					report.Created = append(report.Created, res.Data().Email)
				case res.Code() == auth.CodeIdentityDuplicate:
					report.Skipped = append(report.Skipped, auth.NormalizeEmail(s.Email))
				default:
					return oops.With("entry", i).With("email", s.Email).Wrap(res.Err())
				}
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "seed file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSeedFile(path string) ([]seedIdentity, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, oops.Code("SEED_READ_FAILED").With("path", path).Wrap(err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Code("SEED_INVALID").With("path", path).Wrap(err)
	}
	return f.Identities, nil
}

func newIdentityPasswdCmd(deps *Deps) *cobra.Command {
	var identity, sourceIP string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change a password and revoke every session",
		Long: `Change the password of an identity. Stdin holds the current password on
the first line and the new password on the second.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identityID, err := parseID("identity", identity)
			if err != nil {
				return err
			}
			secrets := newSecretReader(cmd.InOrStdin())
			current, err := secrets.next("current password")
			if err != nil {
				return err
			}
			next, err := secrets.next("new password")
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

			if res := a.accounts.ChangePassword(ctx, identityID, current, next, sourceIP); !res.OK() {
				return res.Err()
			}
			cmd.Println("Password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "identity ID")
	cmd.Flags().StringVar(&sourceIP, "source-ip", "", "client address charged against the rate limit")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}
