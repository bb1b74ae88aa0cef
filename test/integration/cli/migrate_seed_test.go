// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package cli_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

const seedYAML = `identities:
  - email: Admin@Example.com
    display_name: Admin
    password: change-me-please
  - email: ops@example.com
    display_name: Ops
    password: another-long-one
`

type seedReport struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

type signInOutput struct {
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	Identity    struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"identity"`
}

var _ = Describe("Migrate Command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		cleanupDatabase(ctx, env.pool)
	})

	It("creates the identity, session and lockout tables", func() {
		output, err := authcore(ctx, "", "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)
		Expect(output).To(ContainSubstring("Migrations applied"))

		for _, table := range []string{"identities", "sessions", "login_attempts"} {
			var exists bool
			err := env.pool.QueryRow(ctx,
				"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
			).Scan(&exists)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue(), "table %s missing", table)
		}
	})

	It("reports applied migrations and rolls them all back", func() {
		output, err := authcore(ctx, "", "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)

		output, err = authcore(ctx, "", "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), "migrate status failed: %s", output)
		Expect(output).To(ContainSubstring("(clean)"))
		Expect(output).To(ContainSubstring("[x] 000001_identities"))
		Expect(output).NotTo(ContainSubstring("[ ]"))

		output, err = authcore(ctx, "", "migrate", "down", "--all")
		Expect(err).NotTo(HaveOccurred(), "migrate down failed: %s", output)

		var exists bool
		err = env.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'identities')",
		).Scan(&exists)
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeFalse())
	})
})

var _ = Describe("Identity seeding", func() {
	var (
		ctx      context.Context
		seedPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		cleanupDatabase(ctx, env.pool)
		output, err := authcore(ctx, "", "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)

		seedPath = filepath.Join(GinkgoT().TempDir(), "seed.yaml")
		Expect(os.WriteFile(seedPath, []byte(seedYAML), 0o600)).To(Succeed())
	})

	It("is idempotent (running twice creates no duplicates)", func() {
		output, err := authcore(ctx, "", "identity", "seed", "--file", seedPath)
		Expect(err).NotTo(HaveOccurred(), "first seed failed: %s", output)
		var first seedReport
		Expect(json.Unmarshal([]byte(output), &first)).To(Succeed())
		Expect(first.Created).To(ConsistOf("admin@example.com", "ops@example.com"))

		output, err = authcore(ctx, "", "identity", "seed", "--file", seedPath)
		Expect(err).NotTo(HaveOccurred(), "second seed failed: %s", output)
		var second seedReport
		Expect(json.Unmarshal([]byte(output), &second)).To(Succeed())
		Expect(second.Created).To(BeEmpty())
		Expect(second.Skipped).To(ConsistOf("admin@example.com", "ops@example.com"))

		var count int
		Expect(env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count)).To(Succeed())
		Expect(count).To(Equal(2))
	})

	It("signs in a seeded identity and validates the session", func() {
		output, err := authcore(ctx, "", "identity", "seed", "--file", seedPath)
		Expect(err).NotTo(HaveOccurred(), "seed failed: %s", output)

		output, err = authcore(ctx, "change-me-please\n", "signin", "--email", "admin@example.com", "--source-ip", "10.9.0.1")
		Expect(err).NotTo(HaveOccurred(), "signin failed: %s", output)
		var session signInOutput
		Expect(json.Unmarshal([]byte(output), &session)).To(Succeed())
		Expect(session.Identity.Email).To(Equal("admin@example.com"))

		var digest string
		Expect(env.pool.QueryRow(ctx,
			"SELECT access_token_digest FROM sessions WHERE id = $1", session.SessionID,
		).Scan(&digest)).To(Succeed())
		Expect(digest).NotTo(Equal(session.AccessToken))

		output, err = authcore(ctx, session.AccessToken+"\n", "session", "validate",
			"--identity", session.Identity.ID, "--session", session.SessionID)
		Expect(err).NotTo(HaveOccurred(), "validate failed: %s", output)
		Expect(output).To(ContainSubstring("admin@example.com"))
	})

	It("rejects a wrong password", func() {
		output, err := authcore(ctx, "", "identity", "seed", "--file", seedPath)
		Expect(err).NotTo(HaveOccurred(), "seed failed: %s", output)

		output, err = authcore(ctx, "wrong password\n", "signin", "--email", "admin@example.com")
		Expect(err).To(HaveOccurred())
		Expect(output).To(ContainSubstring("invalid email or password"))
	})
})
