// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package auth_test

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/authtest"
	authpg "github.com/holomush/authcore/internal/auth/postgres"
)

const password = "correct horse battery"

// uniqueEmail keeps specs from sharing identities or lockout rows.
func uniqueEmail() string {
	return "user-" + ulid.Make().String() + "@example.com"
}

var _ = Describe("Sign-in across replicas", func() {
	var a, b *replica

	BeforeEach(func() {
		opts := defaultReplicaOptions()
		opts.keyPrefix = "authcore-test:" + ulid.Make().String() + ":"
		a = newReplica(opts)
		b = newReplica(opts)
	})

	It("validates a session on a replica other than the one that issued it", func() {
		email := uniqueEmail()
		identity := register(a, email, password)

		res := b.signIn.Execute(env.ctx, email, password, "10.1.0.1")
		Expect(res.OK()).To(BeTrue(), "%v", res.Err())
		out := res.Data()
		Expect(out.Identity.ID).To(Equal(identity.ID))
		Expect(out.Identity.PasswordDigest).To(BeEmpty())

		who := a.validator.Validate(env.ctx, identity.ID, out.SessionID, out.AccessToken)
		Expect(who.OK()).To(BeTrue(), "%v", who.Err())
		Expect(who.Data().Email).To(Equal(email))
	})

	It("matches email case-insensitively", func() {
		email := uniqueEmail()
		register(a, email, password)

		res := b.signIn.Execute(env.ctx, "  "+strings.ToUpper(email)+" ", password, "10.1.0.2")
		Expect(res.OK()).To(BeTrue(), "%v", res.Err())
	})

	It("rejects an unknown email like a wrong password", func() {
		res := a.signIn.Execute(env.ctx, uniqueEmail(), password, "10.1.0.3")
		Expect(res.Code()).To(Equal(auth.CodeInvalidCredentials))
	})

	It("shares the lockout counter between replicas", func() {
		email := uniqueEmail()
		register(a, email, password)

		for i := 0; i < auth.DefaultLockoutThreshold; i++ {
			r := a
			if i%2 == 1 {
				r = b
			}
			res := r.signIn.Execute(env.ctx, email, "wrong password", "10.1.0.4")
			Expect(res.Code()).To(Equal(auth.CodeInvalidCredentials))
		}

		for _, r := range []*replica{a, b} {
			res := r.signIn.Execute(env.ctx, email, password, "10.1.0.4")
			Expect(res.Code()).To(Equal(auth.CodeAccountLocked))
			Expect(res.Failure().RetryAfterMs).To(BeNumerically(">", 0))
		}
	})

	It("resets the counter after a successful sign-in", func() {
		email := uniqueEmail()
		register(a, email, password)

		for i := 0; i < auth.DefaultLockoutThreshold-1; i++ {
			Expect(a.signIn.Execute(env.ctx, email, "wrong password", "10.1.0.5").Code()).
				To(Equal(auth.CodeInvalidCredentials))
		}
		Expect(b.signIn.Execute(env.ctx, email, password, "10.1.0.5").OK()).To(BeTrue())

		for i := 0; i < auth.DefaultLockoutThreshold-1; i++ {
			Expect(a.signIn.Execute(env.ctx, email, "wrong password", "10.1.0.5").Code()).
				To(Equal(auth.CodeInvalidCredentials))
		}
		Expect(a.signIn.Execute(env.ctx, email, password, "10.1.0.5").OK()).To(BeTrue())
	})
})

var _ = Describe("Concurrent failures", func() {
	It("counts every failure exactly once", func() {
		opts := defaultReplicaOptions()
		opts.lockout = auth.LockoutPolicy{Threshold: 50, Duration: time.Minute}
		r := newReplica(opts)
		email := uniqueEmail()
		register(r, email, password)

		const workers = 20
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				res := r.signIn.Execute(env.ctx, email, "wrong password", "10.2.0.1")
				Expect(res.Code()).To(Equal(auth.CodeInvalidCredentials))
			}()
		}
		wg.Wait()

		rec, err := authpg.NewAttemptRepository(env.pool).Get(env.ctx, email)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Failures).To(Equal(workers))
		Expect(rec.LockedUntil).To(BeNil())
	})
})

var _ = Describe("Rate limiting through Redis", func() {
	It("shares one window per source between replicas", func() {
		opts := defaultReplicaOptions()
		opts.keyPrefix = "authcore-test:" + ulid.Make().String() + ":"
		opts.rateLimit = auth.RateLimitPolicy{MaxRequests: 3, Window: time.Minute}
		a, b := newReplica(opts), newReplica(opts)
		email := uniqueEmail()
		register(a, email, password)

		for i, r := range []*replica{a, b, a} {
			res := r.signIn.Execute(env.ctx, email, password, "10.3.0.1")
			Expect(res.OK()).To(BeTrue(), "attempt %d: %v", i+1, res.Err())
		}

		res := b.signIn.Execute(env.ctx, email, password, "10.3.0.1")
		Expect(res.Code()).To(Equal(auth.CodeRateLimited))
		Expect(res.Failure().RetryAfterMs).To(BeNumerically(">", 0))
		Expect(res.Failure().RetryAfterMs).To(BeNumerically("<=", time.Minute.Milliseconds()))

		Expect(a.signIn.Execute(env.ctx, email, password, "10.3.0.2").OK()).To(BeTrue())
	})

	It("charges failed attempts against the window", func() {
		opts := defaultReplicaOptions()
		opts.keyPrefix = "authcore-test:" + ulid.Make().String() + ":"
		opts.rateLimit = auth.RateLimitPolicy{MaxRequests: 2, Window: time.Minute}
		r := newReplica(opts)
		email := uniqueEmail()
		register(r, email, password)

		Expect(r.signIn.Execute(env.ctx, email, "wrong password", "10.3.0.3").Code()).To(Equal(auth.CodeInvalidCredentials))
		Expect(r.signIn.Execute(env.ctx, email, "wrong password", "10.3.0.3").Code()).To(Equal(auth.CodeInvalidCredentials))
		Expect(r.signIn.Execute(env.ctx, email, password, "10.3.0.3").Code()).To(Equal(auth.CodeRateLimited))
	})
})

var _ = Describe("Session lifecycle", func() {
	var r *replica

	BeforeEach(func() {
		r = newReplica(defaultReplicaOptions())
	})

	It("lets exactly one of two concurrent refreshes win", func() {
		email := uniqueEmail()
		identity := register(r, email, password)
		first := r.signIn.Execute(env.ctx, email, password, "10.4.0.1").Data()

		results := make([]auth.Result[*auth.SignInOutput], 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				results[i] = r.sessions.Refresh(env.ctx, identity.ID, first.SessionID, first.ResetToken, "10.4.0.1")
			}()
		}
		wg.Wait()

		var won, lost int
		for _, res := range results {
			switch {
			case res.OK():
				won++
			case res.Code() == auth.CodeSessionNotFound:
				lost++
			}
		}
		Expect(won).To(Equal(1))
		Expect(lost).To(Equal(1))

		Expect(r.validator.Validate(env.ctx, identity.ID, first.SessionID, first.AccessToken).Code()).
			To(Equal(auth.CodeSessionNotFound))
	})

	It("revokes every session when the password changes", func() {
		email := uniqueEmail()
		identity := register(r, email, password)
		s1 := r.signIn.Execute(env.ctx, email, password, "10.4.0.2").Data()
		s2 := r.signIn.Execute(env.ctx, email, password, "10.4.0.2").Data()

		Expect(r.accounts.ChangePassword(env.ctx, identity.ID, password, "a brand new passphrase", "").OK()).To(BeTrue())

		for _, s := range []*auth.SignInOutput{s1, s2} {
			Expect(r.validator.Validate(env.ctx, identity.ID, s.SessionID, s.AccessToken).Code()).
				To(Equal(auth.CodeSessionNotFound))
		}
		Expect(r.signIn.Execute(env.ctx, email, password, "10.4.0.2").Code()).To(Equal(auth.CodeInvalidCredentials))
		Expect(r.signIn.Execute(env.ctx, email, "a brand new passphrase", "10.4.0.2").OK()).To(BeTrue())
	})

	It("keeps only the newest sessions when capped", func() {
		opts := defaultReplicaOptions()
		opts.maxSessions = 2
		capped := newReplica(opts)
		email := uniqueEmail()
		identity := register(capped, email, password)

		var outs []*auth.SignInOutput
		for range 3 {
			res := capped.signIn.Execute(env.ctx, email, password, "10.4.0.3")
			Expect(res.OK()).To(BeTrue(), "%v", res.Err())
			outs = append(outs, res.Data())
		}

		Expect(capped.validator.Validate(env.ctx, identity.ID, outs[0].SessionID, outs[0].AccessToken).Code()).
			To(Equal(auth.CodeSessionNotFound))
		for _, s := range outs[1:] {
			Expect(capped.validator.Validate(env.ctx, identity.ID, s.SessionID, s.AccessToken).OK()).To(BeTrue())
		}
	})

	It("expires access tokens and sweeps dead sessions", func() {
		clock := authtest.NewFakeClock(time.Now().UTC().Truncate(time.Microsecond))
		opts := defaultReplicaOptions()
		opts.clock = clock
		timed := newReplica(opts)
		email := uniqueEmail()
		identity := register(timed, email, password)

		out := timed.signIn.Execute(env.ctx, email, password, "10.4.0.4").Data()

		clock.Advance(time.Hour)
		Expect(timed.validator.Validate(env.ctx, identity.ID, out.SessionID, out.AccessToken).Code()).
			To(Equal(auth.CodeSessionExpired))

		refreshed := timed.sessions.Refresh(env.ctx, identity.ID, out.SessionID, out.ResetToken, "10.4.0.4")
		Expect(refreshed.OK()).To(BeTrue(), "%v", refreshed.Err())

		clock.Advance(25 * time.Hour)
		swept := timed.sessions.Sweep(env.ctx)
		Expect(swept.OK()).To(BeTrue())
		Expect(swept.Data()).To(BeNumerically(">=", 1))

		next := refreshed.Data()
		Expect(timed.sessions.Refresh(env.ctx, identity.ID, next.SessionID, next.ResetToken, "10.4.0.4").Code()).
			To(Equal(auth.CodeSessionNotFound))
	})

	It("signs out one session or all of them", func() {
		email := uniqueEmail()
		identity := register(r, email, password)
		var outs []*auth.SignInOutput
		for range 3 {
			outs = append(outs, r.signIn.Execute(env.ctx, email, password, "10.4.0.5").Data())
		}

		Expect(r.sessions.SignOut(env.ctx, identity.ID, outs[0].SessionID).OK()).To(BeTrue())
		Expect(r.sessions.SignOut(env.ctx, identity.ID, outs[0].SessionID).Code()).To(Equal(auth.CodeSessionNotFound))

		all := r.sessions.SignOutAll(env.ctx, identity.ID)
		Expect(all.OK()).To(BeTrue())
		Expect(all.Data()).To(Equal(int64(2)))
	})
})
