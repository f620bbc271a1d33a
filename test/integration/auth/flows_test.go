// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

//go:build integration

package auth_test

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/keygate/keygate/internal/auth"
	authpg "github.com/keygate/keygate/internal/auth/postgres"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func newTestEngine(sender *recordingSender, verificationRequired bool) *auth.Engine {
	tokens, err := auth.NewTokenIssuer([]byte("integration-secret-0123456789"), time.Hour)
	Expect(err).NotTo(HaveOccurred())

	engine, err := auth.NewEngine(auth.EngineParams{
		Accounts:             authpg.NewAccountRepository(pool),
		Hasher:               auth.NewArgon2idHasher(),
		Tokens:               tokens,
		Sender:               sender,
		Codes:                auth.CodeGenerator{TTL: 10 * time.Minute},
		Lockout:              auth.LockoutPolicy{Threshold: 3, Duration: 15 * time.Minute},
		Passwords:            auth.PasswordPolicy{MinLength: 8},
		EmailPattern:         emailPattern,
		VerificationRequired: verificationRequired,
	})
	Expect(err).NotTo(HaveOccurred())

	return engine
}

func freshEmail() string {
	return fmt.Sprintf("user-%s@example.com", strings.ToLower(ulid.Make().String()))
}

var _ = Describe("Password registration and login", func() {
	var (
		ctx    context.Context
		sender *recordingSender
		engine *auth.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = newRecordingSender()
		engine = newTestEngine(sender, false)
	})

	It("registers an account and logs in with the password", func() {
		email := freshEmail()

		token, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())

		token, err = engine.Login(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())
	})

	It("treats re-registration with the correct password as a login", func() {
		email := freshEmail()

		_, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())

		token, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())
	})

	It("rejects re-registration with a different password", func() {
		email := freshEmail()

		_, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())

		_, err = engine.Register(ctx, email, "another-pass-9")
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeEmailInUse))
	})

	It("answers unknown and wrong-password logins identically", func() {
		email := freshEmail()
		_, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())

		_, wrongErr := engine.Login(ctx, email, "wrong-password")
		_, unknownErr := engine.Login(ctx, freshEmail(), "wrong-password")

		Expect(auth.ErrorCode(wrongErr)).To(Equal(auth.CodeInvalidCredentials))
		Expect(wrongErr.Error()).To(Equal(unknownErr.Error()))
	})

	It("locks the account after repeated failures and refuses the correct password", func() {
		email := freshEmail()
		_, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())

		for range 3 {
			_, err = engine.Login(ctx, email, "wrong-password")
			Expect(err).To(HaveOccurred())
		}

		_, err = engine.Login(ctx, email, "sw0rdfish-pass")
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeAccountLocked))
	})
})

var _ = Describe("Email verification", func() {
	var (
		ctx    context.Context
		sender *recordingSender
		engine *auth.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = newRecordingSender()
		engine = newTestEngine(sender, true)
	})

	It("requires the emailed code before the first login", func() {
		email := freshEmail()

		token, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(BeEmpty())

		code := sender.codeFor(email)
		Expect(code).To(MatchRegexp(`^[0-9a-f]{6}$`))

		_, err = engine.Login(ctx, email, "sw0rdfish-pass")
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeEmailNotVerified))

		token, err = engine.VerifyCodeAndGenerateToken(ctx, email, code)
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())

		token, err = engine.Login(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())
	})

	It("accepts each code exactly once", func() {
		email := freshEmail()
		_, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())
		code := sender.codeFor(email)

		_, err = engine.VerifyCodeAndGenerateToken(ctx, email, code)
		Expect(err).NotTo(HaveOccurred())

		_, err = engine.VerifyCodeAndGenerateToken(ctx, email, code)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidCode))
	})

	It("admits at most one of many concurrent verifications", func() {
		email := freshEmail()
		_, err := engine.Register(ctx, email, "sw0rdfish-pass")
		Expect(err).NotTo(HaveOccurred())
		code := sender.codeFor(email)

		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				_, errs[i] = engine.VerifyCodeAndGenerateToken(ctx, email, code)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, verifyErr := range errs {
			if verifyErr == nil {
				succeeded++
			} else {
				Expect(auth.ErrorCode(verifyErr)).To(Equal(auth.CodeInvalidCode))
			}
		}
		Expect(succeeded).To(Equal(1))
	})
})

var _ = Describe("Passwordless login", func() {
	var (
		ctx    context.Context
		sender *recordingSender
		engine *auth.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = newRecordingSender()
		engine = newTestEngine(sender, false)
	})

	It("creates the account on first sight and issues a fresh code each time", func() {
		email := freshEmail()

		created, err := engine.PasswordlessLoginOrRegister(ctx, email)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		first := sender.codeFor(email)
		Expect(first).NotTo(BeEmpty())

		created, err = engine.PasswordlessLoginOrRegister(ctx, email)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())
		second := sender.codeFor(email)
		Expect(second).NotTo(Equal(first))

		token, err := engine.VerifyCodeAndGenerateToken(ctx, email, second)
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())
	})

	It("rejects a stale code after a fresh one is issued", func() {
		email := freshEmail()

		_, err := engine.PasswordlessLoginOrRegister(ctx, email)
		Expect(err).NotTo(HaveOccurred())
		stale := sender.codeFor(email)

		_, err = engine.PasswordlessLoginOrRegister(ctx, email)
		Expect(err).NotTo(HaveOccurred())

		_, err = engine.VerifyCodeAndGenerateToken(ctx, email, stale)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidCode))
	})
})
