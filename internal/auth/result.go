// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// Failure describes why an operation did not succeed.
type Failure struct {
	// Code is one of the Code* constants.
	Code string `json:"code"`

	// Message is a generic, caller-safe description.
	Message string `json:"message"`

	// RetryAfterMs is set for RATE_LIMITED and ACCOUNT_LOCKED.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// Result is the outcome of a public auth operation: either data or a failure.
// The zero value is not a valid Result; use Succeed or Fail.
type Result[T any] struct {
	data    T
	failure *Failure
}

// Succeed returns a successful Result carrying data.
func Succeed[T any](data T) Result[T] {
	return Result[T]{data: data}
}

// Fail returns a failed Result with the given code and message.
func Fail[T any](code, message string) Result[T] {
	return Result[T]{failure: &Failure{Code: code, Message: message}}
}

// FailRetry returns a failed Result that tells the caller when to try again.
func FailRetry[T any](code, message string, retryAfter time.Duration) Result[T] {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result[T]{failure: &Failure{
		Code:         code,
		Message:      message,
		RetryAfterMs: retryAfter.Milliseconds(),
	}}
}

// failAs converts a failure of one result type into another.
func failAs[T any](f *Failure) Result[T] {
	copied := *f
	return Result[T]{failure: &copied}
}

// OK reports whether the Result is a success.
func (r Result[T]) OK() bool {
	return r.failure == nil
}

// Data returns the success payload. It is the zero value on failure.
func (r Result[T]) Data() T {
	return r.data
}

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *Failure {
	return r.failure
}

// Code returns the failure code, or "" on success.
func (r Result[T]) Code() string {
	if r.failure == nil {
		return ""
	}
	return r.failure.Code
}

// Err returns nil on success, otherwise an oops error with the failure code.
func (r Result[T]) Err() error {
	if r.failure == nil {
		return nil
	}
	b := oops.Code(r.failure.Code)
	if r.failure.RetryAfterMs > 0 {
		b = b.With("retry_after_ms", r.failure.RetryAfterMs)
	}
	return b.Errorf("%s", r.failure.Message)
}

// settle converts an exceptional error into UNEXPECTED_ERROR, logging it once.
func settle[T any](ctx context.Context, logger *slog.Logger, operation string, res Result[T], err error) Result[T] {
	if err == nil {
		return res
	}
	errutil.LogErrorContext(ctx, logger, operation+" failed", err)
	return Fail[T](CodeUnexpected, msgUnexpected)
}
