// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth verifies credentials, throttles abuse and issues sessions.
//
// # Domain Types
//
// Identity and Session should be created through their constructors:
//   - NewIdentity - normalizes and validates email and display name
//   - NewSession - builds a session from TokenIssuer output and checks expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Services
//
// Public operations return Result values instead of errors for expected
// rejections:
//   - SignInService.Execute - rate limit, lockout, verify, open session
//   - SessionValidator.Validate - resolve an access token to its identity
//   - SessionService - sign-out, refresh, sweep
//   - AccountService - register and change password
//
// Failure codes are the Code* constants. Anything unexpected is logged once
// and reported as CodeUnexpected.
//
// # Shared State
//
// Lockout counters and rate limit windows live behind AttemptStore and
// WindowStore. Implementations must make each update atomic per key; see the
// memory, postgres and redis subpackages.
package auth
