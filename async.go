// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"context"

	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// ProgressEvent reports one step of a long-running engine operation, for
// delivery back to a caller's UI dispatcher.
type ProgressEvent struct {
	Step  int
	Total int
	Label string
}

// AsyncResult carries a long-running operation's terminal outcome.
type AsyncResult struct {
	Err error
}

// asyncOp runs fn in its own goroutine, delivering progress events on the
// returned channel and the single terminal result on the second.
// Cancellation is cooperative: fn is expected to check ctx.Done() between
// KDF and token round trips (never mid-primitive) and return promptly with
// ctx.Err(). Both channels are closed after the result is sent.
func asyncOp(ctx context.Context, fn func(ctx context.Context, progress func(step, total int, label string)) error) (<-chan ProgressEvent, <-chan AsyncResult) {
	progressCh := make(chan ProgressEvent, 8)
	resultCh := make(chan AsyncResult, 1)

	report := func(step, total int, label string) {
		select {
		case progressCh <- ProgressEvent{Step: step, Total: total, Label: label}:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(progressCh)
		defer close(resultCh)
		resultCh <- AsyncResult{Err: fn(ctx, report)}
	}()

	return progressCh, resultCh
}

// CreateV2Async runs CreateV2 as a long op, reporting a single step.
// CreateV2 enrolls no hardware token, so vault creation is one KDF-bound
// unit of work and there is nothing to interleave progress into beyond
// "creating".
func (e *Engine) CreateV2Async(ctx context.Context, path, adminUsername, adminPassword string, policy CreatePolicy) (<-chan ProgressEvent, <-chan AsyncResult) {
	return asyncOp(ctx, func(ctx context.Context, progress func(step, total int, label string)) error {
		progress(1, 1, "creating vault")
		if err := ctx.Err(); err != nil {
			return err
		}
		return e.CreateV2(path, adminUsername, adminPassword, policy)
	})
}

// ChangePasswordWithTokenAsync runs a token-gated password change as a
// long op with two physical touches against the slot's enrolled challenge
// and a cooperative-cancellation checkpoint between them. The first
// touch's response is discarded; ChangePassword receives only the second
// response and uses it both to verify the current password and to wrap
// under the new one. Cancellation between the two touches aborts before
// any mutation; cancellation is not honored mid-touch.
func (e *Engine) ChangePasswordWithTokenAsync(ctx context.Context, username, oldPassword, newPassword string) (<-chan ProgressEvent, <-chan AsyncResult) {
	return asyncOp(ctx, func(ctx context.Context, progress func(step, total int, label string)) error {
		e.mu.Lock()
		if err := e.requireOpen(); err != nil {
			e.mu.Unlock()
			return err
		}
		challenge, enrolled := e.sessionMgr.TokenChallengeForUser(e.header, username)
		driver := e.driver
		timeout := e.cfg.Policy.TokenEnrollmentTimeout
		e.mu.Unlock()

		if !enrolled {
			return vaulterrors.New(vaulterrors.KindTokenMetadataMissing)
		}

		progress(1, 2, "confirm current password on token")
		if _, err := driver.ChallengeResponse(ctx, challenge, true, timeout); err != nil {
			return vaulterrors.Wrap(vaulterrors.KindTokenChallengeResponseFailed, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		progress(2, 2, "confirm new password on token")
		response, err := driver.ChallengeResponse(ctx, challenge, true, timeout)
		if err != nil {
			return vaulterrors.Wrap(vaulterrors.KindTokenChallengeResponseFailed, err)
		}

		return e.ChangePassword(username, oldPassword, newPassword, response)
	})
}
