// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package ctrlctx decorates a context with a deferred-call list:
// follow-ups registered while an operation runs are held back until
// the operation as a whole succeeds, and discarded when it fails.
//
// Store mutations made during an operation are individually durable;
// there is no wrapping database transaction to roll back. A create
// must persist its pod row before the remote provision starts so a
// crashed attempt can be resumed, and holding row locks across
// remote commands would stall every concurrent admission. Partial
// progress is recovered through job retries and ledger
// reconciliation instead.
package ctrlctx

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotWrapped = errors.New("bug: context was not created by ctrlctx.New")
	ErrFinished   = errors.New("refusing to defer a call after the wrapped operation already returned")
)

type contextKeyT string

var contextKeyCalls = contextKeyT("deferred-calls")

type callList struct {
	mtx      sync.Mutex
	finished bool
	calls    []func()
}

type finishFunc func(*error)

// New returns a child context usable with OnSuccess, and a finish
// func the caller must eventually invoke:
//
//	func example(ctx context.Context) (err error) {
//		ctx, finish := ctrlctx.New(ctx)
//		defer finish(&err)
//		// ...
//	}
//
// If *err is nil, finish runs the deferred calls in registration
// order. If *err is non-nil, finish discards them and does not
// modify *err.
func New(ctx context.Context) (context.Context, finishFunc) {
	cl := &callList{}
	return context.WithValue(ctx, contextKeyCalls, cl), func(err *error) {
		cl.mtx.Lock()
		cl.finished = true
		calls := cl.calls
		cl.calls = nil
		cl.mtx.Unlock()
		if *err != nil {
			return
		}
		for _, call := range calls {
			call()
		}
	}
}

// OnSuccess registers fn to run after the operation wrapped by New
// succeeds. fn runs outside the operation, so its failures cannot
// unwind the operation's own effects.
//
// Returns ErrNotWrapped if ctx was not created by New, and
// ErrFinished if the operation has already returned.
func OnSuccess(ctx context.Context, fn func()) error {
	cl, ok := ctx.Value(contextKeyCalls).(*callList)
	if !ok {
		return ErrNotWrapped
	}
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	if cl.finished {
		return ErrFinished
	}
	cl.calls = append(cl.calls, fn)
	return nil
}
