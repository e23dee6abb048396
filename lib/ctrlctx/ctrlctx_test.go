// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ctrlctx

import (
	"context"
	"errors"
	"testing"

	check "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&CallsSuite{})

// CallsSuite covers the deferred-call contract: calls run (in
// order) when the wrapped operation succeeds, and are discarded
// when it fails.
type CallsSuite struct{}

func (s *CallsSuite) TestCallsRunAfterSuccess(c *check.C) {
	ctx, finish := New(context.Background())
	var order []int
	c.Assert(OnSuccess(ctx, func() { order = append(order, 1) }), check.IsNil)
	c.Assert(OnSuccess(ctx, func() { order = append(order, 2) }), check.IsNil)
	c.Check(order, check.HasLen, 0)

	var err error
	finish(&err)
	c.Check(err, check.IsNil)
	c.Check(order, check.DeepEquals, []int{1, 2})
}

func (s *CallsSuite) TestCallsDroppedOnError(c *check.C) {
	ctx, finish := New(context.Background())
	ran := false
	c.Assert(OnSuccess(ctx, func() { ran = true }), check.IsNil)

	err := errors.New("operation failed")
	finish(&err)
	c.Check(err, check.ErrorMatches, "operation failed")
	c.Check(ran, check.Equals, false)
}

func (s *CallsSuite) TestOnSuccessRequiresContext(c *check.C) {
	err := OnSuccess(context.Background(), func() {})
	c.Check(err, check.Equals, ErrNotWrapped)
}

func (s *CallsSuite) TestOnSuccessAfterFinish(c *check.C) {
	ctx, finish := New(context.Background())
	var err error
	finish(&err)
	c.Assert(err, check.IsNil)
	c.Check(OnSuccess(ctx, func() {}), check.Equals, ErrFinished)
}
