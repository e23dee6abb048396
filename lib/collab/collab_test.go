// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	check "gopkg.in/check.v1"

	"github.com/migrahosting-alt/mpanel-sub019/lib/config"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&CollabSuite{})

type CollabSuite struct{}

func (s *CollabSuite) TestCreateZoneAndRecords(c *check.C) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	dp := NewHTTPDNSProvider(ctxlog.TestLogger(c), config.Collaborator{URL: srv.URL, Token: "dns-token"})
	err := dp.CreateZoneAndRecords(context.Background(), "example.com", "10.10.0.10")
	c.Assert(err, check.IsNil)
	c.Check(gotPath, check.Equals, "/v1/zones")
	c.Check(gotAuth, check.Equals, "Bearer dns-token")
	c.Check(gotBody, check.DeepEquals, map[string]string{"domain": "example.com", "ip": "10.10.0.10"})
}

func (s *CollabSuite) TestIssueCertificateError(c *check.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown domain", http.StatusBadRequest)
	}))
	defer srv.Close()

	ci := NewHTTPCertIssuer(ctxlog.TestLogger(c), config.Collaborator{URL: srv.URL})
	err := ci.IssueCertificate(context.Background(), "example.com", "ops@example.com")
	c.Check(err, check.ErrorMatches, `collaborator /v1/certificates returned 400 .*`)
}

func (s *CollabSuite) TestUnconfiguredIsNoOp(c *check.C) {
	dp := NewHTTPDNSProvider(ctxlog.TestLogger(c), config.Collaborator{})
	c.Check(dp.CreateZoneAndRecords(context.Background(), "example.com", "10.10.0.10"), check.IsNil)
}
