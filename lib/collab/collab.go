// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package collab holds the engine's external collaborators: DNS
// zone management and certificate issuance. Both are best-effort
// follow-ups after a successful create; their failure is logged and
// never rolls back the CloudPod.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/migrahosting-alt/mpanel-sub019/lib/config"
)

// A DNSProvider creates a zone and its initial records for a newly
// provisioned pod.
type DNSProvider interface {
	CreateZoneAndRecords(ctx context.Context, domain, ip string) error
}

// A CertIssuer requests a certificate for a domain.
type CertIssuer interface {
	IssueCertificate(ctx context.Context, domain, email string) error
}

// HTTPDNSProvider talks to the panel's DNS service.
type HTTPDNSProvider struct {
	cfg    config.Collaborator
	client *retryablehttp.Client
}

// HTTPCertIssuer talks to the panel's ACME front end.
type HTTPCertIssuer struct {
	cfg    config.Collaborator
	client *retryablehttp.Client
}

func newClient(logger logrus.FieldLogger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	if logger != nil {
		client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.WithFields(logrus.Fields{
					"URL":     req.URL.String(),
					"Attempt": attempt,
				}).Info("retrying collaborator call")
			}
		}
	}
	return client
}

func NewHTTPDNSProvider(logger logrus.FieldLogger, cfg config.Collaborator) *HTTPDNSProvider {
	return &HTTPDNSProvider{cfg: cfg, client: newClient(logger)}
}

func (dp *HTTPDNSProvider) CreateZoneAndRecords(ctx context.Context, domain, ip string) error {
	return post(ctx, dp.client, dp.cfg, "/v1/zones", map[string]string{
		"domain": domain,
		"ip":     ip,
	})
}

func NewHTTPCertIssuer(logger logrus.FieldLogger, cfg config.Collaborator) *HTTPCertIssuer {
	return &HTTPCertIssuer{cfg: cfg, client: newClient(logger)}
}

func (ci *HTTPCertIssuer) IssueCertificate(ctx context.Context, domain, email string) error {
	return post(ctx, ci.client, ci.cfg, "/v1/certificates", map[string]string{
		"domain": domain,
		"email":  email,
	})
}

func post(ctx context.Context, client *retryablehttp.Client, cfg config.Collaborator, path string, body interface{}) error {
	if cfg.URL == "" {
		// Collaborator not configured; treated as a no-op so
		// development setups work without the full panel.
		return nil
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", cfg.URL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("collaborator %s returned %s", path, resp.Status)
	}
	return nil
}
