// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	check "gopkg.in/check.v1"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&ConfigSuite{})

type ConfigSuite struct{}

func (s *ConfigSuite) TestDefaults(c *check.C) {
	cfg, err := Load("")
	c.Assert(err, check.IsNil)
	c.Check(cfg.Listen, check.Equals, ":9410")
	c.Check(cfg.LogLevel, check.Equals, "info")
	c.Check(cfg.Ranges.VMIDStart, check.Equals, 100)
	c.Check(cfg.Ranges.VMIDEnd, check.Equals, 9999)
	c.Check(cfg.Ranges.IPv4Prefix, check.Equals, "10.10.0.")
	c.Check(cfg.HealthSweepInterval.Duration(), check.Equals, 5*time.Minute)
	c.Check(cfg.DefaultPlan.MaxCloudPods, check.Equals, 10)
}

func (s *ConfigSuite) TestLoadOverridesDefaults(c *check.C) {
	path := filepath.Join(c.MkDir(), "engine.yml")
	err := os.WriteFile(path, []byte(`
listen: ":8080"
management_token: secret
log_level: debug
postgresql:
  connection: "host=/run/postgresql dbname=mpanel sslmode=disable"
workers:
  create: 4
health_sweep_interval: 30s
tenant_plans:
  tenant-gold:
    max_cores: 32
    max_memory_mb: 65536
    max_disk_gb: 1000
    max_cloudpods: 50
nodes:
  - id: node1
    address: 10.0.0.1
    remote_user: root
    total_cores: 16
    total_memory_mb: 65536
    total_disk_gb: 1000
    role: hypervisor
    active: true
`), 0o666)
	c.Assert(err, check.IsNil)

	cfg, err := Load(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.Listen, check.Equals, ":8080")
	c.Check(cfg.ManagementToken, check.Equals, "secret")
	c.Check(cfg.LogLevel, check.Equals, "debug")
	c.Check(cfg.PostgreSQL.Connection, check.Matches, "host=.* dbname=mpanel .*")
	c.Check(cfg.Workers[mpanel.JobTypeCreate], check.Equals, 4)
	c.Check(cfg.HealthSweepInterval.Duration(), check.Equals, 30*time.Second)

	// Fields not mentioned in the file keep their defaults.
	c.Check(cfg.Ranges.VMIDStart, check.Equals, 100)
	c.Check(cfg.DefaultPlan.MaxCores, check.Equals, 8)

	c.Assert(cfg.Nodes, check.HasLen, 1)
	c.Check(cfg.Nodes[0].ID, check.Equals, "node1")
	c.Check(cfg.Nodes[0].Active, check.Equals, true)
}

func (s *ConfigSuite) TestLoadErrors(c *check.C) {
	_, err := Load("/nonexistent/engine.yml")
	c.Check(err, check.NotNil)

	path := filepath.Join(c.MkDir(), "engine.yml")
	c.Assert(os.WriteFile(path, []byte("listen: [bad"), 0o666), check.IsNil)
	_, err = Load(path)
	c.Check(err, check.ErrorMatches, `error decoding config .*`)
}

func (s *ConfigSuite) TestPlanFor(c *check.C) {
	cfg := Default()
	cfg.TenantPlans = map[string]Plan{
		"tenant-gold": {MaxCores: 32, MaxMemoryMB: 65536, MaxDiskGB: 1000, MaxCloudPods: 50},
	}
	c.Check(cfg.PlanFor("tenant-gold").MaxCores, check.Equals, 32)
	c.Check(cfg.PlanFor("tenant-other"), check.DeepEquals, cfg.DefaultPlan)
}
