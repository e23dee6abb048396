// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package config loads the engine's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

const DefaultConfigFile = "/etc/mpanel/engine.yml"

// Plan is a tenant-level resource ceiling. The billing layer owns
// plan assignment; the engine only enforces the numbers.
type Plan struct {
	MaxCores     int `json:"max_cores"`
	MaxMemoryMB  int `json:"max_memory_mb"`
	MaxDiskGB    int `json:"max_disk_gb"`
	MaxCloudPods int `json:"max_cloudpods"`
}

type PostgreSQL struct {
	Connection string `json:"connection"`
	MaxConns   int    `json:"max_conns"`
}

type SSH struct {
	PrivateKeyFile string `json:"private_key_file"`
	Port           string `json:"port"`
}

type Collaborator struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type Ranges struct {
	VMIDStart  int    `json:"vmid_start"`
	VMIDEnd    int    `json:"vmid_end"`
	IPv4Prefix string `json:"ipv4_prefix"`
	IPv4Start  int    `json:"ipv4_start"`
	IPv4End    int    `json:"ipv4_end"`
}

type Config struct {
	Listen          string `json:"listen"`
	ManagementToken string `json:"management_token"`
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`

	PostgreSQL PostgreSQL `json:"postgresql"`
	SSH        SSH        `json:"ssh"`
	Ranges     Ranges     `json:"ranges"`

	// Workers overrides the per-job-type pool size. Types left
	// at 0 keep their built-in concurrency.
	Workers map[mpanel.JobType]int `json:"workers"`

	PollInterval        mpanel.Duration `json:"poll_interval"`
	HealthSweepInterval mpanel.Duration `json:"health_sweep_interval"`
	ReconcileInterval   mpanel.Duration `json:"reconcile_interval"`

	DefaultPlan Plan            `json:"default_plan"`
	TenantPlans map[string]Plan `json:"tenant_plans"`

	DNS      Collaborator `json:"dns"`
	SSL      Collaborator `json:"ssl"`
	SSLEmail string       `json:"ssl_email"`

	// Nodes is the static fleet used when the nodes table is
	// empty (development / ephemeral mode). Operator-managed.
	Nodes []mpanel.Node `json:"nodes"`
}

// Default returns the built-in configuration, which a loaded file
// overrides field by field.
func Default() *Config {
	return &Config{
		Listen:    ":9410",
		LogLevel:  "info",
		LogFormat: "json",
		SSH: SSH{
			PrivateKeyFile: "/etc/mpanel/engine_ssh_key",
			Port:           "22",
		},
		Ranges: Ranges{
			VMIDStart:  100,
			VMIDEnd:    9999,
			IPv4Prefix: "10.10.0.",
			IPv4Start:  10,
			IPv4End:    250,
		},
		PollInterval:        mpanel.Duration(time.Second),
		HealthSweepInterval: mpanel.Duration(5 * time.Minute),
		ReconcileInterval:   mpanel.Duration(15 * time.Minute),
		DefaultPlan: Plan{
			MaxCores:     8,
			MaxMemoryMB:  16384,
			MaxDiskGB:    320,
			MaxCloudPods: 10,
		},
	}
}

// Load reads the file at path (or returns defaults when path is
// empty) and merges it over Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("error decoding config %q: %w", path, err)
	}
	return cfg, nil
}

// PlanFor returns the resource ceiling for the given tenant.
func (cfg *Config) PlanFor(tenantID string) Plan {
	if plan, ok := cfg.TenantPlans[tenantID]; ok {
		return plan
	}
	return cfg.DefaultPlan
}
