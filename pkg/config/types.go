// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the orchestrator's tunables: one
// typed section per component (lock, checkpoint, router, cost, vault,
// session, memory, agent), a shared database section, and the ambient
// logging/observability knobs.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration object, unmarshalled from YAML.
type Config struct {
	LogLevel      string         `yaml:"log_level"`
	MetricsAddr   string         `yaml:"metrics_addr"`
	Database      DatabaseConfig `yaml:"database"`
	Lock          LockConfig     `yaml:"lock"`
	Checkpoint    CheckpointCfg  `yaml:"checkpoint"`
	Router        RouterConfig   `yaml:"router"`
	Cost          CostConfig     `yaml:"cost"`
	Vault         VaultConfig    `yaml:"vault"`
	Session       SessionConfig  `yaml:"session"`
	Memory        MemoryConfig   `yaml:"memory"`
	Agent         AgentConfig    `yaml:"agent"`
}

// LockConfig tunes the advisory lock registry (C2).
type LockConfig struct {
	Dir            string        `yaml:"dir"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

func (c *LockConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = ".orchestrator/locks"
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// CheckpointCfg tunes the checkpoint store (C4).
type CheckpointCfg struct {
	Dir             string        `yaml:"dir"`
	RetentionAge    time.Duration `yaml:"retention_age"`
	MaxPerProject   int           `yaml:"max_per_project"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SigningKeyPath  string        `yaml:"signing_key_path"`
}

func (c *CheckpointCfg) SetDefaults() {
	if c.Dir == "" {
		c.Dir = ".orchestrator/checkpoints"
	}
	if c.RetentionAge == 0 {
		c.RetentionAge = 30 * 24 * time.Hour
	}
	if c.MaxPerProject == 0 {
		c.MaxPerProject = 50
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Hour
	}
	if c.SigningKeyPath == "" {
		c.SigningKeyPath = ".orchestrator/checkpoint_signing.key"
	}
}

// RouterConfig tunes the Thompson Sampling model router (C6).
type RouterConfig struct {
	ExplorationFactor float64 `yaml:"exploration_factor"`
	MinSamples        int     `yaml:"min_samples"`
	DefaultModel      string  `yaml:"default_model"`
}

func (c *RouterConfig) SetDefaults() {
	if c.ExplorationFactor == 0 {
		c.ExplorationFactor = 1.0
	}
	if c.MinSamples == 0 {
		c.MinSamples = 5
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4"
	}
}

// CostConfig tunes the cost ledger (C1).
type CostConfig struct {
	DailyBudgetUSD     float64 `yaml:"daily_budget_usd"`
	ApproachingPercent float64 `yaml:"approaching_percent"`
}

func (c *CostConfig) SetDefaults() {
	if c.DailyBudgetUSD == 0 {
		c.DailyBudgetUSD = 50.0
	}
	if c.ApproachingPercent == 0 {
		c.ApproachingPercent = 0.8
	}
}

// VaultConfig tunes the encrypted key vault (C3).
type VaultConfig struct {
	KeyringService string `yaml:"keyring_service"`
	FallbackPath   string `yaml:"fallback_path"`
}

func (c *VaultConfig) SetDefaults() {
	if c.KeyringService == "" {
		c.KeyringService = "demiarch-orchestrator"
	}
	if c.FallbackPath == "" {
		c.FallbackPath = ".orchestrator/master.key"
	}
}

// SessionConfig tunes the session engine (C5).
type SessionConfig struct {
	Dir              string        `yaml:"dir"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	CleanupOlderThan time.Duration `yaml:"cleanup_older_than"`
}

func (c *SessionConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = ".orchestrator/sessions"
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Hour
	}
	if c.CleanupOlderThan == 0 {
		c.CleanupOlderThan = 90 * 24 * time.Hour
	}
}

// MemoryConfig tunes the context memory store (C8).
type MemoryConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.MinScore == 0 {
		c.MinScore = 0.15
	}
}

// AgentConfig tunes the agent runtime (C7).
type AgentConfig struct {
	MaxDepth       int           `yaml:"max_depth"`
	NodeTimeout    time.Duration `yaml:"node_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

func (c *AgentConfig) SetDefaults() {
	if c.MaxDepth == 0 {
		c.MaxDepth = 2
	}
	if c.NodeTimeout == 0 {
		c.NodeTimeout = 10 * time.Minute
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 4
	}
}

// SetDefaults fills every section's zero-valued fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	c.Database.SetDefaults()
	c.Lock.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Router.SetDefaults()
	c.Cost.SetDefaults()
	c.Vault.SetDefaults()
	c.Session.SetDefaults()
	c.Memory.SetDefaults()
	c.Agent.SetDefaults()
}

// Validate checks every section for internal consistency.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Cost.DailyBudgetUSD <= 0 {
		return fmt.Errorf("cost.daily_budget_usd must be positive")
	}
	if c.Cost.ApproachingPercent <= 0 || c.Cost.ApproachingPercent > 1 {
		return fmt.Errorf("cost.approaching_percent must be in (0,1]")
	}
	if c.Router.ExplorationFactor < 0 {
		return fmt.Errorf("router.exploration_factor must be non-negative")
	}
	if c.Agent.MaxDepth < 1 {
		return fmt.Errorf("agent.max_depth must be at least 1")
	}
	return nil
}
