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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/demiarch/orchestrator/pkg/agent"
	"github.com/demiarch/orchestrator/pkg/checkpoint"
	"github.com/demiarch/orchestrator/pkg/config"
	"github.com/demiarch/orchestrator/pkg/costledger"
	"github.com/demiarch/orchestrator/pkg/llmclient"
	"github.com/demiarch/orchestrator/pkg/lock"
	"github.com/demiarch/orchestrator/pkg/memory"
	"github.com/demiarch/orchestrator/pkg/observability"
	"github.com/demiarch/orchestrator/pkg/router"
	"github.com/demiarch/orchestrator/pkg/session"
	"github.com/demiarch/orchestrator/pkg/store"
	"github.com/demiarch/orchestrator/pkg/vault"
)

// Environment variables the process consumes: a primary and secondary
// alias for the LLM provider's API key, plus overrides for the lock
// directory, daily budget, and checkpoint retention that config.yaml
// also exposes. None are mandatory; the process runs fully local without
// any of them.
const (
	envAPIKeyPrimary   = "ORCHESTRATOR_LLM_API_KEY"
	envAPIKeySecondary = "LLM_API_KEY"
	envLockDir         = "ORCHESTRATOR_LOCK_DIR"
	envDailyBudgetUSD  = "ORCHESTRATOR_DAILY_BUDGET_USD"
	envRetentionDays   = "ORCHESTRATOR_CHECKPOINT_RETENTION_DAYS"
)

// App bundles every component the orchestrator process wires together.
// It is the runtime counterpart of config.Config: one instance per
// process, built once at startup and closed once at shutdown.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Metrics *observability.Metrics

	Locks      *lock.Registry
	Ledger     *costledger.Ledger
	Vault      *vault.Vault
	Sessions   *session.LockedManager
	Checkpoint *checkpoint.Manager
	Router     *router.Router
	Memory     *memory.Store
	LLM        llmclient.Client
	Runtime    *agent.Runtime

	// APIKey is the LLM provider credential read from the environment,
	// handed to whatever llmclient.Transport the operator wires in.
	APIKey string

	Cron *cron.Cron
}

// bootstrap loads configuration from cfgPath, opens the store, and wires
// every component in dependency order (config -> shared db pool ->
// per-component services -> runtime), applying the documented environment
// variable overrides along the way.
func bootstrap(cfgPath string) (*App, error) {
	var cfg *config.Config
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg = config.Default()
	} else {
		loaded, err := config.LoadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	applyEnvOverrides(cfg)

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	metrics := observability.New()
	dialect := cfg.Database.Dialect()

	locks, err := lock.New(toLockConfig(cfg.Lock), metrics)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init lock registry: %w", err)
	}

	ledger, err := costledger.New(db, dialect, cfg.Cost.DailyBudgetUSD, cfg.Cost.ApproachingPercent, metrics)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cost ledger: %w", err)
	}

	keyStore := vault.NewMasterKeyStore(cfg.Vault.KeyringService, cfg.Vault.FallbackPath)
	kv := vault.New(db, dialect, keyStore, metrics)
	if err := kv.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}

	sessionMgr := session.NewLockedManager(session.NewManager(db, dialect, metrics), locks, cfg.Session.IdleTimeout)

	signer, err := checkpoint.LoadOrCreateSigner(cfg.Checkpoint.SigningKeyPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint signer: %w", err)
	}
	checkpointMgr := checkpoint.NewManager(db, dialect, signer, checkpoint.Config{
		RetentionDays: int(cfg.Checkpoint.RetentionAge.Hours() / 24),
		MaxPerProject: cfg.Checkpoint.MaxPerProject,
	}, metrics)

	modelRouter, err := router.New(context.Background(), db, dialect, cfg.Router.ExplorationFactor, cfg.Router.MinSamples, metrics)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init router: %w", err)
	}

	memStore := memory.New(db, dialect)

	llm := llmclient.NewStubClient(nil)

	rt := agent.NewRuntime(modelRouter, ledger, locks, llm, metrics)

	return &App{
		Config:     cfg,
		DB:         db,
		Metrics:    metrics,
		Locks:      locks,
		Ledger:     ledger,
		Vault:      kv,
		Sessions:   sessionMgr,
		Checkpoint: checkpointMgr,
		Router:     modelRouter,
		Memory:     memStore,
		LLM:        llm,
		Runtime:    rt,
		APIKey:     firstNonEmpty(os.Getenv(envAPIKeyPrimary), os.Getenv(envAPIKeySecondary)),
		Cron:       cron.New(),
	}, nil
}

// StartMaintenance schedules the periodic background sweeps (stale-lock
// reclaim, checkpoint retention, old-session cleanup) and starts the cron
// scheduler.
func (a *App) StartMaintenance(ctx context.Context) error {
	lockEvery := fmt.Sprintf("@every %s", a.Config.Lock.SweepInterval)
	if _, err := a.Cron.AddFunc(lockEvery, func() {
		if _, err := a.Locks.SweepStale(ctx); err != nil {
			slog.Warn("stale lock sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule lock sweep: %w", err)
	}

	checkpointEvery := fmt.Sprintf("@every %s", a.Config.Checkpoint.SweepInterval)
	if _, err := a.Cron.AddFunc(checkpointEvery, func() {
		if err := a.Checkpoint.SweepRetention(ctx); err != nil {
			slog.Warn("checkpoint retention sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule checkpoint retention sweep: %w", err)
	}

	if _, err := a.Cron.AddFunc("@daily", func() {
		if _, err := a.Sessions.CleanupOldSessions(ctx, a.Config.Session.CleanupOlderThan); err != nil {
			slog.Warn("old session cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule session cleanup: %w", err)
	}

	a.Cron.Start()
	return nil
}

// Close releases every resource the App holds.
func (a *App) Close() error {
	a.Cron.Stop()
	return a.DB.Close()
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envLockDir); v != "" {
		cfg.Lock.Dir = v
	}
	if v := os.Getenv(envDailyBudgetUSD); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.Cost.DailyBudgetUSD = parsed
		}
	}
	if v := os.Getenv(envRetentionDays); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Checkpoint.RetentionAge = time.Duration(parsed) * 24 * time.Hour
		}
	}
}

func toLockConfig(c config.LockConfig) lock.LockConfig {
	defaults := lock.DefaultLockConfig()
	defaults.Dir = c.Dir
	defaults.DefaultTimeout = c.DefaultTimeout
	defaults.StaleThreshold = c.StaleAfter
	defaults.SweepInterval = c.SweepInterval
	return defaults
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
