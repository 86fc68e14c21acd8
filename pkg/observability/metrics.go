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

// Package observability provides Prometheus metrics for the orchestration
// engine's eight core components.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors for every component.
type Metrics struct {
	registry *prometheus.Registry

	// Agent runtime (C7)
	agentExecutions    *prometheus.CounterVec
	agentDuration      *prometheus.HistogramVec
	agentTokens        *prometheus.CounterVec
	agentActiveRuns    *prometheus.GaugeVec
	agentHierarchyDeny *prometheus.CounterVec

	// Session engine (C5)
	sessionsCreated *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionEvents   *prometheus.CounterVec

	// Lock registry (C2)
	locksHeld     *prometheus.GaugeVec
	lockWaitSecs  *prometheus.HistogramVec
	lockTimeouts  *prometheus.CounterVec
	lockStaleHits *prometheus.CounterVec

	// Checkpoint store (C4)
	checkpointsCreated  *prometheus.CounterVec
	checkpointSizeBytes prometheus.Histogram
	restoreDuration     prometheus.Histogram
	restoreFailures     prometheus.Counter

	// Model router (C6)
	routerSelections  *prometheus.CounterVec
	routerExploration *prometheus.CounterVec
	routerReward      *prometheus.HistogramVec

	// Cost ledger (C1)
	costUSD        *prometheus.CounterVec
	tokensRecorded *prometheus.CounterVec
	budgetAlerts   prometheus.Counter

	// Key vault (C3)
	vaultOps prometheus.Counter

	// Context memory (C8)
	memorySearches *prometheus.CounterVec
}

// New constructs and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		agentExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_executions_total",
			Help: "Total agent execute() calls by kind and status.",
		}, []string{"kind", "status"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_execution_duration_seconds",
			Help:    "Duration of agent execute() calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		agentTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tokens_total",
			Help: "Tokens attributed to agent nodes.",
		}, []string{"kind"}),
		agentActiveRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_active_runs",
			Help: "Number of agents currently running.",
		}, []string{"kind"}),
		agentHierarchyDeny: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_hierarchy_violations_total",
			Help: "Spawn attempts rejected by the hierarchy rule.",
		}, []string{"parent_kind", "child_kind"}),

		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Sessions created.",
		}, []string{"reason"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "1 if a session is active, 0 otherwise.",
		}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_events_total",
			Help: "Session journal events appended.",
		}, []string{"kind"}),

		locksHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "locks_held",
			Help: "Locks currently held by this process.",
		}, []string{"resource_kind"}),
		lockWaitSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lock_wait_seconds",
			Help:    "Time spent waiting to acquire a lock.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource_kind"}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lock_timeouts_total",
			Help: "Lock acquisitions that timed out.",
		}, []string{"resource_kind"}),
		lockStaleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lock_stale_reclaims_total",
			Help: "Stale locks reclaimed.",
		}, []string{"resource_kind"}),

		checkpointsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoints_created_total",
			Help: "Checkpoints created.",
		}, []string{"project_id"}),
		checkpointSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkpoint_size_bytes",
			Help:    "Serialized snapshot size in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}),
		restoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkpoint_restore_duration_seconds",
			Help:    "Duration of restore operations.",
			Buckets: prometheus.DefBuckets,
		}),
		restoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_restore_failures_total",
			Help: "Restore operations that failed.",
		}),

		routerSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_selections_total",
			Help: "Model router selections by routing key and model.",
		}, []string{"routing_key", "model"}),
		routerExploration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_exploration_total",
			Help: "Selections flagged as exploration.",
		}, []string{"routing_key"}),
		routerReward: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_reward",
			Help:    "Observed reward fed back into the bandit.",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 1.0},
		}, []string{"routing_key", "model"}),

		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cost_usd_total",
			Help: "Cumulative USD cost recorded.",
		}, []string{"model"}),
		tokensRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cost_tokens_total",
			Help: "Tokens recorded by direction.",
		}, []string{"model", "direction"}),
		budgetAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cost_budget_alerts_total",
			Help: "Cost records made while spend was at or above the approaching-limit threshold.",
		}),

		vaultOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Key vault operations performed.",
		}),

		memorySearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memory_searches_total",
			Help: "Context memory retrieval calls.",
		}, []string{"project_id"}),
	}

	reg.MustRegister(
		m.agentExecutions, m.agentDuration, m.agentTokens, m.agentActiveRuns, m.agentHierarchyDeny,
		m.sessionsCreated, m.sessionsActive, m.sessionEvents,
		m.locksHeld, m.lockWaitSecs, m.lockTimeouts, m.lockStaleHits,
		m.checkpointsCreated, m.checkpointSizeBytes, m.restoreDuration, m.restoreFailures,
		m.routerSelections, m.routerExploration, m.routerReward,
		m.costUSD, m.tokensRecorded, m.budgetAlerts,
		m.vaultOps,
		m.memorySearches,
	)
	return m
}

// Handler exposes the registry over HTTP at the conventional /metrics path.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAgentExecution records a completed agent execution.
func (m *Metrics) ObserveAgentExecution(kind, status string, dur time.Duration, tokens int) {
	m.agentExecutions.WithLabelValues(kind, status).Inc()
	m.agentDuration.WithLabelValues(kind).Observe(dur.Seconds())
	m.agentTokens.WithLabelValues(kind).Add(float64(tokens))
}

// SetAgentActive updates the gauge of currently running agents of a kind.
func (m *Metrics) SetAgentActive(kind string, delta float64) {
	m.agentActiveRuns.WithLabelValues(kind).Add(delta)
}

// RecordHierarchyViolation records a rejected spawn attempt.
func (m *Metrics) RecordHierarchyViolation(parentKind, childKind string) {
	m.agentHierarchyDeny.WithLabelValues(parentKind, childKind).Inc()
}

// RecordSessionCreated records a session creation, tagged by reason.
func (m *Metrics) RecordSessionCreated(reason string) {
	m.sessionsCreated.WithLabelValues(reason).Inc()
}

// SetSessionActive updates the single-active-session gauge.
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.sessionsActive.Set(1)
	} else {
		m.sessionsActive.Set(0)
	}
}

// RecordSessionEvent records a journal append.
func (m *Metrics) RecordSessionEvent(kind string) {
	m.sessionEvents.WithLabelValues(kind).Inc()
}

// SetLocksHeld updates the gauge of locks held of a resource kind.
func (m *Metrics) SetLocksHeld(kind string, delta float64) {
	m.locksHeld.WithLabelValues(kind).Add(delta)
}

// ObserveLockWait records time spent waiting for a lock.
func (m *Metrics) ObserveLockWait(kind string, d time.Duration) {
	m.lockWaitSecs.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordLockTimeout records a timed-out acquisition.
func (m *Metrics) RecordLockTimeout(kind string) { m.lockTimeouts.WithLabelValues(kind).Inc() }

// RecordLockStaleReclaim records a stale lock reclaim.
func (m *Metrics) RecordLockStaleReclaim(kind string) { m.lockStaleHits.WithLabelValues(kind).Inc() }

// RecordCheckpointCreated records a checkpoint creation with its size.
func (m *Metrics) RecordCheckpointCreated(projectID string, sizeBytes int) {
	m.checkpointsCreated.WithLabelValues(projectID).Inc()
	m.checkpointSizeBytes.Observe(float64(sizeBytes))
}

// ObserveRestore records the duration and outcome of a restore.
func (m *Metrics) ObserveRestore(d time.Duration, failed bool) {
	m.restoreDuration.Observe(d.Seconds())
	if failed {
		m.restoreFailures.Inc()
	}
}

// RecordRouterSelection records a bandit selection.
func (m *Metrics) RecordRouterSelection(routingKey, model string, exploration bool) {
	m.routerSelections.WithLabelValues(routingKey, model).Inc()
	if exploration {
		m.routerExploration.WithLabelValues(routingKey).Inc()
	}
}

// ObserveRouterReward records a reward fed back into the bandit.
func (m *Metrics) ObserveRouterReward(routingKey, model string, reward float64) {
	m.routerReward.WithLabelValues(routingKey, model).Observe(reward)
}

// RecordCost records a cost ledger entry.
func (m *Metrics) RecordCost(model string, usd float64, inputTokens, outputTokens int, approachingLimit bool) {
	m.costUSD.WithLabelValues(model).Add(usd)
	m.tokensRecorded.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.tokensRecorded.WithLabelValues(model, "output").Add(float64(outputTokens))
	if approachingLimit {
		m.budgetAlerts.Inc()
	}
}

// RecordVaultOp increments the vault operation counter.
func (m *Metrics) RecordVaultOp() { m.vaultOps.Inc() }

// RecordMemorySearch records a context memory retrieval.
func (m *Metrics) RecordMemorySearch(projectID string) {
	m.memorySearches.WithLabelValues(projectID).Inc()
}
