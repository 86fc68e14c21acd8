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

package agent

import (
	"sync/atomic"

	"github.com/demiarch/orchestrator/pkg/costledger"
	"github.com/demiarch/orchestrator/pkg/llmclient"
	"github.com/demiarch/orchestrator/pkg/lock"
	"github.com/demiarch/orchestrator/pkg/observability"
	"github.com/demiarch/orchestrator/pkg/registry"
	"github.com/demiarch/orchestrator/pkg/router"
)

// Runtime is the runtime-wide state a whole agent tree shares: the model
// router, cost ledger, lock registry, LLM client, metrics, and a live
// registry of in-flight nodes for observability. A single *Runtime is
// constructed once per orchestrated request and handed to every node by
// pointer; Go's garbage collector keeps it alive for as long as any node
// holds the reference, so no manual refcount is needed.
type Runtime struct {
	Router   *router.Router
	Ledger   *costledger.Ledger
	Locks    *lock.Registry
	LLM      llmclient.Client
	Metrics  *observability.Metrics
	Live     *registry.BaseRegistry[*Node]
	cancelled atomic.Bool
}

// NewRuntime builds a Runtime. router/ledger/locks/metrics may be nil in
// tests that don't exercise those collaborators; llm must not be nil.
func NewRuntime(r *router.Router, ledger *costledger.Ledger, locks *lock.Registry, llm llmclient.Client, metrics *observability.Metrics) *Runtime {
	return &Runtime{
		Router:  r,
		Ledger:  ledger,
		Locks:   locks,
		LLM:     llm,
		Metrics: metrics,
		Live:    registry.NewBaseRegistry[*Node](),
	}
}

// Cancel fires the shared cancellation signal; every node checks it at
// entry and before spawning each child.
func (rt *Runtime) Cancel() { rt.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (rt *Runtime) Cancelled() bool { return rt.cancelled.Load() }

// register records an in-flight node so monitoring can see live work.
func (rt *Runtime) register(n *Node) {
	if rt.Live == nil {
		return
	}
	rt.Live.Put(n.Context.ID, n)
	if rt.Metrics != nil {
		rt.Metrics.SetAgentActive(string(n.Context.Kind), 1)
	}
}

func (rt *Runtime) unregister(n *Node) {
	if rt.Live == nil {
		return
	}
	_ = rt.Live.Remove(n.Context.ID)
	if rt.Metrics != nil {
		rt.Metrics.SetAgentActive(string(n.Context.Kind), -1)
	}
}
