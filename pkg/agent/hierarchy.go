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

// allowedChildren is the spawn table enforced at spawn time: Orchestrator
// may only spawn a Planner; a Planner may only spawn one of the three
// leaf kinds. Leaves spawn nothing.
var allowedChildren = map[Kind]map[Kind]bool{
	KindOrchestrator: {KindPlanner: true},
	KindPlanner:      {KindCoder: true, KindReviewer: true, KindTester: true},
}

// CanSpawn reports whether a parent of kind parent may spawn a child of
// kind child. Any pair not present in the table is rejected.
func CanSpawn(parent, child Kind) bool {
	children, ok := allowedChildren[parent]
	if !ok {
		return false
	}
	return children[child]
}

// MaxChildDepth returns how many more levels a node of the given kind may
// spawn below itself. Leaves always return 0.
func MaxChildDepth(kind Kind) int {
	switch kind {
	case KindOrchestrator:
		return 2 // Orchestrator -> Planner -> leaf
	case KindPlanner:
		return 1 // Planner -> leaf
	default:
		return 0
	}
}
