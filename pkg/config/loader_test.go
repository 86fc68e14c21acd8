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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, data map[string]any) string {
	t.Helper()
	raw, err := yaml.Marshal(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"database": map[string]any{"driver": "sqlite", "database": ":memory:"},
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":memory:", cfg.Database.Database)
	assert.Equal(t, 30*time.Second, cfg.Lock.DefaultTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.Checkpoint.RetentionAge)
	assert.Equal(t, 50, cfg.Checkpoint.MaxPerProject)
	assert.Equal(t, 50.0, cfg.Cost.DailyBudgetUSD)
	assert.Equal(t, 0.8, cfg.Cost.ApproachingPercent)
	assert.Equal(t, 1.0, cfg.Router.ExplorationFactor)
	assert.Equal(t, 5, cfg.Memory.TopK)
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_ORCH_LOCK_DIR", "/tmp/test-locks")
	t.Setenv("TEST_ORCH_BUDGET", "12.5")

	path := writeConfigFile(t, map[string]any{
		"database": map[string]any{"driver": "sqlite", "database": ":memory:"},
		"lock":     map[string]any{"dir": "${TEST_ORCH_LOCK_DIR}"},
		"cost":     map[string]any{"daily_budget_usd": "${TEST_ORCH_BUDGET}"},
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test-locks", cfg.Lock.Dir)
	assert.Equal(t, 12.5, cfg.Cost.DailyBudgetUSD)
}

func TestLoadConfigEnvVarDefaultFallback(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"database": map[string]any{"driver": "sqlite", "database": ":memory:"},
		"lock":     map[string]any{"dir": "${THIS_VAR_IS_NOT_SET:-.fallback/locks}"},
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ".fallback/locks", cfg.Lock.Dir)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{
			name: "bad driver",
			data: map[string]any{"database": map[string]any{"driver": "oracle", "database": "x"}},
		},
		{
			name: "threshold out of range",
			data: map[string]any{
				"database": map[string]any{"driver": "sqlite", "database": ":memory:"},
				"cost":     map[string]any{"approaching_percent": 1.5},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.data)
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
