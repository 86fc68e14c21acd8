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

package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"

	"github.com/demiarch/orchestrator/pkg/errs"
)

const masterKeyAccount = "master-key"

// MasterKeyStore persists the master key: the OS keyring when available,
// falling back to a local file (0600) when the keyring service is
// unreachable (e.g. a headless CI runner with no login keyring).
type MasterKeyStore struct {
	service      string
	fallbackPath string
}

// NewMasterKeyStore creates a store targeting the given keyring service
// name, with fallbackPath used if the OS keyring is unavailable.
func NewMasterKeyStore(service, fallbackPath string) *MasterKeyStore {
	return &MasterKeyStore{service: service, fallbackPath: fallbackPath}
}

// Exists reports whether a master key has already been stored.
func (s *MasterKeyStore) Exists() (bool, error) {
	_, err := s.get()
	if err == nil {
		return true, nil
	}
	if errs.IsCode(err, errs.CodeKeyNotFound) {
		return false, nil
	}
	return false, err
}

// Get retrieves the stored master key.
func (s *MasterKeyStore) Get() (MasterKey, error) {
	return s.get()
}

func (s *MasterKeyStore) get() (MasterKey, error) {
	if hexKey, err := keyring.Get(s.service, masterKeyAccount); err == nil {
		return MasterKeyFromHex(hexKey)
	}

	data, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return MasterKey{}, errs.NotFound(errs.CodeKeyNotFound, "master key", s.service)
		}
		return MasterKey{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read master key fallback file", err)
	}
	return MasterKeyFromHex(string(data))
}

// Store persists the master key, preferring the OS keyring.
func (s *MasterKeyStore) Store(key MasterKey) error {
	if err := keyring.Set(s.service, masterKeyAccount, key.ToHex()); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o700); err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to create master key directory", err)
	}
	if err := os.WriteFile(s.fallbackPath, []byte(key.ToHex()), 0o600); err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to write master key fallback file", err)
	}
	return nil
}

// Delete removes the stored master key from both the keyring and the
// fallback file. WARNING: every key encrypted under it becomes permanently
// unrecoverable.
func (s *MasterKeyStore) Delete() error {
	keyringErr := keyring.Delete(s.service, masterKeyAccount)
	fileErr := os.Remove(s.fallbackPath)
	if keyringErr != nil && keyringErr != keyring.ErrNotFound && fileErr != nil && !os.IsNotExist(fileErr) {
		return fmt.Errorf("failed to delete master key: keyring=%v file=%v", keyringErr, fileErr)
	}
	return nil
}
