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
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/observability"
)

// Vault is the key-management service (C3): it stores provider API keys
// encrypted under a rotatable master key kept in the OS keyring, and
// decrypts them on demand. It never returns plaintext through a listing
// call, only through Get.
type Vault struct {
	mu sync.Mutex

	repo      *keyRepository
	keyStore  *MasterKeyStore
	metrics   *observability.Metrics
	masterKey *MasterKey
}

// New creates a Vault backed by db and the given master-key store.
func New(db *sql.DB, dialect string, keyStore *MasterKeyStore, metrics *observability.Metrics) *Vault {
	return &Vault{
		repo:     newKeyRepository(db, dialect),
		keyStore: keyStore,
		metrics:  metrics,
	}
}

// Initialize loads the master key if it already exists, or generates and
// persists a new one. It must be called once before Store/Get/Update are
// used; it is idempotent and safe to call on every process start.
func (v *Vault) Initialize() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	exists, err := v.keyStore.Exists()
	if err != nil {
		return err
	}
	if exists {
		mk, err := v.keyStore.Get()
		if err != nil {
			return err
		}
		v.masterKey = &mk
		return nil
	}

	mk, err := GenerateMasterKey()
	if err != nil {
		return err
	}
	if err := v.keyStore.Store(mk); err != nil {
		return err
	}
	v.masterKey = &mk
	return nil
}

func (v *Vault) currentMasterKey() (MasterKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.masterKey == nil {
		return MasterKey{}, errs.New(errs.CodeCryptoEncryption, errs.CategoryCrypto, "vault not initialized")
	}
	return *v.masterKey, nil
}

func (v *Vault) recordOp() {
	if v.metrics != nil {
		v.metrics.RecordVaultOp()
	}
}

// Store encrypts and persists a new named key. It returns CodeCryptoKeyExists
// if a key with that name is already stored.
func (v *Vault) Store(ctx context.Context, name, description string, secret *SecureString) (KeyInfo, error) {
	defer v.recordOp()

	if _, err := v.repo.getByName(ctx, name); err == nil {
		return KeyInfo{}, errs.New(errs.CodeCryptoKeyExists, errs.CategoryCrypto, "key with this name already exists")
	} else if !errs.IsCode(err, errs.CodeKeyNotFound) {
		return KeyInfo{}, err
	}

	mk, err := v.currentMasterKey()
	if err != nil {
		return KeyInfo{}, err
	}

	plaintext := secret.AsStr()
	ciphertext, nonce, err := encrypt(plaintext, mk)
	if err != nil {
		return KeyInfo{}, err
	}

	now := time.Now().UTC()
	k := EncryptedKey{
		ID:          uuid.NewString(),
		Name:        name,
		Ciphertext:  ciphertext,
		Nonce:       nonce,
		Description: description,
		Preview:     redactedPreview(plaintext),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := v.repo.insert(ctx, k); err != nil {
		return KeyInfo{}, err
	}
	return toKeyInfo(k), nil
}

// Get decrypts and returns the secret stored under name, marking it used.
func (v *Vault) Get(ctx context.Context, name string) (*SecureString, error) {
	defer v.recordOp()

	k, err := v.repo.getByName(ctx, name)
	if err != nil {
		return nil, err
	}
	mk, err := v.currentMasterKey()
	if err != nil {
		return nil, err
	}
	plaintext, err := decrypt(k.Ciphertext, k.Nonce, mk)
	if err != nil {
		return nil, err
	}
	_ = v.repo.touchLastUsed(ctx, k.ID, time.Now().UTC())
	return NewSecureString(plaintext), nil
}

// MarkUsed records that a key was used without requiring a prior Get; callers
// that cache a decrypted value across calls should still call MarkUsed so
// LastUsedAt reflects actual usage.
func (v *Vault) MarkUsed(ctx context.Context, name string) error {
	k, err := v.repo.getByName(ctx, name)
	if err != nil {
		return err
	}
	return v.repo.touchLastUsed(ctx, k.ID, time.Now().UTC())
}

// Update replaces the secret stored under name, re-encrypting with the
// current master key and optionally updating its description.
func (v *Vault) Update(ctx context.Context, name string, secret *SecureString, description *string) (KeyInfo, error) {
	defer v.recordOp()

	k, err := v.repo.getByName(ctx, name)
	if err != nil {
		return KeyInfo{}, err
	}
	mk, err := v.currentMasterKey()
	if err != nil {
		return KeyInfo{}, err
	}

	plaintext := secret.AsStr()
	ciphertext, nonce, err := encrypt(plaintext, mk)
	if err != nil {
		return KeyInfo{}, err
	}
	k.Ciphertext = ciphertext
	k.Nonce = nonce
	k.Preview = redactedPreview(plaintext)
	k.UpdatedAt = time.Now().UTC()
	if description != nil {
		k.Description = *description
	}

	if err := v.repo.update(ctx, k); err != nil {
		return KeyInfo{}, err
	}
	return toKeyInfo(k), nil
}

// Delete removes a stored key permanently.
func (v *Vault) Delete(ctx context.Context, name string) error {
	defer v.recordOp()

	k, err := v.repo.getByName(ctx, name)
	if err != nil {
		return err
	}
	return v.repo.delete(ctx, k.ID)
}

// Exists reports whether a key with the given name is stored.
func (v *Vault) Exists(ctx context.Context, name string) (bool, error) {
	_, err := v.repo.getByName(ctx, name)
	if err == nil {
		return true, nil
	}
	if errs.IsCode(err, errs.CodeKeyNotFound) {
		return false, nil
	}
	return false, err
}

// List returns metadata (never plaintext) for every stored key.
func (v *Vault) List(ctx context.Context) ([]KeyInfo, error) {
	keys, err := v.repo.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, toKeyInfo(k))
	}
	return out, nil
}

// RotateMasterKey generates a fresh master key, re-encrypts every stored
// key's secret under it, then persists the new master key. If any
// re-encryption step fails, the master key in the keyring is left
// unchanged and no row is modified, since the swap is only committed after
// every key has been successfully re-wrapped in memory.
func (v *Vault) RotateMasterKey(ctx context.Context) error {
	v.mu.Lock()
	oldKey := v.masterKey
	v.mu.Unlock()
	if oldKey == nil {
		return errs.New(errs.CodeCryptoEncryption, errs.CategoryCrypto, "vault not initialized")
	}

	keys, err := v.repo.list(ctx)
	if err != nil {
		return err
	}

	newKey, err := GenerateMasterKey()
	if err != nil {
		return err
	}

	rewrapped := make([]EncryptedKey, 0, len(keys))
	for _, k := range keys {
		plaintext, err := decrypt(k.Ciphertext, k.Nonce, *oldKey)
		if err != nil {
			return errs.Wrap(errs.CodeCryptoDecryption, errs.CategoryCrypto, "failed to decrypt key during rotation", err)
		}
		ciphertext, nonce, err := encrypt(plaintext, newKey)
		if err != nil {
			return err
		}
		k.Ciphertext = ciphertext
		k.Nonce = nonce
		k.UpdatedAt = time.Now().UTC()
		rewrapped = append(rewrapped, k)
	}

	for _, k := range rewrapped {
		if err := v.repo.update(ctx, k); err != nil {
			return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to persist rewrapped key during rotation", err)
		}
	}

	if err := v.keyStore.Store(newKey); err != nil {
		return err
	}

	v.mu.Lock()
	v.masterKey = &newKey
	v.mu.Unlock()
	return nil
}

// DestroyMasterKey permanently deletes the master key from the keyring and
// fallback file. Every encrypted key becomes unrecoverable; callers should
// treat this as irreversible decommissioning, not routine rotation.
func (v *Vault) DestroyMasterKey() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.keyStore.Delete(); err != nil {
		return err
	}
	v.masterKey = nil
	return nil
}

func toKeyInfo(k EncryptedKey) KeyInfo {
	return KeyInfo{
		ID:          k.ID,
		Name:        k.Name,
		Description: k.Description,
		Preview:     k.Preview,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
		LastUsedAt:  k.LastUsedAt,
	}
}
