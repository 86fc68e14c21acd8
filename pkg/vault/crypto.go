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

// Package vault stores third-party API keys encrypted at rest with
// AES-256-GCM under a rotatable master key kept in the OS keyring.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/demiarch/orchestrator/pkg/errs"
)

const (
	aesKeySize = 32 // AES-256
	nonceSize  = 12 // GCM standard nonce size
)

// MasterKey is a 32-byte AES-256 key. Callers should drop references to
// it as soon as a crypto operation completes; with no automatic zeroize
// on scope exit, the best this type can do is never log or serialize its
// bytes.
type MasterKey struct {
	bytes [aesKeySize]byte
}

// GenerateMasterKey returns a fresh random master key.
func GenerateMasterKey() (MasterKey, error) {
	var mk MasterKey
	if _, err := rand.Read(mk.bytes[:]); err != nil {
		return MasterKey{}, errs.Wrap(errs.CodeCryptoEncryption, errs.CategoryCrypto, "failed to generate master key", err)
	}
	return mk, nil
}

// MasterKeyFromBytes wraps an existing 32-byte key.
func MasterKeyFromBytes(b []byte) (MasterKey, error) {
	if len(b) != aesKeySize {
		return MasterKey{}, errs.New(errs.CodeCryptoEncryption, errs.CategoryCrypto,
			fmt.Sprintf("invalid master key length: expected %d, got %d", aesKeySize, len(b)))
	}
	var mk MasterKey
	copy(mk.bytes[:], b)
	return mk, nil
}

// MasterKeyFromHex decodes a hex-encoded master key (the form stored in
// the OS keyring / fallback file).
func MasterKeyFromHex(hexStr string) (MasterKey, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return MasterKey{}, errs.Wrap(errs.CodeCryptoEncryption, errs.CategoryCrypto, "invalid master key encoding", err)
	}
	return MasterKeyFromBytes(b)
}

// ToHex exports the key as a hex string for keyring/file storage.
func (m MasterKey) ToHex() string { return hex.EncodeToString(m.bytes[:]) }

// String never reveals key material.
func (m MasterKey) String() string { return "MasterKey{REDACTED}" }

func newCipher(m MasterKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(m.bytes[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encrypt returns base64-encoded (ciphertext, nonce).
func encrypt(plaintext string, master MasterKey) (ciphertextB64, nonceB64 string, err error) {
	gcm, err := newCipher(master)
	if err != nil {
		return "", "", errs.Wrap(errs.CodeCryptoEncryption, errs.CategoryCrypto, "failed to init cipher", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", errs.Wrap(errs.CodeCryptoEncryption, errs.CategoryCrypto, "failed to generate nonce", err)
	}
	ct := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(nonce), nil
}

// decrypt reverses encrypt, given base64-encoded ciphertext and nonce.
func decrypt(ciphertextB64, nonceB64 string, master MasterKey) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", errs.Wrap(errs.CodeCryptoDecryption, errs.CategoryCrypto, "invalid ciphertext encoding", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", errs.Wrap(errs.CodeCryptoDecryption, errs.CategoryCrypto, "invalid nonce encoding", err)
	}
	if len(nonce) != nonceSize {
		return "", errs.New(errs.CodeCryptoDecryption, errs.CategoryCrypto,
			fmt.Sprintf("invalid nonce length: expected %d, got %d", nonceSize, len(nonce)))
	}
	gcm, err := newCipher(master)
	if err != nil {
		return "", errs.Wrap(errs.CodeCryptoDecryption, errs.CategoryCrypto, "failed to init cipher", err)
	}
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", errs.New(errs.CodeCryptoDecryption, errs.CategoryCrypto, "decryption failed: invalid key or corrupted data")
	}
	return string(pt), nil
}
