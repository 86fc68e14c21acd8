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

package checkpoint

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/demiarch/orchestrator/pkg/errs"
)

// Signer signs and verifies checkpoint snapshot bytes with an Ed25519
// keypair. This keypair is distinct from the vault's master key: it
// authenticates checkpoints as having been written by this installation,
// it does not protect secret material.
type Signer struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateSigner creates a fresh random Ed25519 keypair.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCryptoEncryption, errs.CategoryCrypto, "failed to generate signing key", err)
	}
	return &Signer{public: pub, private: priv}, nil
}

// LoadOrCreateSigner reads a base64-encoded Ed25519 private key from path,
// or generates and persists a new one (0600) if the file doesn't exist.
func LoadOrCreateSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		priv, err := decodePrivateKey(string(data))
		if err != nil {
			return nil, err
		}
		return &Signer{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read signing key", err)
	}

	signer, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to create signing key directory", err)
	}
	if err := os.WriteFile(path, []byte(signer.encodePrivateKey()), 0o600); err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to write signing key", err)
	}
	return signer, nil
}

func decodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCryptoDecryption, errs.CategoryCrypto, "invalid signing key encoding", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errs.New(errs.CodeCryptoDecryption, errs.CategoryCrypto,
			fmt.Sprintf("invalid signing key length: expected %d, got %d", ed25519.PrivateKeySize, len(raw)))
	}
	return ed25519.PrivateKey(raw), nil
}

func (s *Signer) encodePrivateKey() string {
	return base64.StdEncoding.EncodeToString(s.private)
}

// Sign returns a base64-encoded Ed25519 signature over data.
func (s *Signer) Sign(data []byte) string {
	sig := ed25519.Sign(s.private, data)
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks a base64-encoded signature over data against this signer's
// public key.
func (s *Signer) Verify(data []byte, signatureB64 string) error {
	return VerifyWithPublicKey(s.public, data, signatureB64)
}

// VerifyWithPublicKey checks a signature using only a public key, for
// out-of-process verification.
func VerifyWithPublicKey(public ed25519.PublicKey, data []byte, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return errs.Wrap(errs.CodeCheckpointSignature, errs.CategorySignature, "invalid signature encoding", err)
	}
	if !ed25519.Verify(public, data, sig) {
		return errs.New(errs.CodeCheckpointSignature, errs.CategorySignature, "checkpoint signature verification failed")
	}
	return nil
}

// PublicKey returns the signer's public key bytes.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }
