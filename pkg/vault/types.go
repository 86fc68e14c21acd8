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

import "time"

// EncryptedKey is the persisted record for one stored provider credential.
// The plaintext is never stored; Ciphertext and Nonce are base64-encoded
// AES-256-GCM output, decryptable only with the current MasterKey.
type EncryptedKey struct {
	ID          string
	Name        string
	Ciphertext  string
	Nonce       string
	Description string
	Preview     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastUsedAt  *time.Time
}

// SecureString wraps a decrypted secret. Go has no destructor hook to
// zeroize on scope exit, so callers that want the memory cleared
// explicitly call Zero once the value is no longer needed.
type SecureString struct {
	value []byte
}

// NewSecureString wraps plaintext bytes.
func NewSecureString(plaintext string) *SecureString {
	return &SecureString{value: []byte(plaintext)}
}

// AsStr returns the wrapped plaintext.
func (s *SecureString) AsStr() string {
	if s == nil {
		return ""
	}
	return string(s.value)
}

// Zero overwrites the backing bytes with zeroes. Call when the secret is no
// longer needed; it is not automatic.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	for i := range s.value {
		s.value[i] = 0
	}
}

// String never reveals the wrapped secret.
func (s *SecureString) String() string { return "SecureString{REDACTED}" }

// KeyInfo is the metadata-only view of a stored key returned by listings;
// it never carries the decrypted value, only a redacted preview.
type KeyInfo struct {
	ID          string
	Name        string
	Description string
	Preview     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastUsedAt  *time.Time
}

// redactedPreview forms "***" + the last 4 characters of plaintext; a
// plaintext of 4 characters or fewer is appended whole ("ab" -> "***ab").
func redactedPreview(plaintext string) string {
	const tailLen = 4
	if len(plaintext) <= tailLen {
		return "***" + plaintext
	}
	return "***" + plaintext[len(plaintext)-tailLen:]
}
