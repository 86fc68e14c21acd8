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
	"time"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/store"
)

// keyRepository persists EncryptedKey rows to the encrypted_keys table.
type keyRepository struct {
	db      *sql.DB
	dialect string
}

func newKeyRepository(db *sql.DB, dialect string) *keyRepository {
	return &keyRepository{db: db, dialect: dialect}
}

func (r *keyRepository) insert(ctx context.Context, k EncryptedKey) error {
	query := store.Rebind(r.dialect, `
INSERT INTO encrypted_keys (id, name, ciphertext, nonce, description, preview, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, k.ID, k.Name, k.Ciphertext, k.Nonce, k.Description, k.Preview, k.CreatedAt, k.UpdatedAt, k.LastUsedAt)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to insert encrypted key", err)
	}
	return nil
}

func (r *keyRepository) update(ctx context.Context, k EncryptedKey) error {
	query := store.Rebind(r.dialect, `
UPDATE encrypted_keys SET ciphertext = ?, nonce = ?, description = ?, preview = ?, updated_at = ?
WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, k.Ciphertext, k.Nonce, k.Description, k.Preview, k.UpdatedAt, k.ID)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to update encrypted key", err)
	}
	return r.requireAffected(res, errs.CodeKeyNotFound, k.ID)
}

func (r *keyRepository) touchLastUsed(ctx context.Context, id string, when time.Time) error {
	query := store.Rebind(r.dialect, `UPDATE encrypted_keys SET last_used_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, when, id)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to touch last_used_at", err)
	}
	return r.requireAffected(res, errs.CodeKeyNotFound, id)
}

func (r *keyRepository) delete(ctx context.Context, id string) error {
	query := store.Rebind(r.dialect, `DELETE FROM encrypted_keys WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to delete encrypted key", err)
	}
	return r.requireAffected(res, errs.CodeKeyNotFound, id)
}

func (r *keyRepository) getByID(ctx context.Context, id string) (EncryptedKey, error) {
	query := store.Rebind(r.dialect, r.selectColumns()+" WHERE id = ?")
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

func (r *keyRepository) getByName(ctx context.Context, name string) (EncryptedKey, error) {
	query := store.Rebind(r.dialect, r.selectColumns()+" WHERE name = ?")
	return r.scanOne(r.db.QueryRowContext(ctx, query, name), name)
}

func (r *keyRepository) list(ctx context.Context) ([]EncryptedKey, error) {
	query := store.Rebind(r.dialect, r.selectColumns()+" ORDER BY name ASC")
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to list encrypted keys", err)
	}
	defer rows.Close()

	var out []EncryptedKey
	for rows.Next() {
		k, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *keyRepository) selectColumns() string {
	return `SELECT id, name, ciphertext, nonce, description, preview, created_at, updated_at, last_used_at FROM encrypted_keys`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *keyRepository) scanRow(s rowScanner) (EncryptedKey, error) {
	var k EncryptedKey
	var description sql.NullString
	var lastUsedAt sql.NullTime
	if err := s.Scan(&k.ID, &k.Name, &k.Ciphertext, &k.Nonce, &description, &k.Preview, &k.CreatedAt, &k.UpdatedAt, &lastUsedAt); err != nil {
		return EncryptedKey{}, err
	}
	k.Description = description.String
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		k.LastUsedAt = &t
	}
	return k, nil
}

func (r *keyRepository) scanOne(row rowScanner, lookup string) (EncryptedKey, error) {
	k, err := r.scanRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return EncryptedKey{}, errs.NotFound(errs.CodeKeyNotFound, "key", lookup)
		}
		return EncryptedKey{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read encrypted key", err)
	}
	return k, nil
}

func (r *keyRepository) requireAffected(res sql.Result, code, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read rows affected", err)
	}
	if n == 0 {
		return errs.NotFound(code, "key", id)
	}
	return nil
}
