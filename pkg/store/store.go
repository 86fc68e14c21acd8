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

// Package store owns the single database/sql handle shared by every
// persistence-backed component (cost ledger, checkpoint store, session
// engine, model router, key vault, context memory) and the schema
// migration that creates their tables. The lock registry does not use it;
// it keeps its locks in JSON files on disk. It supports
// PostgreSQL, MySQL, and SQLite through the same three drivers the rest of
// the stack imports blank: go-sql-driver/mysql, lib/pq, mattn/go-sqlite3.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/demiarch/orchestrator/pkg/config"
)

// Open opens (or creates, for SQLite) the database described by cfg,
// applies connection-pool and dialect-specific pragmas, pings it, and
// migrates the schema.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DriverName(), err)
	}

	if cfg.DriverName() == "sqlite3" {
		// SQLite allows only one writer; serialize all access through a
		// single connection to avoid "database is locked" errors.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if cfg.DriverName() == "sqlite3" {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=10000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				slog.Warn("failed to apply sqlite pragma", "pragma", pragma, "error", err)
			}
		}
	}

	if err := migrate(ctx, db, cfg.Dialect()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Rebind rewrites a query written with "?" placeholders into the
// placeholder style the dialect expects. SQLite and MySQL both accept "?"
// natively; PostgreSQL requires sequential "$1", "$2", ... Every component
// package writes queries once with "?" and calls Rebind at the call site
// that knows its own dialect.
func Rebind(dialect, query string) string {
	if dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
