/*
 * Copyright 2025 The EventFlux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package snapshot

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eventflux-io/eventflux/ferror"
)

// SQLiteStore persists revisions in one table keyed by (app_id, revision).
type SQLiteStore struct {
	db           *sql.DB
	maxRevisions int
}

// OpenSQLiteStore opens (creating if absent) a snapshot table in the
// SQLite database at path, retaining at most maxRevisions revisions per
// app (0 keeps everything).
func OpenSQLiteStore(path string, maxRevisions int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &ferror.StoreError{Store: "sqlite", Key: path, Cause: err}
	}
	ddl := `CREATE TABLE IF NOT EXISTS eventflux_snapshots (
		app_id   TEXT NOT NULL,
		revision TEXT NOT NULL,
		data     BLOB NOT NULL,
		PRIMARY KEY (app_id, revision)
	)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, &ferror.StoreError{Store: "sqlite", Key: path, Cause: err}
	}
	return &SQLiteStore{db: db, maxRevisions: maxRevisions}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(appID, revision string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO eventflux_snapshots (app_id, revision, data) VALUES (?, ?, ?)`,
		appID, revision, data)
	if err != nil {
		return &ferror.StoreError{Store: "sqlite", Key: appID + "/" + revision, Cause: err}
	}
	if s.maxRevisions > 0 {
		_, err = s.db.Exec(
			`DELETE FROM eventflux_snapshots WHERE app_id = ? AND revision NOT IN (
				SELECT revision FROM eventflux_snapshots WHERE app_id = ?
				ORDER BY revision DESC LIMIT ?
			)`, appID, appID, s.maxRevisions)
		if err != nil {
			return &ferror.StoreError{Store: "sqlite", Key: appID, Cause: err}
		}
	}
	return nil
}

func (s *SQLiteStore) Load(appID, revision string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM eventflux_snapshots WHERE app_id = ? AND revision = ?`,
		appID, revision).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &ferror.StoreError{Store: "sqlite", Key: appID + "/" + revision, Cause: fmt.Errorf("revision not found")}
	}
	if err != nil {
		return nil, &ferror.StoreError{Store: "sqlite", Key: appID + "/" + revision, Cause: err}
	}
	return data, nil
}

func (s *SQLiteStore) LastRevision(appID string) (string, error) {
	var rev string
	err := s.db.QueryRow(
		`SELECT revision FROM eventflux_snapshots WHERE app_id = ? ORDER BY revision DESC LIMIT 1`,
		appID).Scan(&rev)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &ferror.StoreError{Store: "sqlite", Key: appID, Cause: err}
	}
	return rev, nil
}

func (s *SQLiteStore) ClearAllRevisions(appID string) error {
	if _, err := s.db.Exec(`DELETE FROM eventflux_snapshots WHERE app_id = ?`, appID); err != nil {
		return &ferror.StoreError{Store: "sqlite", Key: appID, Cause: err}
	}
	return nil
}
