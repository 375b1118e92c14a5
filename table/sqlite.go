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

package table

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/value"
)

// SQLite is the `@store(type='sqlite', ...)` persistent Table backing:
// a single two-column (key, row) table addressed through database/sql. Each Row is
// gob-encoded as a []interface{} of its attributes' AsInterface() form;
// schema holds the declared attribute types needed to rebuild Values on
// read.
type SQLite struct {
	db        *sql.DB
	table     string
	pkIndexes []int
	schema    []value.Type
}

// OpenSQLite opens (creating if absent) a SQLite-backed table at path,
// named table, for a row schema of the given attribute types.
func OpenSQLite(path, tableName string, schema []value.Type, pkIndexes []int) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &ferror.StoreError{Store: "sqlite", Key: tableName, Cause: err}
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (key TEXT PRIMARY KEY, row BLOB)`, tableName)
	if _, err := db.Exec(ddl); err != nil {
		return nil, &ferror.StoreError{Store: "sqlite", Key: tableName, Cause: err}
	}
	return &SQLite{db: db, table: tableName, pkIndexes: pkIndexes, schema: schema}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) encode(row Row) ([]byte, error) {
	raw := make([]interface{}, len(row))
	for i, v := range row {
		raw[i] = v.AsInterface()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SQLite) decode(blob []byte) (Row, error) {
	var raw []interface{}
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&raw); err != nil {
		return nil, err
	}
	row := make(Row, len(raw))
	for i, v := range raw {
		t := value.OBJECT
		if i < len(s.schema) {
			t = s.schema[i]
		}
		fv, err := value.FromInterface(t, v)
		if err != nil {
			return nil, err
		}
		row[i] = fv
	}
	return row, nil
}

func (s *SQLite) Insert(row Row) error {
	key := Key(row, s.pkIndexes)
	blob, err := s.encode(row)
	if err != nil {
		return &ferror.StoreError{Store: "sqlite", Key: key, Cause: err}
	}
	q := fmt.Sprintf(`INSERT OR REPLACE INTO %q (key, row) VALUES (?, ?)`, s.table)
	if _, err := s.db.Exec(q, key, blob); err != nil {
		return &ferror.StoreError{Store: "sqlite", Key: key, Cause: err}
	}
	return nil
}

func (s *SQLite) Contains(key value.Value) bool {
	return s.ContainsComposite(key.String())
}

func (s *SQLite) ContainsComposite(key string) bool {
	q := fmt.Sprintf(`SELECT 1 FROM %q WHERE key = ?`, s.table)
	row := s.db.QueryRow(q, key)
	var one int
	return row.Scan(&one) == nil
}

func (s *SQLite) Update(key string, row Row) error {
	blob, err := s.encode(row)
	if err != nil {
		return &ferror.StoreError{Store: "sqlite", Key: key, Cause: err}
	}
	q := fmt.Sprintf(`UPDATE %q SET row = ? WHERE key = ?`, s.table)
	res, err := s.db.Exec(q, blob, key)
	if err != nil {
		return &ferror.StoreError{Store: "sqlite", Key: key, Cause: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ferror.StoreError{Store: "sqlite", Key: key, Cause: fmt.Errorf("no such row")}
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	q := fmt.Sprintf(`DELETE FROM %q WHERE key = ?`, s.table)
	if _, err := s.db.Exec(q, key); err != nil {
		return &ferror.StoreError{Store: "sqlite", Key: key, Cause: err}
	}
	return nil
}

func (s *SQLite) Find(pred func(Row) bool) []Row {
	q := fmt.Sprintf(`SELECT row FROM %q`, s.table)
	rows, err := s.db.Query(q)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			continue
		}
		r, err := s.decode(blob)
		if err != nil {
			continue
		}
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
