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

// Package table implements the keyed row storage backing `define table`
// and IN/join-against-table lookups: rows are value.Value slices in
// schema order, indexed by a declared primary key.
package table

import (
	"strings"

	"github.com/eventflux-io/eventflux/value"
)

// keyDelimiter joins composite primary-key components into a single map
// key, the same fixed non-printable-ASCII delimiter used for GROUP BY
// composite keys.
const keyDelimiter = "\x1f"

// Row is one table record: one value.Value per declared attribute, in
// schema order.
type Row []value.Value

// Key renders a Row's primary-key attribute values into the map key used
// by Table implementations, NULL rendering as the literal "null" per
// value.Value.String.
func Key(row Row, pkIndexes []int) string {
	if len(pkIndexes) == 0 {
		return ""
	}
	parts := make([]string, len(pkIndexes))
	for i, idx := range pkIndexes {
		parts[i] = row[idx].String()
	}
	return strings.Join(parts, keyDelimiter)
}

// Table is the storage interface a compiled `define table` target
// implements: insert, keyed lookup (used by IN and
// join-against-table), update, delete, and a predicate scan.
type Table interface {
	Insert(row Row) error
	Contains(key value.Value) bool
	ContainsComposite(key string) bool
	Update(key string, row Row) error
	Delete(key string) error
	Find(pred func(Row) bool) []Row
}
