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

package ferror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileErrorFormatting(t *testing.T) {
	e := NewCompileError("MyQuery", 3, 14, "unknown identifier foo")
	assert.Contains(t, e.Error(), "MyQuery")
	assert.Contains(t, e.Error(), "3:14")

	anon := NewCompileError("", 1, 1, "syntax error")
	assert.NotContains(t, anon.Error(), "query")
}

func TestErrorsWrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")

	se := &StoreError{Store: "sqlite", Key: "app1/rev2", Cause: cause}
	require.ErrorIs(t, se, cause)
	assert.Contains(t, se.Error(), "sqlite")

	sn := &SnapshotError{ComponentID: "window-1", Reason: "checksum mismatch", Cause: cause}
	require.ErrorIs(t, sn, cause)

	de := &DispatchError{Junction: "In", Reason: "queue_full", Cause: cause}
	require.ErrorIs(t, de, cause)

	ce := &CompileError{Query: "Q", Line: 1, Col: 2, Msg: "bad", Cause: cause}
	require.ErrorIs(t, ce, cause)
}
