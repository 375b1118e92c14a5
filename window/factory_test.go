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

package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBuildsEachKnownKind(t *testing.T) {
	cases := []Config{
		{Kind: KindLength, ComponentID: "w", Size: 3},
		{Kind: KindLengthBatch, ComponentID: "w", Size: 3},
		{Kind: KindTime, ComponentID: "w", Duration: time.Second},
		{Kind: KindTimeBatch, ComponentID: "w", Duration: time.Second},
		{Kind: KindSession, ComponentID: "w", Gap: time.Second},
		{Kind: KindSort, ComponentID: "w", Size: 3},
	}
	for _, cfg := range cases {
		w, err := Create(cfg)
		require.NoError(t, err, cfg.Kind)
		require.NotNil(t, w)
		assert.Equal(t, "w", w.ComponentID())
	}
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	_, err := Create(Config{Kind: "bogus"})
	assert.Error(t, err)
}
