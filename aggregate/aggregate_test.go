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

package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/value"
)

func TestSumAggregator(t *testing.T) {
	f, ok := Lookup("sum")
	require.True(t, ok)
	a := f()
	a.ProcessAdd(value.NewLong(3))
	a.ProcessAdd(value.NewLong(4))
	assert.Equal(t, int64(7), a.Result().AsLong())
	a.ProcessRemove(value.NewLong(3))
	assert.Equal(t, int64(4), a.Result().AsLong())
}

func TestCountAggregator(t *testing.T) {
	f, _ := Lookup("count")
	a := f()
	a.ProcessAdd(value.NewInt(1))
	a.ProcessAdd(value.NewInt(2))
	a.ProcessAdd(value.NewInt(3))
	assert.Equal(t, int64(3), a.Result().AsLong())
	a.ProcessRemove(value.NewInt(1))
	assert.Equal(t, int64(2), a.Result().AsLong())
}

func TestAvgAggregator(t *testing.T) {
	f, _ := Lookup("avg")
	a := f()
	a.ProcessAdd(value.NewLong(2))
	a.ProcessAdd(value.NewLong(4))
	assert.Equal(t, 3.0, a.Result().AsDouble())
}

func TestMinMaxAggregator(t *testing.T) {
	fMin, _ := Lookup("min")
	min := fMin()
	min.ProcessAdd(value.NewLong(5))
	min.ProcessAdd(value.NewLong(2))
	min.ProcessAdd(value.NewLong(9))
	assert.Equal(t, int64(2), min.Result().AsLong())

	fMax, _ := Lookup("max")
	max := fMax()
	max.ProcessAdd(value.NewLong(5))
	max.ProcessAdd(value.NewLong(2))
	max.ProcessAdd(value.NewLong(9))
	assert.Equal(t, int64(9), max.Result().AsLong())
}

func TestResetClearsState(t *testing.T) {
	f, _ := Lookup("sum")
	a := f()
	a.ProcessAdd(value.NewLong(10))
	a.Reset()
	assert.Equal(t, int64(0), a.Result().AsLong())
}

func TestNewProducesIndependentInstance(t *testing.T) {
	f, _ := Lookup("count")
	a := f()
	a.ProcessAdd(value.NewInt(1))
	b := a.New()
	assert.Equal(t, int64(0), b.Result().AsLong())
	assert.Equal(t, int64(1), a.Result().AsLong())
}
