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

package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/log"
)

func TestScheduleAtStartFiresOnce(t *testing.T) {
	s := New(log.NewDiscardLogger())
	var fired atomic.Int64
	require.NoError(t, s.ScheduleAtStart("t1", func(int64) { fired.Add(1) }))

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), fired.Load())
}

func TestScheduleEveryFiresRepeatedly(t *testing.T) {
	s := New(log.NewDiscardLogger())
	var fired atomic.Int64
	require.NoError(t, s.ScheduleEvery("t1", 10*time.Millisecond, func(int64) { fired.Add(1) }))

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return fired.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduleEveryRejectsNonPositiveInterval(t *testing.T) {
	s := New(log.NewDiscardLogger())
	assert.Error(t, s.ScheduleEvery("t1", 0, func(int64) {}))
}

func TestScheduleRejectsDuplicateID(t *testing.T) {
	s := New(log.NewDiscardLogger())
	require.NoError(t, s.ScheduleEvery("t1", time.Second, func(int64) {}))
	assert.Error(t, s.ScheduleEvery("t1", time.Second, func(int64) {}))
}

func TestTaskRegisteredAfterStartLaunches(t *testing.T) {
	s := New(log.NewDiscardLogger())
	s.Start()
	defer s.Stop()

	var fired atomic.Int64
	require.NoError(t, s.ScheduleAtStart("late", func(int64) { fired.Add(1) }))
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopQuiescesTasks(t *testing.T) {
	s := New(log.NewDiscardLogger())
	var fired atomic.Int64
	require.NoError(t, s.ScheduleEvery("t1", 5*time.Millisecond, func(int64) { fired.Add(1) }))
	s.Start()
	assert.Eventually(t, func() bool { return fired.Load() >= 1 }, time.Second, time.Millisecond)

	s.Stop()
	after := fired.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fired.Load())

	// Idempotent.
	s.Stop()
}

func TestParseCronRejectsMalformedExpressions(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "61 * * * *", "a * * * *", "5-2 * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestCronNextMatchesFields(t *testing.T) {
	spec, err := parseCron("30 14 * * *")
	require.NoError(t, err)

	from := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	next := spec.next(from)
	assert.Equal(t, time.Date(2021, 3, 15, 14, 30, 0, 0, time.UTC), next)

	// Already past today's slot: rolls to tomorrow.
	from = time.Date(2021, 3, 15, 15, 0, 0, 0, time.UTC)
	next = spec.next(from)
	assert.Equal(t, time.Date(2021, 3, 16, 14, 30, 0, 0, time.UTC), next)
}

func TestCronNextHonorsStepsAndLists(t *testing.T) {
	spec, err := parseCron("*/15 * * * *")
	require.NoError(t, err)
	from := time.Date(2021, 3, 15, 12, 16, 0, 0, time.UTC)
	assert.Equal(t, 30, spec.next(from).Minute())

	spec, err = parseCron("5,35 9-17 * * 1-5")
	require.NoError(t, err)
	// A Saturday: next fire is Monday 09:05.
	from = time.Date(2021, 3, 20, 10, 0, 0, 0, time.UTC)
	next := spec.next(from)
	assert.Equal(t, time.Weekday(1), next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 5, next.Minute())
}
