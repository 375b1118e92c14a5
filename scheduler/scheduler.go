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

// Package scheduler runs the periodic and trigger-driven callbacks of an
// app runtime: `define trigger` sources (at start, every <interval>, or a
// cron expression) and internal sweeps such as pattern absence deadlines.
// Tasks fire on their own goroutines owned by the Scheduler; Stop
// quiesces all of them and waits.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eventflux-io/eventflux/log"
)

// Callback receives the fire time in epoch millis.
type Callback func(nowMillis int64)

type taskKind int

const (
	taskAtStart taskKind = iota
	taskEvery
	taskCron
)

type task struct {
	id       string
	kind     taskKind
	interval time.Duration
	cron     *cronSpec
	fn       Callback
}

// Scheduler owns the timer tasks of one app runtime.
type Scheduler struct {
	logger log.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds an idle Scheduler; Start launches the registered tasks.
func New(logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{logger: logger, tasks: make(map[string]*task), done: make(chan struct{})}
}

func (s *Scheduler) add(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.id]; exists {
		return fmt.Errorf("scheduler: task %q already scheduled", t.id)
	}
	s.tasks[t.id] = t
	if s.started {
		s.launch(t)
	}
	return nil
}

// ScheduleAtStart fires fn once when the scheduler starts.
func (s *Scheduler) ScheduleAtStart(id string, fn Callback) error {
	return s.add(&task{id: id, kind: taskAtStart, fn: fn})
}

// ScheduleEvery fires fn every interval until Stop.
func (s *Scheduler) ScheduleEvery(id string, interval time.Duration, fn Callback) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %q: interval must be positive", id)
	}
	return s.add(&task{id: id, kind: taskEvery, interval: interval, fn: fn})
}

// ScheduleCron fires fn per a five-field cron expression
// (minute hour day-of-month month day-of-week).
func (s *Scheduler) ScheduleCron(id, expr string, fn Callback) error {
	spec, err := parseCron(expr)
	if err != nil {
		return err
	}
	return s.add(&task{id: id, kind: taskCron, cron: spec, fn: fn})
}

// Start launches every registered task. Tasks registered afterwards
// launch immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, t := range s.tasks {
		s.launch(t)
	}
}

// launch runs t's loop. Caller holds s.mu with started == true.
func (s *Scheduler) launch(t *task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		switch t.kind {
		case taskAtStart:
			t.fn(time.Now().UnixMilli())
		case taskEvery:
			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()
			for {
				select {
				case now := <-ticker.C:
					t.fn(now.UnixMilli())
				case <-s.done:
					return
				}
			}
		case taskCron:
			for {
				next := t.cron.next(time.Now())
				timer := time.NewTimer(time.Until(next))
				select {
				case now := <-timer.C:
					t.fn(now.UnixMilli())
				case <-s.done:
					timer.Stop()
					return
				}
			}
		}
	}()
}

// Stop quiesces every task and waits for their goroutines to exit. Safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// cronSpec is a parsed five-field cron expression. Each field is a set of
// permitted values; nil means "*".
type cronSpec struct {
	minute, hour, dom, month, dow map[int]bool
}

func parseCron(expr string) (*cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("scheduler: cron %q: want 5 fields, have %d", expr, len(fields))
	}
	bounds := [][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	sets := make([]map[int]bool, 5)
	for i, f := range fields {
		set, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("scheduler: cron %q: %w", expr, err)
		}
		sets[i] = set
	}
	return &cronSpec{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

// parseCronField handles "*", "*/step", "n", "a-b", and comma lists of
// those.
func parseCronField(field string, lo, hi int) (map[int]bool, error) {
	if field == "*" {
		return nil, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		step := 1
		if idx := strings.Index(part, "/"); idx >= 0 {
			var err error
			step, err = strconv.Atoi(part[idx+1:])
			if err != nil || step < 1 {
				return nil, fmt.Errorf("bad step in %q", part)
			}
			part = part[:idx]
		}
		start, end := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			var err1, err2 error
			bounds := strings.SplitN(part, "-", 2)
			start, err1 = strconv.Atoi(bounds[0])
			end, err2 = strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("bad range %q", part)
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad value %q", part)
			}
			start, end = n, n
		}
		if start < lo || end > hi || start > end {
			return nil, fmt.Errorf("value out of range in %q", part)
		}
		for v := start; v <= end; v += step {
			set[v] = true
		}
	}
	return set, nil
}

func match(set map[int]bool, v int) bool { return set == nil || set[v] }

// next returns the first minute boundary strictly after from that the
// spec matches, scanning at most a year ahead.
func (c *cronSpec) next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.Add(366 * 24 * time.Hour)
	for t.Before(limit) {
		if match(c.month, int(t.Month())) &&
			match(c.dom, t.Day()) &&
			match(c.dow, int(t.Weekday())) &&
			match(c.hour, t.Hour()) &&
			match(c.minute, t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return t
}
