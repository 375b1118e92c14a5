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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventflux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullEnvelope(t *testing.T) {
	path := writeConfig(t, `
apiVersion: eventflux.io/v1
kind: EventFluxConfig
eventflux:
  runtime:
    mode: single-node
    performance:
      thread_pool_size: 8
      event_buffer_size: 4096
      batch_processing: true
      async_processing: true
applications:
  orders:
    persistence:
      type: file
      path: /var/lib/eventflux/snapshots
      compression: zstd
      max_revisions: 5
    streams:
      OrderStream:
        async: true
        buffer_size: 2048
        workers: 4
        backpressure: block
      AlertStream:
        sink:
          type: log
          prefix: "alert"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "single-node", cfg.EventFlux.Runtime.Mode)
	assert.Equal(t, 8, cfg.EventFlux.Runtime.Performance.ThreadPoolSize)
	assert.Equal(t, 4096, cfg.EventFlux.Runtime.Performance.EventBufferSize)
	assert.True(t, cfg.EventFlux.Runtime.Performance.AsyncProcessing)

	app, ok := cfg.Applications["orders"]
	require.True(t, ok)
	require.NotNil(t, app.Persistence)
	assert.Equal(t, "file", app.Persistence.Type)
	assert.Equal(t, "zstd", app.Persistence.Compression)
	assert.Equal(t, 5, app.Persistence.MaxRevisions)

	order := app.Streams["OrderStream"]
	assert.True(t, order.Async)
	assert.Equal(t, 2048, order.BufferSize)
	assert.Equal(t, 4, order.Workers)
	assert.Equal(t, "block", order.Backpressure)

	alert := app.Streams["AlertStream"]
	assert.Equal(t, "log", alert.Sink["type"])
	assert.Equal(t, "alert", alert.Sink["prefix"])
}

func TestParseInlineYAMLOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
apiVersion: eventflux.io/v1
kind: EventFluxConfig
eventflux:
  runtime:
    mode: cluster
`))
	require.NoError(t, err)
	assert.Equal(t, ModeCluster, cfg.EventFlux.Runtime.Mode)
	// Unmentioned defaults survive.
	assert.Equal(t, 4, cfg.EventFlux.Runtime.Performance.ThreadPoolSize)

	_, err = Parse([]byte(`{apiVersion: wrong, kind: EventFluxConfig}`))
	assert.Error(t, err)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, APIVersion, cfg.APIVersion)
	assert.Equal(t, ModeSingleNode, cfg.EventFlux.Runtime.Mode)
	assert.Equal(t, 4, cfg.EventFlux.Runtime.Performance.ThreadPoolSize)
	assert.Equal(t, 1024, cfg.EventFlux.Runtime.Performance.EventBufferSize)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("EVENTFLUX_EVENTFLUX_RUNTIME_PERFORMANCE_THREAD_POOL_SIZE", "32")
	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.EventFlux.Runtime.Performance.ThreadPoolSize)
}

func TestLoadRejectsWrongEnvelope(t *testing.T) {
	path := writeConfig(t, `
apiVersion: eventflux.io/v2
kind: EventFluxConfig
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `
apiVersion: eventflux.io/v1
kind: SomethingElse
`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, `
apiVersion: eventflux.io/v1
kind: EventFluxConfig
eventflux:
  runtime:
    mode: multi-galaxy
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackpressure(t *testing.T) {
	path := writeConfig(t, `
apiVersion: eventflux.io/v1
kind: EventFluxConfig
applications:
  a:
    streams:
      S:
        backpressure: yolo
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownPersistenceType(t *testing.T) {
	path := writeConfig(t, `
apiVersion: eventflux.io/v1
kind: EventFluxConfig
applications:
  a:
    persistence:
      type: carrier-pigeon
`)
	_, err := Load(path)
	assert.Error(t, err)
}
