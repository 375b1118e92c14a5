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

package eventflux

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/config"
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/junction"
	"github.com/eventflux-io/eventflux/log"
	"github.com/eventflux-io/eventflux/value"
)

const filterApp = `
@app(name='filter-app')
define stream In (v int);
from In[v > 10] select v insert into Out;
`

func TestCreateAppAndProcess(t *testing.T) {
	engine := New(WithLogger(log.NewDiscardLogger()))
	app, err := engine.CreateApp(filterApp)
	require.NoError(t, err)
	defer engine.Shutdown(time.Second)

	assert.Equal(t, "filter-app", app.Name())

	var got []int32
	out, ok := app.Junction("Out")
	require.True(t, ok)
	out.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
		event.ForEach(chunk, func(e event.ComplexEvent) {
			got = append(got, e.OutputData()[0].AsInt())
		})
	}))

	require.NoError(t, app.Start())
	in, ok := app.InputHandler("In")
	require.True(t, ok)
	require.NoError(t, in.SendRowAt(1, int64(5)))
	require.NoError(t, in.SendRowAt(2, int64(20)))

	assert.Equal(t, []int32{20}, got)
}

func TestCreateAppRejectsDuplicateName(t *testing.T) {
	engine := New(WithLogger(log.NewDiscardLogger()))
	defer engine.Shutdown(time.Second)
	_, err := engine.CreateApp(filterApp)
	require.NoError(t, err)
	_, err = engine.CreateApp(filterApp)
	assert.Error(t, err)
}

func TestCreateAppSurfacesCompileErrors(t *testing.T) {
	engine := New(WithLogger(log.NewDiscardLogger()))
	_, err := engine.CreateApp(`from Missing select v insert into Out;`)
	require.Error(t, err)
	var ce *ferror.CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestAppLookupAndRemove(t *testing.T) {
	engine := New(WithLogger(log.NewDiscardLogger()))
	_, err := engine.CreateApp(filterApp)
	require.NoError(t, err)

	app, ok := engine.App("filter-app")
	require.True(t, ok)
	assert.Equal(t, "filter-app", app.Name())

	require.NoError(t, engine.RemoveApp("filter-app", time.Second))
	_, ok = engine.App("filter-app")
	assert.False(t, ok)
	assert.Error(t, engine.RemoveApp("filter-app", time.Second))
}

func TestWithPersistenceConfiguresFallbackStore(t *testing.T) {
	dir := t.TempDir()
	engine := New(
		WithLogger(log.NewDiscardLogger()),
		WithPersistence(config.Persistence{Type: "file", Path: dir}),
	)
	app, err := engine.CreateApp(`
		@app(name='persist-app')
		define stream In (v int);
		from In#length(2) select v insert into Out;
	`)
	require.NoError(t, err)

	in, _ := app.InputHandler("In")
	require.NoError(t, in.Send(1, []value.Value{value.NewInt(1)}))
	rev, err := app.Persist()
	require.NoError(t, err)
	require.NotEmpty(t, rev)
	require.NoError(t, app.Restore(rev))
}

func TestConfigFileAppliesStreamOverridesAndSinks(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "eventflux.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
apiVersion: eventflux.io/v1
kind: EventFluxConfig
applications:
  cfg-app:
    streams:
      Out:
        sink:
          type: log
          prefix: out-row
`), 0o644))

	engine := New(WithLogger(log.NewDiscardLogger()), WithConfigFile(cfgPath))
	app, err := engine.CreateApp(`
		@app(name='cfg-app')
		define stream In (v int);
		from In select v insert into Out;
	`)
	require.NoError(t, err)

	in, _ := app.InputHandler("In")
	require.NoError(t, in.Send(1, []value.Value{value.NewInt(3)}))
}

func TestRegisterScriptFunctionIsCallableFromQueries(t *testing.T) {
	engine := New(WithLogger(log.NewDiscardLogger()))
	require.NoError(t, engine.RegisterScriptFunction("double", "x * 2", []string{"x"}, value.LONG))
	assert.Error(t, engine.RegisterScriptFunction("broken", "x +* 2", []string{"x"}, value.LONG))

	app, err := engine.CreateApp(`
		@app(name='script-app')
		define stream In (v long);
		from In select double(v) as d insert into Out;
	`)
	require.NoError(t, err)

	var got []int64
	out, _ := app.Junction("Out")
	out.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
		event.ForEach(chunk, func(e event.ComplexEvent) {
			got = append(got, e.OutputData()[0].AsLong())
		})
	}))

	in, _ := app.InputHandler("In")
	require.NoError(t, in.Send(1, []value.Value{value.NewLong(21)}))
	assert.Equal(t, []int64{42}, got)
}

func TestWithConfigFileKeepsDefaultsOnMissingFile(t *testing.T) {
	engine := New(WithLogger(log.NewDiscardLogger()), WithConfigFile("/nonexistent/eventflux.yaml"))
	_, err := engine.CreateApp(filterApp)
	assert.NoError(t, err)
}
