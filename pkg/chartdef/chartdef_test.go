package chartdef_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statechart/pkg/async"
	"github.com/dmitrymomot/statechart/pkg/chartdef"
	"github.com/dmitrymomot/statechart/pkg/statechart"
)

type searchCtx struct {
	Query   string `yaml:"query"`
	Result  string `yaml:"result"`
	Retries int    `yaml:"retries"`
}

const fetchYAML = `
id: search
initial: idle
context:
  retries: 1
states:
  idle:
    on:
      FETCH: { target: loading, actions: [recordQuery] }
  loading:
    tags: [loading]
    invoke:
      src: search
      onDone: { target: success, actions: storeResult }
      onError: failure
    on:
      CANCEL: idle
  success:
    tags: success
  failure:
    tags: [error]
    on:
      RETRY:
        - { target: loading, guard: canRetry, actions: useRetry }
        - target: gaveUp
  gaveUp: {}
`

func registry(search statechart.InvokeSource[searchCtx]) chartdef.Registry[searchCtx] {
	return chartdef.Registry[searchCtx]{
		Actions: map[string]statechart.Action[searchCtx]{
			"recordQuery": statechart.Assign(func(c searchCtx, e statechart.Event) searchCtx {
				c.Query, _ = e.Payload.(string)
				return c
			}),
			"storeResult": statechart.Assign(func(c searchCtx, e statechart.Event) searchCtx {
				c.Result, _ = e.Data.(string)
				return c
			}),
			"useRetry": statechart.Assign(func(c searchCtx, _ statechart.Event) searchCtx {
				c.Retries--
				return c
			}),
		},
		Guards: map[string]statechart.Guard[searchCtx]{
			"canRetry": func(c searchCtx, _ statechart.Event) bool { return c.Retries > 0 },
		},
		Sources: map[string]statechart.InvokeSource[searchCtx]{
			"search": search,
		},
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	fail := true
	search := func(c searchCtx, _ statechart.Event, _ statechart.InvokeAPI[searchCtx]) statechart.Invocation {
		if fail {
			return statechart.Promise(async.Rejected[any](errors.New("offline")))
		}
		return statechart.Promise(async.Resolved[any]("hits for " + c.Query))
	}

	m, err := chartdef.Load(strings.NewReader(fetchYAML), registry(search))
	require.NoError(t, err)

	assert.Equal(t, "search", m.ID())
	assert.Equal(t, "idle", m.Initial())
	assert.Equal(t, []string{"failure", "gaveUp", "idle", "loading", "success"}, m.States())
	assert.Equal(t, []string{"success"}, m.Tags("success"))

	svc, err := statechart.Interpret(m).Start()
	require.NoError(t, err)
	defer svc.Stop()
	assert.Equal(t, 1, svc.GetState().Context.Retries)

	waitState := func(want string) {
		t.Helper()
		require.Eventually(t, func() bool { return svc.GetState().State == want }, time.Second, 5*time.Millisecond)
	}

	require.NoError(t, svc.Send(statechart.NewEvent("FETCH", "gopher")))
	waitState("failure")
	assert.True(t, svc.GetState().HasTag("error"))

	fail = false
	require.NoError(t, svc.Send(statechart.NewEvent("RETRY", nil)))
	waitState("success")
	assert.Equal(t, "hits for gopher", svc.GetState().Context.Result)
	assert.Zero(t, svc.GetState().Context.Retries)
}

func TestLoadGuardFallsThrough(t *testing.T) {
	t.Parallel()

	search := func(searchCtx, statechart.Event, statechart.InvokeAPI[searchCtx]) statechart.Invocation {
		return statechart.Promise(async.Rejected[any](errors.New("offline")))
	}
	m, err := chartdef.Load(strings.NewReader(fetchYAML), registry(search))
	require.NoError(t, err)

	svc, err := statechart.Interpret(m).Start(searchCtx{Retries: -1})
	require.NoError(t, err)
	defer svc.Stop()

	require.NoError(t, svc.Send(statechart.NewEvent("FETCH", "q")))
	require.Eventually(t, func() bool { return svc.GetState().State == "failure" }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Send(statechart.NewEvent("RETRY", nil)))
	assert.Equal(t, "gaveUp", svc.GetState().State)
}

func TestLoadManualInvoke(t *testing.T) {
	t.Parallel()

	calls := 0
	reg := chartdef.Registry[searchCtx]{Sources: map[string]statechart.InvokeSource[searchCtx]{
		"search": func(searchCtx, statechart.Event, statechart.InvokeAPI[searchCtx]) statechart.Invocation {
			calls++
			return statechart.Invocation{}
		},
	}}
	m, err := chartdef.Load(strings.NewReader(`
initial: waiting
states:
  waiting:
    invoke: { src: search, autoStart: false }
`), reg)
	require.NoError(t, err)

	svc, err := statechart.Interpret(m).Start()
	require.NoError(t, err)
	defer svc.Stop()
	assert.Zero(t, calls)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	reg := registry(func(searchCtx, statechart.Event, statechart.InvokeAPI[searchCtx]) statechart.Invocation {
		return statechart.Invocation{}
	})

	tests := []struct {
		name      string
		yaml      string
		wantKind  string
		wantWhere string
		wantErr   error
	}{
		{
			name:      "unknown action",
			yaml:      "initial: a\nstates:\n  a:\n    entry: [missing]\n",
			wantKind:  "action",
			wantWhere: "states.a.entry[0]",
		},
		{
			name:      "unknown guard",
			yaml:      "initial: a\nstates:\n  a:\n    on:\n      GO: { target: a, guard: nope }\n",
			wantKind:  "guard",
			wantWhere: "states.a.on.GO[0].guard",
		},
		{
			name:      "unknown source",
			yaml:      "initial: a\nstates:\n  a:\n    invoke: { src: nope }\n",
			wantKind:  "source",
			wantWhere: "states.a.invoke.src",
		},
		{
			name:      "unknown onDone action",
			yaml:      "initial: a\nstates:\n  a:\n    invoke: { src: search, onDone: { target: a, actions: nope } }\n",
			wantKind:  "action",
			wantWhere: "states.a.invoke.onDone.actions[0]",
		},
		{
			name:    "unknown field",
			yaml:    "initial: a\nstatez: {}\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "misspelled transition field",
			yaml:    "initial: a\nstates:\n  a:\n    on:\n      GO: { target: b, gaurd: canRetry }\n  b: {}\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "misspelled transition field in list",
			yaml:    "initial: a\nstates:\n  a:\n    on:\n      GO:\n        - { target: b, action: recordQuery }\n  b: {}\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "misspelled onDone field",
			yaml:    "initial: a\nstates:\n  a:\n    invoke: { src: search, onDone: { targte: a } }\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "misspelled invoke field",
			yaml:    "initial: a\nstates:\n  a:\n    invoke: { src: search, autostart: false }\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "misspelled state field",
			yaml:    "initial: a\nstates:\n  a:\n    entyr: [recordQuery]\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "unknown context field",
			yaml:    "initial: a\ncontext: { retires: 2 }\nstates:\n  a: {}\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "bad context",
			yaml:    "initial: a\ncontext: { retries: many }\nstates:\n  a: {}\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "bad action list",
			yaml:    "initial: a\nstates:\n  a:\n    entry: { x: y }\n",
			wantErr: chartdef.ErrInvalidDocument,
		},
		{
			name:    "no states",
			yaml:    "initial: a\n",
			wantErr: statechart.ErrNoStates,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := chartdef.Load(strings.NewReader(tt.yaml), reg)
			require.Error(t, err)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.True(t, chartdef.IsUnresolved(err))
			var unresolved *chartdef.ErrUnresolved
			require.ErrorAs(t, err, &unresolved)
			assert.Equal(t, tt.wantKind, unresolved.Kind)
			assert.Equal(t, tt.wantWhere, unresolved.Where)
		})
	}

	t.Run("unknown target", func(t *testing.T) {
		t.Parallel()
		_, err := chartdef.Load(strings.NewReader("initial: a\nstates:\n  a:\n    on:\n      GO: b\n"), reg)
		assert.True(t, statechart.IsUnknownStateError(err))
	})
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "search.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fetchYAML), 0o600))

	m, err := chartdef.LoadFile(path, registry(func(searchCtx, statechart.Event, statechart.InvokeAPI[searchCtx]) statechart.Invocation {
		return statechart.Invocation{}
	}))
	require.NoError(t, err)
	assert.Equal(t, "search", m.ID())

	_, err = chartdef.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), chartdef.Registry[searchCtx]{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
