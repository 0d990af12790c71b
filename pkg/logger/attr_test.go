package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statechart/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("req", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "req", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestTransition(t *testing.T) {
	attr := logger.Transition("idle", "loading")
	require.Equal(t, "transition", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "idle", g[0].Value.String())
	assert.Equal(t, "loading", g[1].Value.String())
}

func TestToken(t *testing.T) {
	attr := logger.Token("abc")
	require.Equal(t, "token", attr.Key)
	assert.Equal(t, "abc", attr.Value.Any())

	assert.True(t, logger.Token(nil).Equal(slog.Attr{}))
}

func TestSimpleAttrs(t *testing.T) {
	assert.Equal(t, "machine", logger.Machine("m1").Key)
	assert.Equal(t, "state", logger.State("idle").Key)
	assert.Equal(t, "event_type", logger.EventType("FETCH").Key)
	assert.Equal(t, "component", logger.Component("engine").Key)
	assert.Equal(t, "duration", logger.Duration(5).Key)
}
