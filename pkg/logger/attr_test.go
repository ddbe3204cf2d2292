package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statefulkit/pkg/logger"
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
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	empty := logger.Errors(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	empty := logger.Error(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestRequestID(t *testing.T) {
	attr := logger.RequestID("abc")
	require.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "abc", attr.Value.Any())

	assert.True(t, logger.RequestID(nil).Equal(slog.Attr{}))
}

func TestEntityID(t *testing.T) {
	attr := logger.EntityID(42)
	require.Equal(t, "entity_id", attr.Key)
	assert.Equal(t, int64(42), attr.Value.Any())

	assert.True(t, logger.EntityID(nil).Equal(slog.Attr{}))
}

func TestStateAttrs(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
	}{
		{logger.Machine("orders"), "machine"},
		{logger.State("paid"), "state"},
		{logger.FromState("created"), "from"},
		{logger.ToState("paid"), "to"},
		{logger.ExpectedState("created"), "expected"},
		{logger.ActualState("paid"), "actual"},
		{logger.Event("pay"), "event"},
		{logger.Table("orders"), "table"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.key, tt.attr.Key)
		assert.Equal(t, slog.KindString, tt.attr.Value.Kind())
	}
}

type namedAction struct{}

func (namedAction) String() string { return "charge" }

type plainAction struct{}

func TestAction(t *testing.T) {
	assert.Equal(t, "noop", logger.Action(nil).Value.String())
	assert.Equal(t, "charge", logger.Action(namedAction{}).Value.String())
	assert.Equal(t, "logger_test.plainAction", logger.Action(plainAction{}).Value.String())
}
