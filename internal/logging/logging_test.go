package logging

import (
	"bytes"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logiface.LevelDebug)
	l.Info().Int("fd", 7).Str("op", "add").Log("armed")
	out := buf.String()
	assert.Contains(t, out, `"msg":"armed"`)
	assert.Contains(t, out, `"op":"add"`)
	assert.Contains(t, out, `"lvl":"info"`)
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logiface.LevelError)
	l.Info().Log("dropped")
	assert.Zero(t, buf.Len())
	l.Err().Log("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	require.NotPanics(t, func() {
		l.Crit().Str("k", "v").Log("nothing")
	})
}

func TestDefaultSwap(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	SetDefault(nil)
	assert.Nil(t, Default())

	var buf bytes.Buffer
	l := New(&buf, logiface.LevelDebug)
	assert.Same(t, l, Or(l))
	SetDefault(l)
	assert.Same(t, l, Or(nil))
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, logiface.LevelDebug, lvl)
	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}
