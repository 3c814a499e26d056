package invariant

import (
	"bytes"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViolateLogsAndPanics(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, logiface.LevelDebug)

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		Violate(l, "fiber.resume", "state %d", 2)
	}()

	require.NotNil(t, recovered)
	ie, ok := recovered.(*api.InvariantError)
	require.True(t, ok)
	assert.Equal(t, "fiber.resume", ie.Op)
	assert.Equal(t, "state 2", ie.Message)
	assert.NotEmpty(t, ie.Stack)
	assert.True(t, api.IsInvariant(recovered))
	assert.Contains(t, buf.String(), `"lvl":"crit"`)
}

func TestCheck(t *testing.T) {
	assert.NotPanics(t, func() { Check(true, nil, "x", "never") })
	assert.Panics(t, func() { Check(false, nil, "x", "always") })
}
