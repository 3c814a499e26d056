package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupReturnsSameVar(t *testing.T) {
	c := NewConfig()
	a := Lookup(c, "fiber.stack_size", 131072, "fiber stack size")
	b := Lookup(c, "fiber.stack_size", 1, "ignored")
	assert.Same(t, a, b)
	assert.Equal(t, 131072, b.Get())
}

func TestLookupTypeMismatchPanics(t *testing.T) {
	c := NewConfig()
	Lookup(c, "tcp.connect.timeout", 5000, "")
	assert.Panics(t, func() { Lookup(c, "tcp.connect.timeout", "5s", "") })
	assert.Panics(t, func() { Lookup(c, "Bad-Name", 1, "") })
}

func TestVarListeners(t *testing.T) {
	c := NewConfig()
	v := Lookup(c, "tcp.connect.timeout", 5000, "tcp connect timeout")

	var seen [][2]int
	id := v.AddListener(func(old, new int) { seen = append(seen, [2]int{old, new}) })

	v.Set(5000)
	v.Set(250)
	assert.Equal(t, [][2]int{{5000, 250}}, seen)

	v.RemoveListener(id)
	v.Set(300)
	assert.Len(t, seen, 1)
	assert.Equal(t, 300, v.Get())
}

func TestLoadYAMLFlattensNestedKeys(t *testing.T) {
	c := NewConfig()
	timeout := Lookup(c, "tcp.connect.timeout", 5000, "")
	stack := Lookup(c, "fiber.stack_size", 131072, "")

	reloads := 0
	c.OnReload(func() { reloads++ })

	err := c.LoadYAML([]byte(`
tcp:
  connect:
    timeout: 250
fiber:
  stack_size: 65536
extra:
  name: demo
`))
	require.NoError(t, err)
	assert.Equal(t, 250, timeout.Get())
	assert.Equal(t, 65536, stack.Get())
	assert.Equal(t, 1, reloads)

	snap := c.GetSnapshot()
	assert.Equal(t, "demo", snap["extra.name"])
	assert.Equal(t, 250, snap["tcp.connect.timeout"])
}

func TestLoadYAMLRejectsBadType(t *testing.T) {
	c := NewConfig()
	Lookup(c, "tcp.connect.timeout", 5000, "")
	err := c.LoadYAML([]byte("tcp:\n  connect:\n    timeout: soon\n"))
	assert.Error(t, err)
}

func TestRawValueAppliedOnLaterLookup(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.LoadYAML([]byte("iomanager:\n  max_wait_ms: 1000\n")))
	v := Lookup(c, "iomanager.max_wait_ms", 3000, "")
	assert.Equal(t, 1000, v.Get())
}

func TestSetConvertsStrings(t *testing.T) {
	c := NewConfig()
	v := Lookup(c, "scheduler.threads", 1, "")
	require.NoError(t, c.Set("scheduler.threads", "4"))
	assert.Equal(t, 4, v.Get())
	require.NoError(t, c.SetConfig(map[string]any{"scheduler.threads": 2, "other.key": true}))
	assert.Equal(t, 2, v.Get())
	assert.Equal(t, true, c.GetSnapshot()["other.key"])
	assert.Error(t, c.Set("scheduler.threads", "many"))
}

func TestFindReportsRegisteredOnly(t *testing.T) {
	c := NewConfig()
	v := Lookup(c, "iomanager.max_wait_ms", 3000, "")
	got, ok := c.Find("iomanager.max_wait_ms")
	require.True(t, ok)
	assert.Equal(t, 3000, got)

	v.Set(250)
	got, _ = c.Find("iomanager.max_wait_ms")
	assert.Equal(t, 250, got)

	require.NoError(t, c.SetConfig(map[string]any{"raw.only": 1}))
	_, ok = c.Find("raw.only")
	assert.False(t, ok)
}

func TestLoadFileAndVisit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fiber.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fiber:\n  stack_size: 4096\n"), 0o600))

	c := NewConfig()
	Lookup(c, "tcp.connect.timeout", 5000, "connect")
	Lookup(c, "fiber.stack_size", 131072, "stack")
	require.NoError(t, c.LoadFile(path))

	var names []string
	c.Visit(func(name, desc string, value any) {
		names = append(names, name)
		if name == "fiber.stack_size" {
			assert.Equal(t, 4096, value)
		}
	})
	assert.Equal(t, []string{"fiber.stack_size", "tcp.connect.timeout"}, names)

	assert.Error(t, c.LoadFile(filepath.Join(dir, "missing.yaml")))
}
