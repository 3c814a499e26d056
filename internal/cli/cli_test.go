//go:build linux

package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-fiber/iomanager"
	"github.com/momentics/hioload-fiber/internal/logging"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := BuildCLI()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCommandListsTunables(t *testing.T) {
	out, err := execute(t, "config", "--log-level", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "scheduler.threads = ")
	assert.Contains(t, out, "iomanager.max_wait_ms = 3000")
	assert.Contains(t, out, "tcp.connect.timeout = ")
}

func TestConfigFileIsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fiber.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  threads: 3\n"), 0o600))
	t.Cleanup(func() { threadsVar.Set(threadsDefault) })

	out, err := execute(t, "config", "--log-level", "off", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "scheduler.threads = 3\t")
}

func TestConfigCommandPrintsNamedTunables(t *testing.T) {
	out, err := execute(t, "config", "--log-level", "off", "iomanager.max_wait_ms", "tcp.connect.timeout")
	require.NoError(t, err)
	assert.Equal(t, "3000\n5000\n", out)

	_, err = execute(t, "config", "--log-level", "off", "no.such.key")
	assert.ErrorContains(t, err, `unknown tunable "no.such.key"`)
}

func TestUnknownLogLevel(t *testing.T) {
	_, err := execute(t, "config", "--log-level", "loud")
	assert.ErrorContains(t, err, `unknown log level "loud"`)
}

func TestSleepCommandOverlaps(t *testing.T) {
	out, err := execute(t, "sleep", "--log-level", "off", "-t", "1", "-n", "5", "-d", "200ms")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "5/5 sleepers of 200ms finished in "), out)

	o := &options{threads: 1}
	r, err := o.runSleep(4, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Finished)
	assert.Less(t, r.Elapsed, 600*time.Millisecond)

	_, err = o.runSleep(0, time.Millisecond)
	assert.Error(t, err)
}

func TestEchoServerRoundTrip(t *testing.T) {
	m, err := iomanager.New(2, false, iomanager.WithName("echo-test"))
	require.NoError(t, err)
	srv := newEchoServer(m, logging.Default())

	ready := make(chan int, 1)
	ap := netip.MustParseAddrPort("127.0.0.1:0")
	m.Schedule(func(ctx context.Context) { srv.serve(ctx, ap, ready) })

	var port int
	select {
	case port = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	require.Positive(t, port, "listen failed: %v", srv.err())

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Write([]byte("hello fibers"))
	require.NoError(t, err)
	buf := make([]byte, len("hello fibers"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello fibers", string(buf))

	m.Schedule(srv.shutdown)
	m.Stop()
	_ = conn.Close()
	assert.NoError(t, srv.err())
}
