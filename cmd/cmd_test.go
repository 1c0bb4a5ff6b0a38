package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/statesync/cli"
	"github.com/grovetools/statesync/config"
	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/internal/daemon/engine"
	"github.com/grovetools/statesync/internal/daemon/server"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/daemon"
	"github.com/grovetools/statesync/pkg/signals"
)

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func newRoot() *cobra.Command {
	root := cli.NewStandardCommand("statesync", "test")
	root.AddCommand(NewSessionsCmd(), NewRenderCmd(), NewSchemaCmd(), NewPathsCmd(), NewServeCmd())
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// startDaemon serves an in-memory store on a socket and returns a config
// file pointing at it.
func startDaemon(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ssc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	socket := filepath.Join(dir, "d.sock")
	st := store.New(store.WithLogger(quietLogger()))
	srv := server.New(quietLogger())
	srv.SetEngine(engine.New(st, nil, quietLogger()))
	srv.SetRunningConfig(&server.RunningConfig{SignalMode: "sync"})
	go srv.ListenAndServe(socket, "")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		st.Close()
	})
	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cfgPath := filepath.Join(dir, "statesync.yml")
	cfg := "server:\n  socket: " + socket + "\nsignals:\n  journal: \"off\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return cfgPath
}

func TestSessionCommandsAgainstDaemon(t *testing.T) {
	cfgPath := startDaemon(t)

	out, err := execute(t, "--config", cfgPath, "--json", "sessions", "create", "--name", "demo")
	require.NoError(t, err)
	var info daemon.SessionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "demo", info.Name)

	opsFile := filepath.Join(filepath.Dir(cfgPath), "ops.json")
	require.NoError(t, os.WriteFile(opsFile, []byte(`[{"op":"put","node":1,"key":"title","value":"Hi"}]`), 0644))
	out, err = execute(t, "--config", cfgPath, "sessions", "apply", info.ID, opsFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 1 operations")

	out, err = execute(t, "--config", cfgPath, "sessions", "tree", info.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "Hi"`)

	out, err = execute(t, "--config", cfgPath, "--json", "sessions", "commit", info.ID, "--set", "7")
	require.NoError(t, err)
	var result daemon.SignalResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Accepted)

	out, err = execute(t, "--config", cfgPath, "sessions", "signals", info.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"value": 7`)

	tmpl := filepath.Join(filepath.Dir(cfgPath), "t.html")
	require.NoError(t, os.WriteFile(tmpl, []byte(`<h1>{{title}}</h1>`), 0644))
	out, err = execute(t, "--config", cfgPath, "render", tmpl, "--session", info.ID, "--raw")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1>\n", out)

	out, err = execute(t, "--config", cfgPath, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, info.ID)

	_, err = execute(t, "--config", cfgPath, "sessions", "close", info.ID)
	require.NoError(t, err)
	_, err = execute(t, "--config", cfgPath, "sessions", "tree", info.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeSessionGone))
}

func TestApplyRejectsMalformedOperations(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ops.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"op":"put"}`), 0644))
	_, err := execute(t, "sessions", "apply", "any", file)
	assert.True(t, errors.Is(err, errors.ErrCodeMalformedJSON))
}

func TestRenderLocal(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(state, []byte(`{"user":{"name":"Ada"}}`), 0644))

	out, err := renderLocal(`<p>{{user.name}}</p>`, state)
	require.NoError(t, err)
	assert.Equal(t, "<p>Ada</p>", out)

	out, err = renderLocal(`<p>static</p>`, "")
	require.NoError(t, err)
	assert.Equal(t, "<p>static</p>", out)

	_, err = renderLocal(`<p>{{user.name}}</p>`, filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = renderLocal(`<p>`, "")
	assert.True(t, errors.Is(err, errors.ErrCodeTemplateSyntax))
}

func TestParseCommandFillsID(t *testing.T) {
	cmd, err := parseCommand([]byte(`{"type":"increment","target":"` + string(signals.ZeroID) + `","delta":2}`))
	require.NoError(t, err)
	inc, ok := cmd.(*signals.IncrementCommand)
	require.True(t, ok)
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, 2.0, inc.Delta)

	cmd, err = parseCommand([]byte(`{"type":"set","id":"01J00000000000000000000000","target":"` + string(signals.ZeroID) + `","value":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, signals.ID("01J00000000000000000000000"), cmd.CommandID())

	_, err = parseCommand([]byte(`[1]`))
	assert.True(t, errors.Is(err, errors.ErrCodeMalformedJSON))
}

func TestCommandFromFlags(t *testing.T) {
	c := newSessionCommitCmd()
	require.NoError(t, c.Flags().Set("set", "hello"))
	cmd, err := commandFromArgs(c, nil)
	require.NoError(t, err)
	set := cmd.(*signals.SetCommand)
	assert.Equal(t, "hello", set.Value)

	c = newSessionCommitCmd()
	require.NoError(t, c.Flags().Set("set", `{"a":1}`))
	cmd, err = commandFromArgs(c, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, cmd.(*signals.SetCommand).Value)

	c = newSessionCommitCmd()
	_, err = commandFromArgs(c, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestTailOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644))

	off, err := tailOffset(path, 2)
	require.NoError(t, err)
	assert.EqualValues(t, len("one\n"), off)

	off, err = tailOffset(path, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 0, off)

	off, err = tailOffset(path, 0)
	require.NoError(t, err)
	assert.EqualValues(t, len("one\ntwo\nthree\n"), off)
}

func TestLineEmitter(t *testing.T) {
	var out bytes.Buffer
	emit := lineEmitter(&out, "/var/log/x.log", "session", true)
	emit("INFO skipped")
	emit(`{"msg":"session created"}`)
	emit("INFO session closed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"msg":"session created"}`, lines[0])
	assert.JSONEq(t, `{"file":"/var/log/x.log","line":"INFO session closed"}`, lines[1])
}

func TestApplyServeFlags(t *testing.T) {
	c := NewServeCmd()
	require.NoError(t, c.Flags().Set("listen", "127.0.0.1:0"))
	require.NoError(t, c.Flags().Set("signal-mode", "async"))
	require.NoError(t, c.Flags().Set("journal", "off"))

	cfg := config.Default()
	applyServeFlags(c, cfg)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Listen)
	assert.Equal(t, config.SignalModeAsync, cfg.Signals.Mode)
	assert.Empty(t, cfg.JournalPath())
	assert.NoError(t, cfg.Validate())
}

func TestSessionTable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	out := sessionTable([]daemon.SessionInfo{
		{ID: "abc", Name: "demo", Nodes: 3, SyncID: 9, SignalMode: "sync", CreatedAt: now.Add(-90 * time.Second)},
	}, now)
	for _, want := range []string{"ID", "abc", "demo", "3", "9", "sync", "1m30s"} {
		assert.Contains(t, out, want)
	}
}

func TestSchemaAndPaths(t *testing.T) {
	t.Setenv("STATESYNC_HOME", "/srv/statesync")

	out, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"signals"`)

	out, err = execute(t, "paths")
	require.NoError(t, err)
	var p PathsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, filepath.Join("/srv/statesync", "run", "statesyncd.sock"), p.Socket)
}
