package profiling

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProfilerRecordsNothing(t *testing.T) {
	p := &Profiler{}
	p.Start("ignored").Stop()

	var out bytes.Buffer
	p.Summarize(&out)
	assert.Empty(t, out.String())
	assert.False(t, p.Enabled())
}

func TestNestedSpans(t *testing.T) {
	p := &Profiler{}
	p.Enable()

	outer := p.Start("load")
	p.Start("parse").Stop()
	outer.Stop()
	p.Start("render").Stop()

	var out bytes.Buffer
	p.Summarize(&out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "- load ("))
	assert.True(t, strings.HasPrefix(lines[2], "  - parse ("))
	assert.True(t, strings.HasPrefix(lines[3], "- render ("))
}

func TestOutOfOrderStop(t *testing.T) {
	p := &Profiler{}
	p.Enable()

	outer := p.Start("outer")
	inner := p.Start("inner")
	outer.Stop()
	inner.Stop()
	p.Start("next").Stop()

	var out bytes.Buffer
	p.Summarize(&out)
	assert.Contains(t, out.String(), "\n- next (")
}

func TestCobraProfilerWritesProfiles(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.out")
	mem := filepath.Join(dir, "mem.out")

	var out bytes.Buffer
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	p := NewCobraProfiler()
	p.AddFlags(cmd)
	cmd.PersistentPreRunE = p.PreRun
	cmd.PersistentPostRunE = p.PostRun
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--cpu-profile", cpu, "--mem-profile", mem})

	require.NoError(t, cmd.Execute())
	assert.FileExists(t, cpu)
	assert.FileExists(t, mem)
	assert.Contains(t, out.String(), "CPU profile written")
}
