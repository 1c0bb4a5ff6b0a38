package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithBuildInfoFillsDefaults(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/grovetools/statesync", Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "4f1c2e9"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	info := withBuildInfo(Info{Version: "dev", Commit: "none", BuildDate: "unknown"}, bi)
	assert.Equal(t, "v0.3.1", info.Version)
	assert.Equal(t, "4f1c2e9", info.Commit)
	assert.Equal(t, "2026-10-01T12:00:00Z", info.BuildDate)
	assert.True(t, info.Modified)
	assert.Contains(t, info.String(), "4f1c2e9 (modified)")
}

func TestWithBuildInfoKeepsLinkerValues(t *testing.T) {
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "4f1c2e9"}},
	}

	info := withBuildInfo(Info{Version: "v1.0.0", Commit: "abc123", BuildDate: "2026-09-30"}, bi)
	assert.Equal(t, "v1.0.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "2026-09-30", info.BuildDate)

	dev := withBuildInfo(Info{Version: "dev"}, bi)
	assert.Equal(t, "dev", dev.Version)
}
