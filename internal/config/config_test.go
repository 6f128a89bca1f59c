package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/heap"
)

func TestDefaultAppliesNoOverrides(t *testing.T) {
	h := heap.New()
	before := h.NextGC()

	Default().Apply(h)

	assert.Equal(t, before, h.NextGC())
	assert.False(t, h.StressGC())
}

func TestLoadDecodesKnownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[VM]
InitialGCThreshold = 4096
StressGC = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.VM.InitialGCThreshold)
	assert.True(t, cfg.VM.StressGC)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[VM]
Bogus = 1
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}

func TestApplySetsGCThresholdAndStressFlag(t *testing.T) {
	h := heap.New()
	cfg := Config{VM: VM{InitialGCThreshold: 8192, StressGC: true}}

	cfg.Apply(h)

	assert.Equal(t, 8192, h.NextGC())
	assert.True(t, h.StressGC())
}

func TestApplyLeavesNextGCUntouchedWhenThresholdUnset(t *testing.T) {
	h := heap.New()
	before := h.NextGC()
	cfg := Config{VM: VM{StressGC: true}}

	cfg.Apply(h)

	assert.Equal(t, before, h.NextGC())
	assert.True(t, h.StressGC())
}
