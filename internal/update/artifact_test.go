package update

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		artifact Artifact
		name     string
		want     uint32
		ok       bool
	}{
		{NodeFirmware, "moonblokz_3.uf2", 3, true},
		{NodeFirmware, "moonblokz_120.uf2", 120, true},
		{NodeFirmware, "moonblokz_.uf2", 0, false},
		{NodeFirmware, "moonblokz_3.uf2.bak", 0, false},
		{NodeFirmware, "moonblokz_probe_3", 0, false},
		{NodeFirmware, "moonblokz_-1.uf2", 0, false},
		{NodeFirmware, "moonblokz_99999999999.uf2", 0, false},
		{ProbeBinary, "moonblokz_probe_4", 4, true},
		{ProbeBinary, "moonblokz_probe_4.old", 0, false},
		{ProbeBinary, "moonblokz_4.uf2", 0, false},
		{ProbeBinary, ".moonblokz_probe_4.123", 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.artifact.ParseVersion(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "moonblokz_3.uf2", NodeFirmware.FileName(3))
	assert.Equal(t, "moonblokz_probe_12", ProbeBinary.FileName(12))
}

func TestCurrentVersionMissingDir(t *testing.T) {
	v, err := CurrentVersion(filepath.Join(t.TempDir(), "deployed"), NodeFirmware)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestCurrentVersionPicksMaximum(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "moonblokz_2.uf2", "moonblokz_10.uf2", "moonblokz_probe_40", "notes.txt", "moonblokz_x.uf2")

	node, err := CurrentVersion(dir, NodeFirmware)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), node)

	probe, err := CurrentVersion(dir, ProbeBinary)
	require.NoError(t, err)
	assert.Equal(t, uint32(40), probe)
}

func TestCleanupRemovesLowerVersionsOnly(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"moonblokz_1.uf2", "moonblokz_2.uf2", "moonblokz_3.uf2",
		"moonblokz_probe_1", "config.yaml",
	)

	removed, err := Cleanup(dir, NodeFirmware, 3)
	require.NoError(t, err)
	sort.Strings(removed)
	assert.Equal(t, []string{"moonblokz_1.uf2", "moonblokz_2.uf2"}, removed)
	assert.Equal(t, []string{"config.yaml", "moonblokz_3.uf2", "moonblokz_probe_1"}, listDir(t, dir))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "start.sh")
	touch(t, dir, "start.sh")

	require.NoError(t, writeFileAtomic(path, []byte("new"), 0o755))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.Equal(t, []string{"start.sh"}, listDir(t, dir))
}
