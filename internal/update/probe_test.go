package update

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonblokz/moonprobe/internal/clock"
)

func TestProbeInstall(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "deployed")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	touch(t, dir, "moonblokz_probe_1", "moonblokz_probe_2", "moonblokz_5.uf2")

	ev := &events{}
	clk := clock.Fake(t0)
	p := &ProbeInstaller{
		Rebooter:    fakeRebooter{ev: ev},
		Clock:       clk,
		Logger:      zerolog.Nop(),
		Dir:         dir,
		StartScript: filepath.Join(root, "start.sh"),
		ConfigPath:  filepath.Join(root, "config.yaml"),
	}

	done := make(chan error, 1)
	go func() { done <- p.Install(context.Background(), 3, []byte("ELF")) }()

	clk.WaitForTimers(1)
	assert.Equal(t, []time.Duration{DefaultHandoffDelay}, clk.Pending())
	assert.Empty(t, ev.list(), "reboot must wait for the handoff delay")
	clk.Advance(DefaultHandoffDelay)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"reboot"}, ev.list())

	assert.Equal(t, []string{"moonblokz_5.uf2", "moonblokz_probe_3"}, listDir(t, dir))

	binary := filepath.Join(dir, "moonblokz_probe_3")
	info, err := os.Stat(binary)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	script, err := os.ReadFile(p.StartScript)
	require.NoError(t, err)
	assert.Equal(t,
		"#!/bin/sh\n# Generated by moonprobe on self-update.\nexec '"+binary+"' run --config '"+p.ConfigPath+"'\n",
		string(script))
	sinfo, err := os.Stat(p.StartScript)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), sinfo.Mode().Perm())
}

func TestProbeInstallFailureDoesNotReboot(t *testing.T) {
	root := t.TempDir()
	ev := &events{}
	p := &ProbeInstaller{
		Rebooter:    fakeRebooter{ev: ev},
		Clock:       clock.Fake(t0),
		Logger:      zerolog.Nop(),
		Dir:         filepath.Join(root, "deployed"),
		StartScript: filepath.Join(root, "missing-dir", "start.sh"),
	}

	err := p.Install(context.Background(), 3, []byte("ELF"))
	assert.ErrorContains(t, err, "writing start script")
	assert.Empty(t, ev.list())
}

func TestStartScriptQuotes(t *testing.T) {
	got := StartScript("/opt/it's/moonblokz_probe_2", "")
	assert.Equal(t, "#!/bin/sh\n# Generated by moonprobe on self-update.\nexec '/opt/it'\\''s/moonblokz_probe_2' run\n", got)
}

func TestProbeRebootFailureIsRetriedOnNextCheck(t *testing.T) {
	srv := newFirmwareServer(t)
	srv.publish(ProbeBinary, 3, "ELF-v3", "")
	root := t.TempDir()
	dir := filepath.Join(root, "deployed")

	ev := &events{}
	clk := clock.Fake(t0)
	p := &ProbeInstaller{
		Rebooter:     &flakyRebooter{ev: ev, failures: 1},
		Clock:        clk,
		Logger:       zerolog.Nop(),
		Dir:          dir,
		StartScript:  filepath.Join(root, "start.sh"),
		HandoffDelay: time.Nanosecond,
	}
	m := NewManager(Options{
		Artifact:  ProbeBinary,
		BaseURL:   srv.URL,
		Dir:       dir,
		Installer: p,
		Client:    srv.Client(),
		Clock:     clock.Fake(t0),
		Logger:    zerolog.Nop(),
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.CheckAndUpdate(context.Background())
		done <- err
	}()
	err := drive(t, clk, done)
	assert.ErrorContains(t, err, "rebooting into new binary")
	assert.Equal(t, uint32(3), p.Pending())
	assert.Equal(t, []string{"reboot failed"}, ev.list())

	// The binary is already deployed, so the next check only reboots.
	updated, err := m.CheckAndUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Zero(t, p.Pending())
	assert.Equal(t, []string{"reboot failed", "reboot"}, ev.list())
	assert.Equal(t, 1, srv.count("/"+ProbeBinary.FileName(3)))

	updated, err = m.CheckAndUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, []string{"reboot failed", "reboot"}, ev.list())
}

func TestProbeResumeFailureStopsCheck(t *testing.T) {
	srv := newFirmwareServer(t)
	srv.publish(ProbeBinary, 3, "ELF-v3", "")
	ev := &events{}
	p := &ProbeInstaller{
		Rebooter: &flakyRebooter{ev: ev, failures: 5},
		Logger:   zerolog.Nop(),
	}
	p.pending.Store(2)
	m := NewManager(Options{
		Artifact:  ProbeBinary,
		BaseURL:   srv.URL,
		Dir:       t.TempDir(),
		Installer: p,
		Client:    srv.Client(),
		Clock:     clock.Fake(t0),
		Logger:    zerolog.Nop(),
	})

	_, err := m.CheckAndUpdate(context.Background())
	assert.ErrorContains(t, err, "resuming probe install")
	assert.Equal(t, uint32(2), p.Pending())
	assert.Zero(t, srv.count("/version.json"))
	assert.NotEmpty(t, m.Status().LastError)
}
