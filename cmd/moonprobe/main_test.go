package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonblokz/moonprobe/internal/config"
	"github.com/moonblokz/moonprobe/internal/serialport"
)

func TestVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"version"}, &out, &errOut))
	assert.Equal(t, "moonprobe dev\n", out.String())
}

func TestUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"frobnicate"}, &out, &errOut)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errUsage))
	assert.Contains(t, errOut.String(), "Usage:")
}

func TestRunHelpIsNotAnError(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"run", "--help"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "--config")
}

func TestRunRejectsBadFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"--no-such-flag"}, &out, &errOut)
	assert.True(t, errors.Is(err, errUsage))
}

func TestRunRejectsStrayArgument(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"ports", "extra"}, &out, &errOut)
	assert.True(t, errors.Is(err, errUsage))
}

func TestRunMissingConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &out, &errOut)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestWritePortsMarksRP2040(t *testing.T) {
	var buf bytes.Buffer
	err := writePorts(&buf, []serialport.PortInfo{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2e8a", PID: "000a", SerialNumber: "E660"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.NotContains(t, lines[1], "rp2040")
	assert.Contains(t, lines[2], "/dev/ttyACM0")
	assert.Contains(t, lines[2], "2e8a:000a")
	assert.Contains(t, lines[2], "rp2040")
}

func TestWritePortsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePorts(&buf, nil))
	assert.Equal(t, "no serial ports found\n", buf.String())
}

func TestNewBridgeWiring(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: node-1
api_key: secret
usb_port: /dev/ttyACM0
server_url: http://localhost:8080
node_firmware_url: http://localhost:8080/node
probe_firmware_url: http://localhost:8080/probe
status_listen: 127.0.0.1:0
`), 0o644))

	cfg, err := config.Load(path, config.Overrides{})
	require.NoError(t, err)

	b := newBridge(cfg, zerolog.Nop())
	assert.NotNil(t, b.serial)
	assert.NotNil(t, b.collector)
	assert.NotNil(t, b.telemetry)
	assert.Equal(t, "node", b.node.Status().Target)
	assert.Equal(t, "probe", b.probe.Status().Target)
	require.NotNil(t, b.status)

	cfg.StatusListen = ""
	assert.Nil(t, newBridge(cfg, zerolog.Nop()).status)
}
