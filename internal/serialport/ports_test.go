package serialport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePortPassesExplicitPath(t *testing.T) {
	got, err := resolvePort("/dev/ttyACM3", func() ([]PortInfo, error) {
		t.Fatal("enumerator must not be called for an explicit path")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM3", got)
}

func TestResolvePortAutoPicksRP2040(t *testing.T) {
	got, err := resolvePort(AutoPath, func() ([]PortInfo, error) {
		return []PortInfo{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2e8a", PID: "000a"},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", got)
}

func TestResolvePortAutoNoMatch(t *testing.T) {
	_, err := resolvePort(AutoPath, func() ([]PortInfo, error) {
		return []PortInfo{{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403"}}, nil
	})
	assert.ErrorIs(t, err, ErrNoPort)
}

func TestResolvePortAutoEnumeratorError(t *testing.T) {
	boom := errors.New("enumerate failed")
	_, err := resolvePort(AutoPath, func() ([]PortInfo, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}
