package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/blockdev"
	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/command"
)

// ErrDeviceNotFound means the bootloader drive did not appear in time.
var ErrDeviceNotFound = errors.New("bootloader device not found")

// Node install timing.
const (
	DefaultPollTimeout   = 30 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultSettleDelay   = 5 * time.Second
	DefaultRecoveryDelay = 5 * time.Second
)

// Sender writes a directive to the node.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// NodeInstaller flashes firmware by rebooting the node into its USB
// bootloader and copying the image onto the drive it exposes. Any failure
// once the bootloader directive may have been sent leaves the node in an
// unknown state, so the host is rebooted.
type NodeInstaller struct {
	Serial   Sender
	Prober   blockdev.Prober
	Mounter  blockdev.Mounter
	Syncer   blockdev.Syncer
	Rebooter blockdev.Rebooter
	Clock    clock.Clock
	Logger   zerolog.Logger

	Dir        string
	Label      string
	MountPoint string

	PollTimeout   time.Duration
	PollInterval  time.Duration
	SettleDelay   time.Duration
	RecoveryDelay time.Duration
}

func (n *NodeInstaller) defaults() {
	if n.Clock == nil {
		n.Clock = clock.Real()
	}
	if n.PollTimeout <= 0 {
		n.PollTimeout = DefaultPollTimeout
	}
	if n.PollInterval <= 0 {
		n.PollInterval = DefaultPollInterval
	}
	if n.SettleDelay <= 0 {
		n.SettleDelay = DefaultSettleDelay
	}
	if n.RecoveryDelay <= 0 {
		n.RecoveryDelay = DefaultRecoveryDelay
	}
}

// Install flashes data as version v and deploys it.
func (n *NodeInstaller) Install(ctx context.Context, v uint32, data []byte) error {
	n.defaults()
	name := NodeFirmware.FileName(v)
	log := n.Logger.With().Str("component", "update").Str("target", NodeFirmware.Target).Uint32("version", v).Logger()

	if err := os.MkdirAll(n.Dir, 0o755); err != nil {
		return fmt.Errorf("creating deployed dir: %w", err)
	}
	staged := filepath.Join(n.Dir, "."+name+".staged")
	if err := writeFileAtomic(staged, data, 0o644); err != nil {
		return fmt.Errorf("staging firmware: %w", err)
	}
	defer os.Remove(staged)

	mounted, err := n.flash(ctx, log, name, data)
	if err != nil {
		n.recover(ctx, log, mounted, err)
		return err
	}

	log.Info().Dur("settle", n.SettleDelay).Msg("waiting for node to restart")
	if err := clock.Sleep(ctx, n.Clock, n.SettleDelay); err != nil {
		return err
	}

	if err := os.Rename(staged, filepath.Join(n.Dir, name)); err != nil {
		return fmt.Errorf("deploying firmware: %w", err)
	}
	removed, err := Cleanup(n.Dir, NodeFirmware, v)
	for _, r := range removed {
		log.Info().Str("file", r).Msg("removed superseded firmware")
	}
	if err != nil {
		log.Warn().Err(err).Msg("cleaning up old firmware")
	}
	return nil
}

// flash runs the bootloader sequence. mounted reports whether the drive
// was left mounted when it failed.
func (n *NodeInstaller) flash(ctx context.Context, log zerolog.Logger, name string, data []byte) (mounted bool, err error) {
	log.Info().Msg("entering bootloader")
	if err := n.Serial.Send(ctx, command.DirectiveBootloader); err != nil {
		return false, fmt.Errorf("sending bootloader directive: %w", err)
	}

	dev, err := n.waitForDevice(ctx)
	if err != nil {
		return false, err
	}
	log.Info().Str("device", dev.Path).Msg("bootloader drive found")

	if err := n.Mounter.Mount(ctx, dev.Path, n.MountPoint); err != nil {
		return false, err
	}
	if err := copyToDrive(filepath.Join(n.MountPoint, name), data); err != nil {
		return true, fmt.Errorf("copying firmware to drive: %w", err)
	}
	if err := n.Syncer.Sync(ctx); err != nil {
		return true, fmt.Errorf("syncing drive: %w", err)
	}
	if err := n.Mounter.Unmount(ctx, n.MountPoint); err != nil {
		return true, err
	}
	log.Info().Msg("firmware written")
	return false, nil
}

func (n *NodeInstaller) waitForDevice(ctx context.Context) (blockdev.Device, error) {
	deadline := n.Clock.Now().Add(n.PollTimeout)
	for {
		devices, err := n.Prober.Removable(ctx)
		if err == nil {
			if dev, ok := blockdev.FindLabel(devices, n.Label); ok {
				return dev, nil
			}
		} else {
			n.Logger.Debug().Err(err).Msg("probing block devices")
		}
		if !n.Clock.Now().Before(deadline) {
			return blockdev.Device{}, fmt.Errorf("%w: no %s drive after %s", ErrDeviceNotFound, n.Label, n.PollTimeout)
		}
		if err := clock.Sleep(ctx, n.Clock, n.PollInterval); err != nil {
			return blockdev.Device{}, err
		}
	}
}

func (n *NodeInstaller) recover(ctx context.Context, log zerolog.Logger, mounted bool, cause error) {
	log.Error().Err(cause).Msg("firmware install failed; rebooting host to recover")
	if mounted {
		if err := n.Mounter.Unmount(ctx, n.MountPoint); err != nil {
			log.Warn().Err(err).Msg("unmounting after failure")
		}
	}
	if err := clock.Sleep(ctx, n.Clock, n.RecoveryDelay); err != nil {
		return
	}
	if err := n.Rebooter.Reboot(ctx); err != nil {
		log.Error().Err(err).Msg("recovery reboot failed")
	}
}

func copyToDrive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
