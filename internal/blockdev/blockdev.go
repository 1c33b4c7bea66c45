// Package blockdev finds, mounts and flushes the removable drive the
// node exposes in bootloader mode, and reboots the host. Each operation
// sits behind a small interface so the update flow can run against
// fakes.
package blockdev

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/moonblokz/moonprobe/internal/sysexec"
)

// Device is a block device as reported by the host.
type Device struct {
	Path      string
	Label     string
	Removable bool
}

// Prober lists removable block devices.
type Prober interface {
	Removable(ctx context.Context) ([]Device, error)
}

// Mounter attaches and detaches a filesystem.
type Mounter interface {
	Mount(ctx context.Context, device, target string) error
	Unmount(ctx context.Context, target string) error
}

// Syncer flushes pending writes to disk.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Rebooter restarts the host.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// FindLabel returns the first device with the given label.
func FindLabel(devices []Device, label string) (Device, bool) {
	for _, d := range devices {
		if d.Label == label {
			return d, true
		}
	}
	return Device{}, false
}

// ExecMounter mounts through the mount and umount tools, usually via
// sudo. The FAT drive is mounted owned by UID and GID so an unprivileged
// process can write the image onto it.
type ExecMounter struct {
	Runner sysexec.Runner
	UID    int
	GID    int
	// FSType defaults to vfat.
	FSType string
}

func (m ExecMounter) Mount(ctx context.Context, device, target string) error {
	fstype := m.FSType
	if fstype == "" {
		fstype = "vfat"
	}
	if _, err := m.Runner.Run(ctx, "mkdir", "-p", target); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}
	opts := fmt.Sprintf("uid=%d,gid=%d,umask=022", m.UID, m.GID)
	if _, err := m.Runner.Run(ctx, "mount", "-t", fstype, "-o", opts, device, target); err != nil {
		return fmt.Errorf("mounting %s on %s: %w", device, target, err)
	}
	return nil
}

func (m ExecMounter) Unmount(ctx context.Context, target string) error {
	if _, err := m.Runner.Run(ctx, "umount", target); err != nil {
		return fmt.Errorf("unmounting %s: %w", target, err)
	}
	return nil
}

// SyscallMounter mounts directly and needs CAP_SYS_ADMIN. The bootloader
// drive is FAT formatted.
type SyscallMounter struct {
	FSType string
}

func (m SyscallMounter) Mount(_ context.Context, device, target string) error {
	fstype := m.FSType
	if fstype == "" {
		fstype = "vfat"
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}
	if err := unix.Mount(device, target, fstype, 0, ""); err != nil {
		return fmt.Errorf("mounting %s on %s: %w", device, target, err)
	}
	return nil
}

func (SyscallMounter) Unmount(_ context.Context, target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmounting %s: %w", target, err)
	}
	return nil
}

// NewMounter picks SyscallMounter when running as root and otherwise an
// ExecMounter that hands the mount to the current user.
func NewMounter(runner sysexec.Runner) Mounter {
	if os.Geteuid() == 0 {
		return SyscallMounter{}
	}
	return ExecMounter{Runner: runner, UID: os.Geteuid(), GID: os.Getegid()}
}

// SystemSyncer flushes all filesystems.
type SystemSyncer struct{}

func (SystemSyncer) Sync(context.Context) error {
	unix.Sync()
	return nil
}

// CommandRebooter reboots through the reboot tool.
type CommandRebooter struct {
	Runner sysexec.Runner
}

func (r CommandRebooter) Reboot(ctx context.Context) error {
	_, err := r.Runner.Run(ctx, "reboot")
	if err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}
