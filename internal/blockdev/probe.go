package blockdev

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moonblokz/moonprobe/internal/sysexec"
)

// DefaultByLabelDir is where udev links filesystems by label.
const DefaultByLabelDir = "/dev/disk/by-label"

// LsblkProber lists devices with lsblk. When lsblk is unavailable or
// fails, it falls back to the udev by-label links, which only carry
// labelled devices and are assumed removable.
type LsblkProber struct {
	Runner     sysexec.Runner
	ByLabelDir string
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Label    *string       `json:"label"`
	RM       flexBool      `json:"rm"`
	Children []lsblkDevice `json:"children"`
}

// flexBool accepts both the boolean and the "0"/"1" forms lsblk has
// used across versions.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `true`, `"1"`, `1`:
		*b = true
	case `false`, `"0"`, `0`, `null`:
		*b = false
	default:
		return fmt.Errorf("unexpected rm value %s", data)
	}
	return nil
}

func (p LsblkProber) Removable(ctx context.Context) ([]Device, error) {
	out, err := p.Runner.Run(ctx, "lsblk", "-J", "-p", "-o", "NAME,PATH,LABEL,RM")
	if err != nil {
		devices, fbErr := p.byLabel()
		if fbErr != nil {
			return nil, fmt.Errorf("listing block devices: %w", err)
		}
		return devices, nil
	}
	return parseLsblk([]byte(out))
}

func parseLsblk(data []byte) ([]Device, error) {
	var parsed lsblkOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing lsblk output: %w", err)
	}
	var devices []Device
	var walk func(list []lsblkDevice, parentRemovable bool)
	walk = func(list []lsblkDevice, parentRemovable bool) {
		for _, d := range list {
			removable := bool(d.RM) || parentRemovable
			path := d.Path
			if path == "" {
				path = d.Name
			}
			label := ""
			if d.Label != nil {
				label = *d.Label
			}
			if removable {
				devices = append(devices, Device{Path: path, Label: label, Removable: true})
			}
			walk(d.Children, removable)
		}
	}
	walk(parsed.BlockDevices, false)
	return devices, nil
}

func (p LsblkProber) byLabel() ([]Device, error) {
	dir := p.ByLabelDir
	if dir == "" {
		dir = DefaultByLabelDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		link := filepath.Join(dir, e.Name())
		path, err := filepath.EvalSymlinks(link)
		if err != nil {
			path = link
		}
		devices = append(devices, Device{Path: path, Label: e.Name(), Removable: true})
	}
	return devices, nil
}
