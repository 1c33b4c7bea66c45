package update

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Artifact describes how one target's files are named.
type Artifact struct {
	Target string
	Prefix string
	Suffix string
}

var (
	// NodeFirmware is the RP2040 image, moonblokz_{v}.uf2.
	NodeFirmware = Artifact{Target: "node", Prefix: "moonblokz_", Suffix: ".uf2"}
	// ProbeBinary is the bridge itself, moonblokz_probe_{v}.
	ProbeBinary = Artifact{Target: "probe", Prefix: "moonblokz_probe_"}
)

// FileName returns the artifact's name at version v.
func (a Artifact) FileName(v uint32) string {
	return fmt.Sprintf("%s%d%s", a.Prefix, v, a.Suffix)
}

// ParseVersion extracts the version from name. Only names made of the
// prefix, decimal digits and the suffix match, so the two artifacts
// never claim each other's files.
func (a Artifact) ParseVersion(name string) (uint32, bool) {
	if !strings.HasPrefix(name, a.Prefix) || !strings.HasSuffix(name, a.Suffix) {
		return 0, false
	}
	digits := name[len(a.Prefix) : len(name)-len(a.Suffix)]
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	v, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// CurrentVersion returns the highest version of a found in dir. A
// missing directory or no matching file yields 0.
func CurrentVersion(dir string, a Artifact) (uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}
	var current uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if v, ok := a.ParseVersion(e.Name()); ok && v > current {
			current = v
		}
	}
	return current, nil
}

// Cleanup removes files of a in dir whose version is below keep and
// returns the removed names.
func Cleanup(dir string, a Artifact, keep uint32) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		v, ok := a.ParseVersion(e.Name())
		if !ok || v >= keep || e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, errors.Join(errs...)
}

// writeFileAtomic writes data to a temporary file beside path and renames
// it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		return err
	}
	return os.Rename(name, path)
}
