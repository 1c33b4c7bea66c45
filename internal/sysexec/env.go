package sysexec

import (
	"os"
	"strings"
)

// SystemBinDirs are appended to PATH so mount, umount and lsblk resolve
// even when the service manager starts us with a minimal PATH.
var SystemBinDirs = []string{"/usr/local/sbin", "/usr/sbin", "/sbin"}

// EnvWithPath returns a copy of the current environment with dirs
// appended to PATH, skipping any already present.
func EnvWithPath(dirs ...string) []string {
	return buildEnvWithPath(os.Environ(), dirs)
}

func buildEnvWithPath(env []string, dirs []string) []string {
	result := make([]string, 0, len(env)+1)
	pathSet := false

	for _, e := range env {
		if !strings.HasPrefix(e, "PATH=") {
			result = append(result, e)
			continue
		}
		current := e[len("PATH="):]
		parts := strings.Split(current, string(os.PathListSeparator))
		for _, d := range dirs {
			if !contains(parts, d) {
				parts = append(parts, d)
			}
		}
		result = append(result, "PATH="+strings.Join(parts, string(os.PathListSeparator)))
		pathSet = true
	}

	if !pathSet {
		result = append(result, "PATH="+strings.Join(dirs, string(os.PathListSeparator)))
	}
	return result
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
