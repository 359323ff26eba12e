package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// windowsExecExts are treated as executable on Windows, where there is no
// executable permission bit.
var windowsExecExts = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
	".ps1": true,
}

// IsExecutable reports whether path refers to a regular file the current
// user could execute.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return windowsExecExts[strings.ToLower(filepath.Ext(path))]
	}
	return info.Mode().Perm()&0o111 != 0
}

// MakeExecutable sets the executable bits on path. On Windows this is
// a no-op since executability is carried by the file extension.
func MakeExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, 0o755)
}
