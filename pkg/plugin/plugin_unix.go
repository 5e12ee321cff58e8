//go:build !windows

package plugin

import "os"

// isExecutable reports whether path has any execute bit set.
func isExecutable(path, _ string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&0111 != 0
}
