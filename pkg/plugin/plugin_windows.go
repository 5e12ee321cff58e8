//go:build windows

package plugin

import "strings"

// isExecutable reports whether name carries a recognized Windows
// executable extension.
func isExecutable(_, name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".exe") || strings.HasSuffix(lower, ".bat") || strings.HasSuffix(lower, ".cmd")
}
