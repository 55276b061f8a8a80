package extension

import "github.com/dshills/artifex/internal/platform"

// Compatible reports whether an extension tagged with targets may run
// against detected. The wildcard tag always matches. An unknown
// detection only matches the wildcard.
func Compatible(targets []string, detected platform.Platform) bool {
	for _, t := range targets {
		if t == platform.Any {
			return true
		}
	}
	if detected == platform.Unknown || detected == "" {
		return false
	}
	for _, t := range targets {
		if platform.Platform(t) == detected {
			return true
		}
	}
	return false
}
