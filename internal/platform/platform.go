// Package platform defines the closed set of platform labels used to
// tag extensions and to describe the evidence source being analyzed.
package platform

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Platform is a detected platform label.
type Platform string

// Known platform labels.
const (
	IOS     Platform = "ios"
	Android Platform = "android"
	Windows Platform = "windows"
	MacOS   Platform = "macos"
	Linux   Platform = "linux"

	// Unknown is reported when detection cannot decide. Only extensions
	// tagged Any are compatible with it.
	Unknown Platform = "unknown"
)

// Any is the wildcard compatibility tag. It is never a detected label.
const Any = "any"

// ErrUnknownPlatform is returned by Parse for labels outside the closed set.
var ErrUnknownPlatform = errors.New("unknown platform label")

var known = map[Platform]bool{
	IOS:     true,
	Android: true,
	Windows: true,
	MacOS:   true,
	Linux:   true,
	Unknown: true,
}

// Parse normalizes s and returns the matching label.
func Parse(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !known[p] {
		return "", errors.WithHintf(errors.Wrapf(ErrUnknownPlatform, "%q", s),
			"valid labels: %s", strings.Join(labelStrings(), ", "))
	}
	return p, nil
}

// Labels returns every known label, sorted.
func Labels() []Platform {
	out := make([]Platform, 0, len(known))
	for p := range known {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsKnown reports whether p is part of the closed set.
func (p Platform) IsKnown() bool { return known[p] }

func (p Platform) String() string { return string(p) }

// ValidTag reports whether tag may appear in an extension's target list.
func ValidTag(tag string) bool {
	return tag == Any || known[Platform(tag)]
}

func labelStrings() []string {
	labels := Labels()
	out := make([]string, len(labels))
	for i, p := range labels {
		out[i] = string(p)
	}
	return out
}
