package services

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/dshills/artifex/internal/platform"
)

// markers maps path prefixes found in evidence archives to the platform
// they indicate. Checked in order; the label with most hits wins.
var markers = []struct {
	prefix string
	label  platform.Platform
}{
	{"private/var/mobile/", platform.IOS},
	{"var/mobile/", platform.IOS},
	{"private/var/containers/bundle/application/", platform.IOS},
	{"data/data/", platform.Android},
	{"system/build.prop", platform.Android},
	{"data/system/packages.xml", platform.Android},
	{"windows/system32/", platform.Windows},
	{"users/default/ntuser.dat", platform.Windows},
	{"library/preferences/systemconfiguration/", platform.MacOS},
	{"system/library/coreservices/systemversion.plist", platform.MacOS},
	{"etc/os-release", platform.Linux},
	{"var/log/syslog", platform.Linux},
}

// Detect labels a set of archive entries. Ties and no hits yield Unknown.
func Detect(entries []Entry) platform.Platform {
	hits := map[platform.Platform]int{}
	for _, e := range entries {
		name := strings.ToLower(e.Name)
		for _, m := range markers {
			if strings.HasPrefix(name, m.prefix) {
				hits[m.label]++
				break
			}
		}
	}

	best, bestN, tie := platform.Unknown, 0, false
	for label, n := range hits {
		switch {
		case n > bestN:
			best, bestN, tie = label, n, false
		case n == bestN:
			tie = true
		}
	}
	if tie {
		return platform.Unknown
	}
	return best
}

// DetectPlatform labels the attached archive. The result is cached.
// With no archive attached the label is Unknown.
func (f *Facade) DetectPlatform(ctx context.Context) (platform.Platform, error) {
	f.mu.Lock()
	cached := f.detected
	f.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	entries, err := f.Entries(ctx)
	if errors.Is(err, ErrNoArchive) {
		return platform.Unknown, nil
	}
	if err != nil {
		return platform.Unknown, errors.Wrap(err, "detect platform")
	}
	label := Detect(entries)

	f.mu.Lock()
	f.detected = label
	f.mu.Unlock()
	f.logger.Infow("platform detected", "platform", label, "entries", len(entries))
	return label, nil
}
