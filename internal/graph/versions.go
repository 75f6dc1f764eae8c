package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DeprecationNotice is how close to a version's deprecation a warning starts.
const DeprecationNotice = 90 * 24 * time.Hour

type versionInfo struct {
	released   time.Time
	deprecated time.Time
}

var knownVersions = map[string]versionInfo{
	"v24.0": {
		released:   time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
		deprecated: time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
	},
	"v25.0": {
		released:   time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
		deprecated: time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
	},
}

type VersionStatus struct {
	Version           string    `json:"version"`
	Latest            string    `json:"latest"`
	DeprecatedAt      time.Time `json:"deprecated_at"`
	Deprecated        bool      `json:"deprecated"`
	DaysToDeprecation int       `json:"days_to_deprecation"`
}

// Warning describes what to do about the version, or "" when nothing is due.
func (s VersionStatus) Warning() string {
	switch {
	case s.Deprecated:
		return fmt.Sprintf("graph version %s was deprecated on %s; upgrade to %s", s.Version, s.DeprecatedAt.Format("2006-01-02"), s.Latest)
	case s.DaysToDeprecation <= int(DeprecationNotice.Hours()/24):
		return fmt.Sprintf("graph version %s is deprecated in %d days; upgrade to %s", s.Version, s.DaysToDeprecation, s.Latest)
	default:
		return ""
	}
}

// CheckVersion reports the deprecation state of a known Graph version. The
// second result is false for versions not in the table.
func CheckVersion(version string, now time.Time) (VersionStatus, bool) {
	version = strings.TrimSpace(version)
	info, ok := knownVersions[version]
	if !ok {
		return VersionStatus{}, false
	}
	now = now.UTC()
	return VersionStatus{
		Version:           version,
		Latest:            latestVersion(),
		DeprecatedAt:      info.deprecated,
		Deprecated:        !now.Before(info.deprecated),
		DaysToDeprecation: int(info.deprecated.Sub(now).Hours() / 24),
	}, true
}

func latestVersion() string {
	versions := make([]string, 0, len(knownVersions))
	for version := range knownVersions {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersion(versions[i], versions[j]) > 0
	})
	if len(versions) == 0 {
		return ""
	}
	return versions[0]
}

func compareVersion(left string, right string) int {
	leftMajor, leftMinor := parseVersion(left)
	rightMajor, rightMinor := parseVersion(right)
	switch {
	case leftMajor != rightMajor:
		return leftMajor - rightMajor
	default:
		return leftMinor - rightMinor
	}
}

func parseVersion(version string) (int, int) {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	minor, _ := strconv.Atoi(parts[1])
	return major, minor
}
