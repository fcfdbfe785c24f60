package domain

import (
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
)

// UnknownContentKey is the normalized form of an absent or blank content version key.
const UnknownContentKey = "unknown"

// ReleasePolicy is the mutable singleton that gates client versions. It is
// written only by release activation and read on every authenticated request.
type ReleasePolicy struct {
	LatestVersion                 string
	MinSupportedVersion           string
	LatestContentVersionKey       string
	MinSupportedContentVersionKey string
	// EnforceAfter gates when minimum-version enforcement becomes effective.
	// Before it, clients below the minimum only see "update available".
	EnforceAfter  *time.Time
	UpdateFeedURL string
	UpdatedBy     string
	UpdatedAt     time.Time
}

// ReleaseRecord is one row of the append-only activation history.
type ReleaseRecord struct {
	ID                            int64
	BuildVersion                  string
	MinSupportedVersion           string
	ContentVersionKey             string
	MinSupportedContentVersionKey string
	UpdateFeedURL                 string
	BuildReleaseNotes             string
	UserFacingNotes               string
	ActivatedBy                   string
	EnforceAfter                  *time.Time
	ActivatedAt                   time.Time
}

// Decision is the outcome of evaluating a client's versions against the policy.
type Decision struct {
	ClientVersion                 string
	LatestVersion                 string
	MinSupportedVersion           string
	ClientContentVersionKey       string
	LatestContentVersionKey       string
	MinSupportedContentVersionKey string
	UpdateFeedURL                 string
	EnforceAfter                  *time.Time
	UpdateAvailable               bool
	ContentUpdateAvailable        bool
	ForceUpdate                   bool
}

// safeVersion parses raw as a version, treating blank or malformed strings as
// the lowest possible version rather than failing.
func safeVersion(raw string) *goversion.Version {
	v, err := goversion.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		v, _ = goversion.NewVersion("0.0.0")
	}
	return v
}

// NormalizeContentKey trims the key and maps blank to UnknownContentKey.
func NormalizeContentKey(raw string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return UnknownContentKey
}

// Evaluate decides whether an update is available or mandatory for a client.
// Build and content tracks are independent axes: an update is available when the
// client build is behind the latest build OR its content key differs from the
// latest content key. Force is only effective once EnforceAfter has passed.
// Pure function of its inputs; now is passed in so callers and tests control time.
func Evaluate(p *ReleasePolicy, clientVersion, clientContentKey string, now time.Time) Decision {
	if clientVersion == "" {
		clientVersion = "0.0.0"
	}
	clientKey := NormalizeContentKey(clientContentKey)
	latestKey := NormalizeContentKey(p.LatestContentVersionKey)
	minKey := NormalizeContentKey(p.MinSupportedContentVersionKey)

	client := safeVersion(clientVersion)
	latest := safeVersion(p.LatestVersion)
	minimum := safeVersion(p.MinSupportedVersion)

	buildUpdateAvailable := client.LessThan(latest)
	contentUpdateAvailable := clientKey != latestKey

	buildForceCandidate := client.LessThan(minimum)
	contentForceCandidate := clientKey != minKey
	forceUpdate := (buildForceCandidate || contentForceCandidate) &&
		p.EnforceAfter != nil && !now.Before(*p.EnforceAfter)

	return Decision{
		ClientVersion:                 clientVersion,
		LatestVersion:                 p.LatestVersion,
		MinSupportedVersion:           p.MinSupportedVersion,
		ClientContentVersionKey:       clientKey,
		LatestContentVersionKey:       latestKey,
		MinSupportedContentVersionKey: minKey,
		UpdateFeedURL:                 strings.TrimSpace(p.UpdateFeedURL),
		EnforceAfter:                  p.EnforceAfter,
		UpdateAvailable:               buildUpdateAvailable || contentUpdateAvailable,
		ContentUpdateAvailable:        contentUpdateAvailable,
		ForceUpdate:                   forceUpdate,
	}
}
