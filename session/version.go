package session

import "errors"

// SupportedVersions is the closed, ordered set of MCP protocol versions
// this runtime understands, newest first.
var SupportedVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// ErrNoCompatibleVersion is returned when a client's requested version is
// older than every version this server supports, so there is no
// supported version at-or-below the request (spec.md §4.4: "if none,
// fail with a structured error").
var ErrNoCompatibleVersion = errors.New("session: no protocol version compatible with client request")

// LatestVersion is the newest version this server advertises.
func LatestVersion() string {
	return SupportedVersions[0]
}

func versionIndex(v string) int {
	for i, sv := range SupportedVersions {
		if sv == v {
			return i
		}
	}
	return -1
}

// NegotiateVersion implements spec.md §4.4's negotiation rule exactly:
// if the client's requested version is one this server supports, use it
// outright; otherwise pick the highest supported version that is <= the
// client's request (version strings are YYYY-MM-DD and compare
// lexicographically); if no supported version is that old or older,
// there is nothing compatible to offer.
func NegotiateVersion(requested string) (string, error) {
	if requested == "" {
		return LatestVersion(), nil
	}
	if idx := versionIndex(requested); idx >= 0 {
		return requested, nil
	}
	for _, sv := range SupportedVersions {
		if sv <= requested {
			return sv, nil
		}
	}
	return "", ErrNoCompatibleVersion
}

// IsSupportedVersion reports whether v is one this server can negotiate.
func IsSupportedVersion(v string) bool {
	return versionIndex(v) >= 0
}
