package avatar

import (
	"net/url"
	"strings"
)

const avatarRoute = "/avatar/"

var DefaultSafePrefixes = []string{"/avatar/placeholder/", "/proxy?"}

// IsSafeURL accepts absolute http(s) URLs with a host and no user info, and
// site-relative URLs under one of prefixes. Anything carrying control
// characters or backslashes is rejected.
func IsSafeURL(raw string, prefixes []string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f || r == '\\' || r == ' ' {
			return false
		}
	}

	if strings.HasPrefix(raw, "/") {
		if strings.HasPrefix(raw, "//") {
			return false
		}
		for _, prefix := range prefixes {
			if prefix != "" && strings.HasPrefix(raw, prefix) {
				return !strings.Contains(raw, "/../")
			}
		}
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	return u.Host != "" && u.User == nil
}

func isAbsolute(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
