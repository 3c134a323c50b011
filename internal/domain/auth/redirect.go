package auth

import (
	"net/url"
	"strings"
)

const defaultReturnPath = "/"

// SafeReturnPath sanitizes a caller-supplied return_to value for use as a
// post-verification redirect target. Only relative paths within this
// application are allowed; anything that could leave the origin collapses to
// the root path.
func SafeReturnPath(raw string) string {
	if raw == "" {
		return defaultReturnPath
	}
	if strings.ContainsAny(raw, "\r\n") {
		return defaultReturnPath
	}
	if strings.Contains(raw, "\\") {
		return defaultReturnPath
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return defaultReturnPath
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return defaultReturnPath
	}
	return raw
}
