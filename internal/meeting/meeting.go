// Package meeting derives meeting room ids from video-call page URLs.
package meeting

import "strings"

// FromPath resolves a page path to a meeting id. A meeting page has exactly
// one path segment (the room code); landing pages and deeper paths do not
// resolve, which keeps the reaction feature inactive there.
func FromPath(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", false
	}
	if strings.Contains(trimmed, "/") {
		return "", false
	}
	return trimmed, true
}
