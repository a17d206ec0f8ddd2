package sync

import (
	"net/url"
	"strings"
)

// Canonicalize normalizes a raw drive-item parent path the way spec.md
// §4.6 describes: drop everything up to and including the first ':',
// URL-decode, fold backslashes to forward slashes, trim a trailing '/',
// lower-case. It is idempotent: canonicalizing an already-canonical path
// returns it unchanged, since none of its five steps can re-introduce
// what the previous pass removed.
func Canonicalize(raw string) string {
	s := raw
	if idx := strings.Index(s, ":"); idx != -1 {
		s = s[idx+1:]
	}
	if decoded, err := url.QueryUnescape(s); err == nil {
		s = decoded
	}
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimSuffix(s, "/")
	s = strings.ToLower(s)
	return s
}
