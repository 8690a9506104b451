// Package sanitize strips HTML from user-supplied text before it is persisted or fanned out over the realtime
// gateway, preventing stored-XSS through message content and display names reaching other clients unescaped.
// Uses bluemonday's StrictPolicy rather than a tag allowlist, since chat message content and display names are
// plain text, not author-formatted HTML.
package sanitize

import "github.com/microcosm-cc/bluemonday"

var policy = bluemonday.StrictPolicy()

// Text strips every HTML tag from s, leaving only text content. Safe to call on message content, channel/role
// names, nicknames, and any other free-text field that is later rendered by a client.
func Text(s string) string {
	return policy.Sanitize(s) //nolint:misspell // bluemonday API uses American English spelling.
}
