// Package site implements the target platform's wire protocol. Everything
// that touches the site's markup or JSON lives here so protocol drift stays
// contained in one component.
package site

import "time"

// TokenSet holds the short-lived artifacts scraped from the login page.
type TokenSet struct {
	CSRF     string
	Bearer   string
	Features string
}

// Complete reports whether the required tokens are present. The feature
// token is optional; the site serves search results without it.
func (t TokenSet) Complete() bool {
	return t.CSRF != "" && t.Bearer != ""
}

// Profile is the extended account info scraped after authentication.
type Profile struct {
	Name              string
	Likes             int
	Following         int
	DefaultPostFormat string
	Email             string
}

// SearchItem is one element of a search result page. ObjectType
// distinguishes posts from the other element kinds the timeline mixes in.
type SearchItem struct {
	ObjectType string
	Name       string
}

// SearchPage is one page of paginated search results. Raw carries the
// unparsed response body for snapshot archiving.
type SearchPage struct {
	Items      []SearchItem
	NextCursor string
	Raw        []byte
}

// Message is the outbound ask content. The link formatting range is derived
// from the position of LinkURL within Text.
type Message struct {
	Text    string
	LinkURL string
}

// Session is the authenticated state for one credential identity.
type Session struct {
	Tokens  TokenSet
	Cookies string
	Profile *Profile

	user      string
	expiresAt time.Time
}

// User returns the identity this session authenticates as.
func (s *Session) User() string {
	if s == nil {
		return ""
	}
	return s.user
}

func (s *Session) expired(now time.Time) bool {
	return s == nil || !now.Before(s.expiresAt)
}
