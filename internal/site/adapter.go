package site

import "context"

// Adapter is the pluggable protocol surface the pipelines depend on. Any
// non-2xx response is a failure; no structured error body is parsed.
type Adapter interface {
	FetchLoginPage(ctx context.Context) (TokenSet, error)
	// ExchangeCredentials submits the credential exchange and returns the
	// cookie header value captured from the response.
	ExchangeCredentials(ctx context.Context, tokens TokenSet, username, password string) (string, error)
	// FetchProfile returns nil without error when the profile pattern does
	// not match the response.
	FetchProfile(ctx context.Context, sess *Session) (*Profile, error)
	Search(ctx context.Context, sess *Session, keyword, cursor string) (SearchPage, error)
	PostMessage(ctx context.Context, sess *Session, target string, msg Message) error
}
