package site

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blogreach/blogreach/internal/bot"
)

const loginPageBody = `<html><script>window.state = {"csrfToken":"csrf-123","API_TOKEN":"bearer-456","obfuscatedFeatures":"feat-789"};</script></html>`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL}, zapNop())
	return c, srv
}

func TestFetchLoginPageScrapesTokens(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)
		w.Write([]byte(loginPageBody)) //nolint:errcheck
	}))

	tokens, err := c.FetchLoginPage(context.Background())
	require.NoError(t, err)
	require.Equal(t, "csrf-123", tokens.CSRF)
	require.Equal(t, "bearer-456", tokens.Bearer)
	require.Equal(t, "feat-789", tokens.Features)
}

func TestFetchLoginPageMissingTokens(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>nothing here</html>`)) //nolint:errcheck
	}))

	_, err := c.FetchLoginPage(context.Background())
	require.Error(t, err)
	require.Equal(t, bot.FailureParse, bot.KindOf(err))
}

func TestFetchLoginPageServerError(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.FetchLoginPage(context.Background())
	require.Error(t, err)
	require.Equal(t, bot.FailureNetwork, bot.KindOf(err))
}

func TestExchangeCredentialsCapturesCookies(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/oauth2/token", r.URL.Path)
		require.Equal(t, "csrf-123", r.Header.Get("X-CSRF"))
		require.Equal(t, "Bearer bearer-456", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "alice", body["username"])
		require.Equal(t, "password", body["grant_type"])

		w.Header().Add("Set-Cookie", "sid=abc; Path=/; HttpOnly")
		w.Header().Add("Set-Cookie", "tz=utc; Secure")
		w.WriteHeader(http.StatusOK)
	}))

	tokens := TokenSet{CSRF: "csrf-123", Bearer: "bearer-456"}
	cookies, err := c.ExchangeCredentials(context.Background(), tokens, "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "sid=abc; tz=utc", cookies)
}

func TestExchangeCredentialsRejected(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.ExchangeCredentials(context.Background(), TokenSet{CSRF: "x", Bearer: "y"}, "alice", "wrong")
	require.Error(t, err)
	require.Equal(t, bot.FailureAuth, bot.KindOf(err))
}

func TestFetchProfileParsesUserBlock(t *testing.T) {
	t.Parallel()

	page := `{"isLoggedIn":true,"user":{"canModifySafeMode":true,"name":"alice","likes":42,"following":7,"defaultPostFormat":"npf","email":"alice@example.com"}}`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page)) //nolint:errcheck
	}))

	sess := &Session{Tokens: TokenSet{CSRF: "x", Bearer: "y"}, Cookies: "sid=abc"}
	profile, err := c.FetchProfile(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, "alice", profile.Name)
	require.Equal(t, 42, profile.Likes)
	require.Equal(t, 7, profile.Following)
	require.Equal(t, "npf", profile.DefaultPostFormat)
	require.Equal(t, "alice@example.com", profile.Email)
}

func TestFetchProfileNoMatchIsNotAnError(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isLoggedIn":false}`)) //nolint:errcheck
	}))

	profile, err := c.FetchProfile(context.Background(), &Session{})
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestSearchParsesPage(t *testing.T) {
	t.Parallel()

	body := `{"response":{"timeline":{"elements":[` +
		`{"objectType":"post","blog":{"name":"blog-one"}},` +
		`{"objectType":"blog_card","blog":{"name":"blog-two"}},` +
		`{"objectType":"post","blog":{"name":"blog-three"}}],` +
		`"links":{"next":{"queryParams":{"cursor":"cur-2"}}}}}}`

	var gotQuery string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/timeline/search", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(body)) //nolint:errcheck
	}))

	sess := &Session{Tokens: TokenSet{CSRF: "x", Bearer: "y"}}
	page, err := c.Search(context.Background(), sess, "vintage+cars", "")
	require.NoError(t, err)
	require.Contains(t, gotQuery, "query=vintage+cars")
	require.Len(t, page.Items, 3)
	require.Equal(t, "blog-one", page.Items[0].Name)
	require.Equal(t, "post", page.Items[0].ObjectType)
	require.Equal(t, "cur-2", page.NextCursor)
	require.JSONEq(t, body, string(page.Raw))
}

func TestSearchPassesCursor(t *testing.T) {
	t.Parallel()

	var gotQuery string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"response":{"timeline":{"elements":[]}}}`)) //nolint:errcheck
	}))

	_, err := c.Search(context.Background(), &Session{}, "cars", "cur-2")
	require.NoError(t, err)
	require.Contains(t, gotQuery, "cursor=cur-2")
}

func TestSearchBadJSON(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`)) //nolint:errcheck
	}))

	_, err := c.Search(context.Background(), &Session{}, "cars", "")
	require.Error(t, err)
	require.Equal(t, bot.FailureParse, bot.KindOf(err))
}

func TestSearchServerError(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Search(context.Background(), &Session{}, "cars", "")
	require.Error(t, err)
	require.Equal(t, bot.FailureNetwork, bot.KindOf(err))
}

func TestPostMessageSendsAskPayload(t *testing.T) {
	t.Parallel()

	var payload askPayload
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/blog/target-blog/posts", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusCreated)
	}))

	sess := &Session{
		Tokens:  TokenSet{CSRF: "x", Bearer: "y"},
		Cookies: "sid=abc",
		Profile: &Profile{Name: "alice"},
	}
	msg := Message{Text: "check out https://example.com today", LinkURL: "https://example.com"}
	require.NoError(t, c.PostMessage(context.Background(), sess, "target-blog", msg))

	require.Equal(t, "ask", payload.State)
	require.Equal(t, "Blog", payload.Context)
	require.Len(t, payload.Content, 1)
	require.Equal(t, msg.Text, payload.Content[0].Text)
	require.Len(t, payload.Content[0].Formatting, 1)
	require.Equal(t, 10, payload.Content[0].Formatting[0].Start)
	require.Equal(t, 10+len(msg.LinkURL), payload.Content[0].Formatting[0].End)
	require.NotNil(t, payload.Layout[0].Attribution)
	require.Equal(t, "alice", payload.Layout[0].Attribution.Blog.Name)
}

func TestPostMessageRateLimited(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := c.PostMessage(context.Background(), &Session{}, "target", Message{Text: "hi"})
	require.Error(t, err)
	require.Equal(t, bot.FailureRateLimit, bot.KindOf(err))
}

func TestBuildAskPayloadWithoutLink(t *testing.T) {
	t.Parallel()

	p := buildAskPayload(Message{Text: "plain text"}, nil)
	require.Empty(t, p.Content[0].Formatting)
	require.Nil(t, p.Layout[0].Attribution)
}
