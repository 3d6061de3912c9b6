package site

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blogreach/blogreach/internal/bot"
)

// Token scrapes against the login page markup. The site inlines its initial
// state as JSON inside a script tag, so plain regexes are enough.
var (
	csrfTokenRe = regexp.MustCompile(`"csrfToken":"([^"]+)"`)
	apiTokenRe  = regexp.MustCompile(`"API_TOKEN":"([^"]+)"`)
	featuresRe  = regexp.MustCompile(`"obfuscatedFeatures":"([^"]+)"`)
	profileRe   = regexp.MustCompile(`"isLoggedIn":true,"user":\{.*?"name":"([^"]+)","likes":(\d+),"following":(\d+),"defaultPostFormat":"([^"]+)","email":"([^"]+)"`)
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds the HTTP client knobs.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client speaks the site's protocol over plain HTTP. It implements Adapter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *zap.Logger
}

// NewClient creates a protocol client. The base URL must not end with a
// trailing slash.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent:  ua,
		logger:     logger,
	}
}

// FetchLoginPage scrapes the csrf, bearer and feature tokens from the login
// page markup.
func (c *Client) FetchLoginPage(ctx context.Context) (TokenSet, error) {
	const op = "fetch login page"

	body, status, err := c.get(ctx, c.baseURL+"/login", nil)
	if err != nil {
		return TokenSet{}, bot.NewFailure(bot.FailureNetwork, op, err)
	}
	if status < 200 || status > 299 {
		return TokenSet{}, bot.NewFailure(bot.FailureNetwork, op, fmt.Errorf("status %d", status))
	}

	tokens := TokenSet{
		CSRF:     firstGroup(csrfTokenRe, body),
		Bearer:   firstGroup(apiTokenRe, body),
		Features: firstGroup(featuresRe, body),
	}
	if !tokens.Complete() {
		return TokenSet{}, bot.NewFailure(bot.FailureParse, op, fmt.Errorf("login page missing tokens (csrf=%t bearer=%t)", tokens.CSRF != "", tokens.Bearer != ""))
	}
	return tokens, nil
}

// ExchangeCredentials performs the password grant and captures the session
// cookies from the response. Cookies are only captured on success.
func (c *Client) ExchangeCredentials(ctx context.Context, tokens TokenSet, username, password string) (string, error) {
	const op = "exchange credentials"

	payload, err := json.Marshal(map[string]string{
		"username":   username,
		"password":   password,
		"grant_type": "password",
	})
	if err != nil {
		return "", bot.NewFailure(bot.FailureParse, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/oauth2/token", bytes.NewReader(payload))
	if err != nil {
		return "", bot.NewFailure(bot.FailureNetwork, op, err)
	}
	c.setHeaders(req, tokens, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", bot.NewFailure(bot.FailureNetwork, op, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", bot.NewFailure(bot.FailureAuth, op, fmt.Errorf("status %d", resp.StatusCode))
	}
	return cookieHeader(resp.Header.Values("Set-Cookie")), nil
}

// FetchProfile scrapes the logged-in user block from the site root. A page
// that does not match the pattern yields a nil profile, not an error; the
// site reshuffles this markup often enough that callers treat it as
// best-effort.
func (c *Client) FetchProfile(ctx context.Context, sess *Session) (*Profile, error) {
	const op = "fetch profile"

	body, status, err := c.get(ctx, c.baseURL+"/", sess)
	if err != nil {
		return nil, bot.NewFailure(bot.FailureNetwork, op, err)
	}
	if status < 200 || status > 299 {
		return nil, bot.NewFailure(bot.FailureNetwork, op, fmt.Errorf("status %d", status))
	}

	m := profileRe.FindSubmatch(body)
	if m == nil {
		return nil, nil
	}
	likes, _ := strconv.Atoi(string(m[2]))
	following, _ := strconv.Atoi(string(m[3]))
	return &Profile{
		Name:              string(m[1]),
		Likes:             likes,
		Following:         following,
		DefaultPostFormat: string(m[4]),
		Email:             string(m[5]),
	}, nil
}

type searchResponse struct {
	Response struct {
		Timeline struct {
			Elements []struct {
				ObjectType string `json:"objectType"`
				Blog       struct {
					Name string `json:"name"`
				} `json:"blog"`
			} `json:"elements"`
			Links struct {
				Next struct {
					QueryParams struct {
						Cursor string `json:"cursor"`
					} `json:"queryParams"`
				} `json:"next"`
			} `json:"links"`
		} `json:"timeline"`
	} `json:"response"`
}

// Search fetches one page of timeline search results. The keyword must
// already be normalized; its '+' separators are part of the protocol and
// must not be percent-encoded.
func (c *Client) Search(ctx context.Context, sess *Session, keyword, cursor string) (SearchPage, error) {
	const op = "search"

	u := fmt.Sprintf("%s/api/v2/timeline/search?limit=20&days=0&query=%s&mode=top&timeline_type=post", c.baseURL, keyword)
	if cursor != "" {
		u += "&cursor=" + cursor
	}

	body, status, err := c.get(ctx, u, sess)
	if err != nil {
		return SearchPage{}, bot.NewFailure(bot.FailureNetwork, op, err)
	}
	if status < 200 || status > 299 {
		return SearchPage{}, bot.NewFailure(bot.FailureNetwork, op, fmt.Errorf("status %d", status))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return SearchPage{}, bot.NewFailure(bot.FailureParse, op, err)
	}

	page := SearchPage{
		NextCursor: parsed.Response.Timeline.Links.Next.QueryParams.Cursor,
		Raw:        body,
	}
	for _, el := range parsed.Response.Timeline.Elements {
		page.Items = append(page.Items, SearchItem{ObjectType: el.ObjectType, Name: el.Blog.Name})
	}
	return page, nil
}

// PostMessage submits an ask to the target blog.
func (c *Client) PostMessage(ctx context.Context, sess *Session, target string, msg Message) error {
	const op = "post message"

	payload, err := json.Marshal(buildAskPayload(msg, sess.Profile))
	if err != nil {
		return bot.NewFailure(bot.FailureParse, op, err)
	}

	u := fmt.Sprintf("%s/api/v2/blog/%s/posts", c.baseURL, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return bot.NewFailure(bot.FailureNetwork, op, err)
	}
	c.setHeaders(req, sess.Tokens, sess.Cookies)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return bot.NewFailure(bot.FailureNetwork, op, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return bot.NewFailure(bot.FailureRateLimit, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return bot.NewFailure(bot.FailureNetwork, op, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, sess *Session) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if sess != nil {
		c.setHeaders(req, sess.Tokens, sess.Cookies)
	} else {
		c.setHeaders(req, TokenSet{}, "")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// setHeaders applies the browser-imitating header set the site expects.
func (c *Client) setHeaders(req *http.Request, tokens TokenSet, cookies string) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json;format=camelcase,text/html")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/")
	if tokens.CSRF != "" {
		req.Header.Set("X-CSRF", tokens.CSRF)
	}
	if tokens.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+tokens.Bearer)
	}
	if tokens.Features != "" {
		req.Header.Set("X-Features", tokens.Features)
	}
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
}

// cookieHeader collapses Set-Cookie response headers into a single request
// Cookie value, dropping attributes like Path and Expires.
func cookieHeader(setCookies []string) string {
	pairs := make([]string, 0, len(setCookies))
	for _, sc := range setCookies {
		if pair, _, _ := strings.Cut(sc, ";"); pair != "" {
			pairs = append(pairs, strings.TrimSpace(pair))
		}
	}
	return strings.Join(pairs, "; ")
}

func firstGroup(re *regexp.Regexp, body []byte) string {
	if m := re.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}
