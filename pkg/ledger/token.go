package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// TokenSource supplies the bearer token attached to every gateway call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token (devnet, or tokens injected by the
// deployment environment). An empty token disables the Authorization header.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// expiryMargin renews tokens before they actually lapse so in-flight calls
// never carry a token that expires mid-request.
const expiryMargin = 30 * time.Second

// CachedTokenSource fetches a client-credentials token from an OAuth-style
// endpoint, caches it until close to expiry, and retries transient fetch
// failures with exponential backoff.
type CachedTokenSource struct {
	endpoint     string
	clientID     string
	clientSecret string
	audience     string
	httpc        *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewCachedTokenSource(endpoint, clientID, clientSecret, audience string, timeout time.Duration) *CachedTokenSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CachedTokenSource{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		audience:     audience,
		httpc:        &http.Client{Timeout: timeout},
	}
}

func (c *CachedTokenSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiry.Add(-expiryMargin)) {
		return c.token, nil
	}

	op := func() (string, error) { return c.fetch(ctx) }
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	token, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(5))
	if err != nil {
		return "", fmt.Errorf("token fetch: %w", err)
	}
	return token, nil
}

func (c *CachedTokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	if c.audience != "" {
		form.Set("audience", c.audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// Bad credentials never heal by retrying.
		return "", backoff.Permanent(fmt.Errorf("token endpoint status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", backoff.Permanent(fmt.Errorf("token endpoint returned empty access_token"))
	}

	c.token = body.AccessToken
	c.expiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.token, nil
}
