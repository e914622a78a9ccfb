package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/internal/utils"
	"github.com/jrsteele09/go-session-client/tenant"
)

const (
	defaultRefreshPath = "/auth/refresh"
	defaultLogoutPath  = "/auth/logout"
	defaultScopeParam  = "brandId"
	defaultHTTPTimeout = 30 * time.Second
	logoutTimeout      = 5 * time.Second
)

// Config describes the endpoints and conventions of the backing API.
type Config struct {
	BaseURL     string        // Required. Root of the backing API
	RefreshPath string        // Token refresh endpoint (default /auth/refresh)
	LogoutPath  string        // Best-effort logout endpoint (default /auth/logout)
	ScopeParam  string        // Tenant scoping query parameter (default brandId)
	HTTPTimeout time.Duration // Transport timeout (default 30s)
}

// Client issues authenticated requests against the backing API. It owns the
// credential pair behind the injected store: after construction, only the
// refresh operation and SetCredentials write to it. An expired access token
// is recovered transparently exactly once per request via a single shared
// refresh; every other authentication failure ends the session.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	creds        credentials.Store
	scope        *tenant.Scope
	refreshPath  string
	logoutPath   string
	scopeParam   string
	expiryBuffer time.Duration
	log          zerolog.Logger

	refreshGroup singleflight.Group
	notifier     sessionNotifier
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the client logger (a no-op logger is used by default).
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithExpiryBuffer enables pre-emptive refresh: when the stored access token
// expires within the buffer, the client refreshes before issuing the request
// instead of waiting for the round trip to fail with a 401.
func WithExpiryBuffer(buffer time.Duration) Option {
	return func(c *Client) {
		c.expiryBuffer = buffer
	}
}

// New initializes a Client with required dependencies. scope may be nil, in
// which case requests are unscoped until a scope is injected.
func New(cfg Config, creds credentials.Store, scope *tenant.Scope, options ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("[New] BaseURL is required")
	}
	if creds == nil {
		return nil, errors.New("[New] credentials store is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[New] invalid BaseURL")
	}
	if baseURL.Host == "" {
		return nil, errors.Errorf("[New] BaseURL %q has no host", cfg.BaseURL)
	}

	if scope == nil {
		scope = tenant.NewScope()
	}

	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	client := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		creds:       creds,
		scope:       scope,
		refreshPath: cfg.RefreshPath,
		logoutPath:  cfg.LogoutPath,
		scopeParam:  cfg.ScopeParam,
		log:         zerolog.Nop(),
	}
	if client.refreshPath == "" {
		client.refreshPath = defaultRefreshPath
	}
	if client.logoutPath == "" {
		client.logoutPath = defaultLogoutPath
	}
	if client.scopeParam == "" {
		client.scopeParam = defaultScopeParam
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

// SessionEnded returns a channel receiving one value per expiry episode.
// Subscribers use it to drive exactly one redirect to the login flow even
// when many concurrent requests fail together.
func (c *Client) SessionEnded() <-chan struct{} {
	return c.notifier.subscribe()
}

// SetCredentials installs a new credential pair (typically after a login)
// and re-arms the session-expired notifier.
func (c *Client) SetCredentials(pair credentials.Pair) error {
	if err := c.creds.Set(pair); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	c.notifier.reset()
	return nil
}

// Get issues a GET request and returns the decoded body.
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request and returns the decoded body.
func (c *Client) Post(ctx context.Context, path string, body any) (any, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request and returns the decoded body.
func (c *Client) Put(ctx context.Context, path string, body any) (any, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete issues a DELETE request and returns the decoded body.
func (c *Client) Delete(ctx context.Context, path string) (any, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// Do issues the request with the current bearer token attached. On a 401
// carrying the expired-token reason it refreshes once (shared with all
// concurrent callers) and replays the request a single time; any further
// authentication failure is terminal and yields ErrSessionExpired.
func (c *Client) Do(ctx context.Context, req *Request) (any, error) {
	if req == nil {
		return nil, errors.New("[Do] request is required")
	}

	requestID := uuid.NewString()
	log := c.log.With().
		Str("request_id", requestID).
		Str("method", req.method()).
		Str("path", req.Path).
		Logger()

	payload, contentType, err := encodePayload(req.Body)
	if err != nil {
		return nil, err
	}

	pair, err := c.creds.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	if c.expiryBuffer > 0 && pair.RefreshToken != "" && pair.ExpiresWithin(c.expiryBuffer) {
		log.Debug().Msg("access token near expiry, refreshing before request")
		if err := c.refreshCredentials(ctx); err != nil {
			log.Debug().Err(err).Msg("pre-emptive refresh failed, continuing with current token")
		} else if pair, err = c.creds.Get(); err != nil {
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}
	}

	status, header, body, err := c.send(ctx, req, payload, contentType, pair.AccessToken, requestID)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return c.recoverAuth(ctx, req, payload, contentType, body, pair.AccessToken, requestID, log)
	}
	return c.result(status, header, body)
}

// recoverAuth runs the authentication-recovery procedure for a 401 response:
// refresh once if and only if the reason code is TOKEN_EXPIRED, replay the
// original request once, and otherwise end the session. When a concurrent
// request already rotated the token between our send and the 401, the refresh
// is skipped and the replay uses the rotated token directly.
func (c *Client) recoverAuth(ctx context.Context, req *Request, payload []byte, contentType string, body []byte, usedToken, requestID string, log zerolog.Logger) (any, error) {
	reason := failureCode(body)
	if reason != ReasonTokenExpired {
		log.Debug().Str("reason", reason).Msg("authentication failure is not recoverable")
		c.endSession()
		return nil, ErrSessionExpired
	}

	pair, err := c.creds.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if pair.AccessToken == "" || pair.AccessToken == usedToken {
		if err := c.refreshCredentials(ctx); err != nil {
			log.Debug().Err(err).Msg("token refresh failed")
			c.endSession()
			return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		if pair, err = c.creds.Get(); err != nil {
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}
	} else {
		log.Debug().Msg("token already refreshed by a concurrent request")
	}

	log.Debug().Msg("replaying request with refreshed token")
	status, header, retryBody, err := c.send(ctx, req, payload, contentType, pair.AccessToken, requestID)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// One retry only. A 401 on the replay is terminal regardless of
		// its reason code.
		c.endSession()
		return nil, ErrSessionExpired
	}
	return c.result(status, header, retryBody)
}

// refreshCredentials exchanges the stored refresh token for a new credential
// pair. All concurrent callers share a single in-flight refresh and observe
// the same outcome. The refresh runs detached from the caller's context so
// that an abandoned request cannot cancel it for the callers that joined.
func (c *Client) refreshCredentials(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return nil, c.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return nil
}

func (c *Client) doRefresh(ctx context.Context) error {
	pair, err := c.creds.Get()
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if pair.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": pair.RefreshToken})
	if err != nil {
		return fmt.Errorf("failed to encode refresh request: %w", err)
	}

	target := c.baseURL.ResolveReference(&url.URL{Path: c.refreshPath})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.log.Warn().Err(closeErr).Msg("failed to close refresh response body")
	}
	if err != nil {
		return fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &RequestError{Status: resp.StatusCode, Body: string(body)}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if utils.Value(tokenResp.AccessToken) == "" {
		return fmt.Errorf("refresh response carries no access token")
	}

	// Replace the pair as a whole: new access token, and the new refresh
	// token when the server rotated it, otherwise the old one is retained.
	next := credentials.Pair{
		AccessToken:  utils.Value(tokenResp.AccessToken),
		RefreshToken: pair.RefreshToken,
	}
	if rotated := utils.Value(tokenResp.RefreshToken); rotated != "" {
		next.RefreshToken = rotated
	}
	if err := c.creds.Set(next); err != nil {
		return fmt.Errorf("failed to store refreshed credentials: %w", err)
	}

	c.notifier.reset()
	c.log.Info().Msg("access token refreshed")
	return nil
}

// endSession performs the terminal path once per expiry episode: clear the
// credential pair, notify the backing API best-effort, and broadcast the
// session-expired event. Later callers in the same episode return
// ErrSessionExpired without repeating the side effects.
func (c *Client) endSession() {
	if !c.notifier.begin() {
		return
	}

	pair, err := c.creds.Get()
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to read credentials while ending session")
	}
	if err := c.creds.Clear(); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear credentials")
	}

	go c.notifyLogout(pair.AccessToken)

	c.notifier.broadcast()
	c.log.Info().Msg("session ended")
}

// notifyLogout tells the backing API the session is over. Fire-and-forget:
// failures are logged and ignored.
func (c *Client) notifyLogout(accessToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	target := c.baseURL.ResolveReference(&url.URL{Path: c.logoutPath})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("logout notification failed")
		return
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		c.log.Debug().Err(err).Msg("failed to drain logout response")
	}
	if err := resp.Body.Close(); err != nil {
		c.log.Debug().Err(err).Msg("failed to close logout response body")
	}
}

// send performs one HTTP round trip and returns the fully read response.
func (c *Client) send(ctx context.Context, req *Request, payload []byte, contentType, accessToken, requestID string) (int, http.Header, []byte, error) {
	target, err := c.resolveURL(req)
	if err != nil {
		return 0, nil, nil, err
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), target.String(), bodyReader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}
	httpReq.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.log.Warn().Err(closeErr).Msg("failed to close response body")
	}
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// resolveURL resolves the request path against the base URL, merges explicit
// query parameters, and attaches the tenant scope to GET requests targeting
// the backing API. A scope parameter already present in the URL is never
// duplicated, and the All sentinel attaches nothing.
func (c *Client) resolveURL(req *Request) (*url.URL, error) {
	parsed, err := url.Parse(req.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "[resolveURL] invalid path %q", req.Path)
	}
	target := c.baseURL.ResolveReference(parsed)

	query := target.Query()
	for key, values := range req.Query {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	if req.method() == http.MethodGet &&
		target.Host == c.baseURL.Host &&
		c.scope.Scoped() &&
		!query.Has(c.scopeParam) {
		query.Set(c.scopeParam, c.scope.Value())
	}
	target.RawQuery = query.Encode()

	return target, nil
}

func (c *Client) result(status int, header http.Header, body []byte) (any, error) {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return decodeBody(status, header, body)
	}
	return nil, &RequestError{Status: status, Body: string(body)}
}
