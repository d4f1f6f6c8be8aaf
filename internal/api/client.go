// Package api implements the REST surfaces of the game backend: account
// bootstrap, user profile/config, the item catalog, boosts and tasks.
//
// Every operation follows the same contract: it either returns a usable
// result or an error that the caller must treat as "state unchanged, try
// again next cycle". Failures are logged here with operation context; nothing
// panics and nothing retries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
	"github.com/Exelery/else-bot/internal/config"
)

// authHeader carries the session token. The backend uses a custom header
// name rather than Authorization.
const authHeader = "X-Telegram-Api-Secret-Token"

// defaultUserAgent is used when a session descriptor does not pin one.
const defaultUserAgent = "Mozilla/5.0 (Linux; Android 13; Pixel 7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Mobile Safari/537.36"

const acceptLanguage = "ru,en;q=0.9,ro;q=0.8,zh;q=0.7,th;q=0.6,es;q=0.5," +
	"it;q=0.4,ar;q=0.3,fr;q=0.2"

var (
	// ErrNoAuth means an operation requiring the session token was attempted
	// without one. Detected locally; no network call is made.
	ErrNoAuth = errors.New("auth token required but not held")

	// ErrServer means the backend returned a well-formed error response.
	ErrServer = errors.New("server reported error")
)

// Client issues REST calls for one account. It keeps a reference to the
// account state and reads the current token at call time, so a token renewed
// mid-session is picked up without rebuilding the client.
type Client struct {
	cfg   *config.Config
	state *account.State
	http  *resty.Client
	log   *zap.Logger
}

// NewClient builds the per-account REST client: fixed browser header set,
// the account's proxy, and a request timeout.
func NewClient(cfg *config.Config, state *account.State, log *zap.Logger) *Client {
	userAgent := state.Session.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	hc := resty.New().
		SetBaseURL("https://"+cfg.Domain).
		SetTimeout(cfg.HTTPTimeout).
		SetHeaders(map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": acceptLanguage,
			"Content-Type":    "application/json",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "same-origin",
			"Referer":         cfg.Origin + "/",
			"Origin":          cfg.Origin,
			"User-Agent":      userAgent,
		})

	if state.Session.Proxy != "" {
		hc.SetProxy(state.Session.Proxy)
	}

	return &Client{
		cfg:   cfg,
		state: state,
		http:  hc,
		log:   log,
	}
}

// envelope is the backend's uniform response shape.
type envelope[T any] struct {
	Data         T                     `json:"data"`
	Error        *string               `json:"error"`
	RealtimeData *account.RealtimeData `json:"realtimeData"`
}

// call issues one request and decodes the uniform envelope. rawQuery, when
// set, is appended verbatim (the bootstrap endpoint takes the opaque startup
// data as its whole query string).
func call[T any](c *Client, ctx context.Context, op, method, path string,
	query url.Values, rawQuery string, body any, needAuth bool,
) (T, *account.RealtimeData, error) {

	var zero T

	if needAuth && c.state.JWT == "" {
		c.log.Debug("skipping operation without auth token", zap.String("op", op))
		return zero, nil, ErrNoAuth
	}

	req := c.http.R().SetContext(ctx)
	if c.state.JWT != "" {
		req.SetHeader(authHeader, c.state.JWT)
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if rawQuery != "" {
		req.SetQueryString(rawQuery)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return zero, nil, c.fail(op, fmt.Errorf("request failed: %w", err))
	}

	if !resp.IsSuccess() {
		return zero, nil, c.fail(op, fmt.Errorf("%w: status %d: %s",
			ErrServer, resp.StatusCode(), resp.String()))
	}

	var env envelope[T]
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return zero, nil, c.fail(op, fmt.Errorf("failed to decode response: %w", err))
	}
	if env.Error != nil {
		return zero, nil, c.fail(op, fmt.Errorf("%w: %s", ErrServer, *env.Error))
	}

	return env.Data, env.RealtimeData, nil
}

// fail records and logs an operation failure.
func (c *Client) fail(op string, err error) error {
	c.state.LastErrorAt = time.Now()
	c.log.Error("backend operation failed",
		zap.String("op", op),
		zap.Int64("userId", c.state.UserID),
		zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) userQuery() url.Values {
	return url.Values{"userId": {fmt.Sprint(c.state.UserID)}}
}
