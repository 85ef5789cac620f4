// Package telegram retrieves pending bot updates from the Bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const redactedToken = "<redacted>"

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the Bot API netloc, e.g. "https://api.telegram.org".
	BaseURL string

	// Token is the bot token. It is placed in the request path and nowhere else.
	Token string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client fetches updates for one bot.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchUpdates returns up to limit pending updates in source order.
// A limit below 1 is treated as 1. The result may be empty.
//
// Every failure matches ErrSourceUnavailable.
func (c *Client) FetchUpdates(ctx context.Context, limit int) ([]Update, error) {
	if limit < 1 {
		limit = 1
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.token)+"?"+query, nil)
	if err != nil {
		return nil, &SourceError{Op: "getUpdates", Err: c.redact(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SourceError{Op: "getUpdates", Err: c.redact(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.logger.Debug("telegram request",
		"path", c.endpoint(redactedToken),
		"limit", limit,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	if err != nil {
		return nil, &SourceError{Op: "getUpdates", Status: resp.StatusCode, Err: c.redact(err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SourceError{
			Op:     "getUpdates",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", http.StatusText(resp.StatusCode)),
		}
	}

	updates, err := parseUpdates(body)
	if err != nil {
		return nil, &SourceError{Op: "getUpdates", Status: resp.StatusCode, Err: err}
	}
	return updates, nil
}

func (c *Client) endpoint(token string) string {
	return c.baseURL + "/bot" + token + "/getUpdates"
}

// redact strips the bot token from transport errors, which embed the URL.
func (c *Client) redact(err error) error {
	if c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), c.token, redactedToken), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }

func (e redactedError) Unwrap() error { return e.err }
