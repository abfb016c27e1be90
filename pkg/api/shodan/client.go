// Package shodan implements api.Client against the Shodan REST and streaming endpoints.
package shodan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL   = "https://api.shodan.io"
	DefaultStreamURL = "https://stream.shodan.io"

	defaultTimeout = 30 * time.Second
	userAgent      = "shodan-ng"
)

// Client talks to the Shodan API. Construct it with New.
type Client struct {
	key       string
	baseURL   string
	streamURL string
	http      *http.Client
	stream    *http.Client
}

var _ api.Client = (*Client)(nil)

type Option func(*Client)

// WithBaseURL points the REST calls somewhere else (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithStreamURL points the feeds somewhere else.
func WithStreamURL(u string) Option {
	return func(c *Client) { c.streamURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the client used for REST calls. Feeds always use a client without an
// overall timeout since they are long-lived.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the given API key.
func New(key string, options ...Option) (*Client, error) {
	if strings.TrimSpace(key) == "" {
		return nil, api.ErrNoAPIKey
	}

	c := &Client{
		key:       strings.TrimSpace(key),
		baseURL:   DefaultBaseURL,
		streamURL: DefaultStreamURL,
		http:      &http.Client{Timeout: defaultTimeout},
		stream:    &http.Client{},
	}

	for _, option := range options {
		option(c)
	}

	return c, nil
}

func (c *Client) endpoint(base, path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.key)
	return fmt.Sprintf("%s%s?%s", base, path, params.Encode())
}

// do performs a REST call and returns the body of a 2xx response. body, if non-nil, is sent as
// application/x-www-form-urlencoded when it is url.Values and as JSON otherwise.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	var (
		rdr         io.Reader
		contentType string
	)

	switch b := body.(type) {
	case nil:
	case url.Values:
		rdr = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		j, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(j)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(c.baseURL, path, params), rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log.Debugf("%s %s%s", method, c.baseURL, path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remoteError(resp.StatusCode, data)
	}

	// some endpoints answer 200 with an error document
	if msg := gjson.GetBytes(data, "error"); msg.Exists() && msg.Type == gjson.String {
		return nil, &api.Error{Status: resp.StatusCode, Message: msg.String()}
	}

	return data, nil
}

func remoteError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error").String()
	if msg == "" && !gjson.ValidBytes(body) {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return &api.Error{Status: status, Message: msg}
}

// Info returns the account's plan and credits.
func (c *Client) Info(ctx context.Context) (*api.Account, error) {
	data, err := c.do(ctx, http.MethodGet, "/api-info", nil, nil)
	if err != nil {
		return nil, err
	}

	var acc api.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &acc, nil
}

// MyIP returns the caller's public address as seen by the service.
func (c *Client) MyIP(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/tools/myip", nil, nil)
	if err != nil {
		return "", err
	}
	return gjson.ParseBytes(data).String(), nil
}
