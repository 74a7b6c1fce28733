// Package client talks to the emailtidy REST API on behalf of a signed-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"email-tidy-go/internal/task"
)

// Client is an API client authenticated with a bearer token
type Client struct {
	baseURL *url.URL
	source  oauth2.TokenSource
	http    *http.Client
	timeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying transport. The bearer header is added on top.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTokenSource replaces the static token given to New
func WithTokenSource(src oauth2.TokenSource) Option {
	return func(c *Client) { c.source = src }
}

// New creates a client for baseURL. An empty token is accepted here but every
// call then fails with task.ErrAuth before touching the network.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		source:  oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		http:    &http.Client{},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	c.http = &http.Client{
		Transport:     &oauth2.Transport{Source: c.source, Base: base},
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
		Timeout:       c.http.Timeout,
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs one round-trip. Credential failures map to task.ErrAuth, every
// other failure to *task.TransportError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	tok, err := c.source.Token()
	if err != nil || !tok.Valid() {
		return fmt.Errorf("%s: %w", op, task.ErrAuth)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return &task.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &task.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	logrus.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("API request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, task.ErrAuth)
	case resp.StatusCode == http.StatusConflict:
		// another client started a task of the same kind first
		return fmt.Errorf("%s: %w", op, task.ErrConflict)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &task.TransportError{Op: op, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &task.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
