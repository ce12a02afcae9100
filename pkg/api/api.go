// Package api holds the REST plumbing shared by the snapshot loader and the
// mutation gateway.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	CachePath  = "/api/cache"
	StreamPath = "/ws"
)

var ErrNotFound = errors.New("key not found")

// TransportError is any network failure or unexpected status from the cache
// service. StatusCode is 0 when no response was received.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: unexpected status code: %d", e.Method, e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseUrl *url.URL
	http    *http.Client
}

// NewClient builds a client against baseUrl. A zero timeout keeps the
// transport default.
func NewClient(baseUrl *url.URL, timeout time.Duration) *Client {
	hc := http.DefaultClient
	if timeout > 0 {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseUrl: baseUrl, http: hc}
}

func (c *Client) CacheURL() string {
	return c.baseUrl.JoinPath(CachePath).String()
}

// KeyURL returns the URL of a single key. The key is escaped as one path
// segment, so keys containing '/' survive the trip.
func (c *Client) KeyURL(key string) string {
	u := c.baseUrl.JoinPath(CachePath)
	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + "/" + url.PathEscape(key)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key
	return u.String()
}

// StreamURL returns the websocket URL of the push channel.
func StreamURL(baseUrl *url.URL, path string) string {
	if path == "" {
		path = StreamPath
	}
	u := baseUrl.JoinPath(path)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// Do sends req and converts failures into the error taxonomy: 404 becomes
// ErrNotFound, anything else outside 2xx becomes a *TransportError. On success
// the caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.String(), ErrNotFound)
	}
	return nil, &TransportError{Method: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
