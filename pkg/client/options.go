package client

import (
	"net/http"
	"time"
)

// Option configures the client.
type Option func(*options)

type options struct {
	apiKey     string
	httpClient *http.Client
	headers    map[string]string
}

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    make(map[string]string),
	}
}

// WithAPIKey sets the X-API-Key header sent on every request.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTimeout adjusts the HTTP client's request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.httpClient.Timeout = d
	}
}

// WithHeader adds a custom header to every request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.headers[key] = value
	}
}

func (o *options) decorate(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("X-API-Key", o.apiKey)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
}
