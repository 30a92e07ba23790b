package client

import (
	"net/http"
	"time"
)

// HeaderSettingClient wraps http.Client to stamp provider-specific headers on
// every outbound request. IPTV providers routinely reject requests that do
// not carry an expected User-Agent, Origin, or Referer.
type HeaderSettingClient struct {
	Client *http.Client
}

// NewHeaderSettingClient builds a client tuned for long-lived streaming
// connections: no overall timeout, but a header timeout so dead servers are
// detected before any payload is expected.
func NewHeaderSettingClient() *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}

	return &HeaderSettingClient{Client: client}
}

// Do executes the request without additional headers.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	return hsc.Client.Do(req)
}

// DoWithHeaders executes the request with per-source header overrides.
// Empty values leave the corresponding header unset.
func (hsc *HeaderSettingClient) DoWithHeaders(req *http.Request, userAgent, origin, referrer string) (*http.Response, error) {
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")

	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	return hsc.Client.Do(req)
}
