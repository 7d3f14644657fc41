// Package transport provides the HTTP client used for every call to the provider.
package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// UserAgent identifies the SDK to the provider
	UserAgent = "nk-go-sdk: 1.2"

	// Timeout bounds connecting and the whole exchange
	Timeout = 5 * time.Second
)

// userAgentTransport sets the SDK user agent on outgoing requests
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// NewHTTPClient creates a client with the SDK timeouts and user agent
func NewHTTPClient() *http.Client {
	return WrapClient(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: Timeout,
	})
}

// WrapClient builds an SDK client on top of an existing round tripper.
// Tests pass httptest transports here.
func WrapClient(base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   Timeout,
		Transport: &userAgentTransport{base: base, userAgent: UserAgent},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}
