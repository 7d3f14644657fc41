package nkconnect

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"nksdk/pkg/session"
)

// Query parameters the login flow reads and strips from the page URL
const (
	ParamState            = "nkconnect_state"
	ParamCode             = "code"
	ParamOTP              = "state"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
)

// Values of the nkconnect_state marker
const (
	PhaseCallback = "callback"
	PhaseLogout   = "logout"
)

var strippedParams = []string{ParamState, ParamCode, ParamOTP, ParamError, ParamErrorDescription}

// Request is the per-request context the login flow runs against: inbound
// parameters, the absolute page URL, the visitor's session and the request time.
type Request struct {
	Params  url.Values
	URL     *url.URL
	Session session.Store
	Now     func() time.Time
}

// NewRequest builds a Request from an incoming HTTP request. Query and form
// parameters are merged. The clock is fixed at the time of the call.
func NewRequest(r *http.Request, store session.Store) (*Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse request parameters: %w", err)
	}

	u := *r.URL
	u.Scheme = "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		u.Scheme = "https"
	}
	u.Host = r.Host
	u.Fragment = ""

	now := time.Now()
	return &Request{
		Params:  r.Form,
		URL:     &u,
		Session: store,
		Now:     func() time.Time { return now },
	}, nil
}

// Secure reports whether the page was served over HTTPS
func (r *Request) Secure() bool {
	return r.URL != nil && r.URL.Scheme == "https"
}

func (r *Request) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// pageURL is the current URL without any login flow parameters
func (r *Request) pageURL() string {
	if r.URL == nil {
		return ""
	}
	u := *r.URL
	q := u.Query()
	for _, p := range strippedParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}
