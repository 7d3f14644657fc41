// Package nkconnect implements the "Log in with NK" flow for a website:
// the login button, the provider callback, token storage in the visitor's
// session, refresh and logout.
package nkconnect

import (
	"context"
	"crypto/subtle"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"nksdk/pkg/nk"
	"nksdk/pkg/nkservice"
	"nksdk/pkg/session"
	"nksdk/pkg/transport"
)

// AuthSession is the capability set a site needs from a login flow
type AuthSession interface {
	nk.TokenProvider
	HandleCallback(ctx context.Context) bool
	Button() template.HTML
	Logout()
}

// Connect runs the login flow for one request. Create one per request; it
// is not safe for concurrent use.
type Connect struct {
	config     nk.Config
	req        *Request
	keys       session.Keys
	httpClient *http.Client
	logger     *slog.Logger
	svcOpts    []nkservice.Option

	issues  []issue
	user    *nkservice.User
	service *nkservice.Service
}

// Option configures a Connect
type Option func(*Connect)

// WithHTTPClient replaces the client used for the token endpoint and API calls
func WithHTTPClient(c *http.Client) Option {
	return func(nc *Connect) { nc.httpClient = c }
}

// WithLogger sets the logger for flow diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(nc *Connect) { nc.logger = l }
}

// WithServiceOptions passes options to the API service created by Service
func WithServiceOptions(opts ...nkservice.Option) Option {
	return func(nc *Connect) { nc.svcOpts = append(nc.svcOpts, opts...) }
}

// New creates the login flow for req. It fails with a configuration error
// when the application key is missing.
func New(cfg nk.Config, req *Request, opts ...Option) (*Connect, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateKey(); err != nil {
		return nil, err
	}
	if req == nil || req.Session == nil {
		return nil, &nk.ConfigError{Field: "request", Reason: "request context with a session store is required"}
	}

	c := &Connect{
		config:     cfg,
		req:        req,
		keys:       session.NewKeys(cfg.Key),
		httpClient: transport.NewHTTPClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the configuration the flow runs with
func (c *Connect) Config() nk.Config {
	return c.config
}

// HandleCallback processes the provider redirect when the request carries
// the nkconnect_state marker. It returns true when a login completed with a
// usable account, or when a logout left the visitor logged out. Requests
// without the marker are left untouched and return false.
//
// Problems are recorded and can be read with Errors and Err.
func (c *Connect) HandleCallback(ctx context.Context) bool {
	switch c.req.Params.Get(ParamState) {
	case PhaseCallback:
		return c.handleLogin(ctx)
	case PhaseLogout:
		c.Logout()
		return !c.Authenticated(ctx)
	default:
		return false
	}
}

func (c *Connect) handleLogin(ctx context.Context) bool {
	expected, ok := c.consumeOTP()
	got := c.req.Params.Get(ParamOTP)
	if !ok || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		c.logger.Warn("NK login callback with invalid state")
		c.record(ErrCodeInvalidOTP, "Invalid OTP, the login request did not originate from this site")
		return false
	}

	if providerErr := c.req.Params.Get(ParamError); providerErr != "" {
		desc := c.req.Params.Get(ParamErrorDescription)
		if desc == "" {
			desc = providerErr
		}
		c.logger.Info("NK login declined", "error", providerErr)
		c.record(providerErr, desc)
		return false
	}

	code := c.req.Params.Get(ParamCode)
	if code == "" {
		c.record(ErrCodeCodeMissing, "Authorization code is missing")
		return false
	}

	if !c.exchange(ctx, code) {
		return false
	}
	return c.Authenticated(ctx)
}

// Logout forgets all token state and the pending login nonce
func (c *Connect) Logout() {
	for _, key := range c.keys.All() {
		c.req.Session.Unset(key)
	}
	c.user = nil
	c.service = nil
}

// Authenticated reports whether a token is available and the provider
// returns the user it belongs to.
func (c *Connect) Authenticated(ctx context.Context) bool {
	_, err := c.User(ctx)
	return err == nil
}

// User returns the logged-in user, fetching it once per Connect
func (c *Connect) User(ctx context.Context) (*nkservice.User, error) {
	if c.user != nil && c.TokenAvailable(ctx) {
		return c.user, nil
	}

	svc, err := c.Service(ctx)
	if err != nil {
		return nil, err
	}

	user, err := svc.Me(ctx)
	if err != nil {
		if !errors.Is(err, nk.ErrConfiguration) {
			c.logger.Warn("failed to fetch NK user", "error", err)
		}
		return nil, err
	}
	c.user = user
	return user, nil
}

// Service returns an API client bound to this login flow's token
func (c *Connect) Service(ctx context.Context) (*nkservice.Service, error) {
	if !c.TokenAvailable(ctx) {
		return nil, nk.ErrUnauthorized
	}
	if c.service == nil {
		opts := append([]nkservice.Option{
			nkservice.WithHTTPClient(c.httpClient),
			nkservice.WithLogger(c.logger),
		}, c.svcOpts...)
		c.service = nkservice.New(c.config, c, opts...)
	}
	return c.service, nil
}

// Errors returns the recorded protocol errors keyed by code
func (c *Connect) Errors() map[string]string {
	out := make(map[string]string, len(c.issues))
	for _, i := range c.issues {
		out[i.code] = i.description
	}
	return out
}

// Err returns the recorded protocol errors, or nil when there are none
func (c *Connect) Err() error {
	if len(c.issues) == 0 {
		return nil
	}
	return &ProtocolError{issues: append([]issue(nil), c.issues...)}
}

func (c *Connect) record(code, description string) {
	for i := range c.issues {
		if c.issues[i].code == code {
			c.issues[i].description = description
			return
		}
	}
	c.issues = append(c.issues, issue{code: code, description: description})
}

// oauthConfig describes the provider's token endpoint for this page
func (c *Connect) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.config.Key,
		ClientSecret: c.config.Secret,
		RedirectURL:  c.redirectURI(PhaseCallback),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.config.LoginURL,
			TokenURL:  c.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

var _ AuthSession = (*Connect)(nil)
