// Package nkservice issues signed calls to the NK REST API and maps the
// responses into entities.
package nkservice

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"nksdk/pkg/nk"
	"nksdk/pkg/oauth1"
	"nksdk/pkg/transport"
)

// ContentType is sent with every API request
const ContentType = "application/json; charset=utf8"

// TokenParam carries the user's access token on every call
const TokenParam = "nk_token"

// Service is a signed client for the NK REST API bound to one token provider
type Service struct {
	config     nk.Config
	tokens     nk.TokenProvider
	httpClient *http.Client
	signer     *oauth1.Signer
	logger     *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithHTTPClient replaces the default SDK client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithLogger sets the logger used for request diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSigner replaces the request signer, e.g. to fix nonces and timestamps
func WithSigner(signer *oauth1.Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// New creates a Service. Configuration is validated per call, so an invalid
// secret surfaces as a configuration error on the first request.
func New(cfg nk.Config, tokens nk.TokenProvider, opts ...Option) *Service {
	cfg = cfg.WithDefaults()
	s := &Service{
		config:     cfg,
		tokens:     tokens,
		httpClient: transport.NewHTTPClient(),
		signer:     &oauth1.Signer{ConsumerKey: cfg.Key, ConsumerSecret: cfg.Secret},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the service signs with
func (s *Service) Config() nk.Config {
	return s.config
}

// Call performs a signed request against path (relative to the API base URL)
// and decodes a 200 response into out. out may be nil to discard the body.
//
// GET sends params in the query string. POST sends them as a JSON body and
// signs its SHA-1 hash instead. The token always travels in the query string.
func (s *Service) Call(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := s.config.ValidateKey(); err != nil {
		return err
	}
	if err := s.config.ValidateSecret(); err != nil {
		return err
	}

	token := s.tokens.Token(ctx)
	if token == "" {
		return nk.ErrUnauthorized
	}

	endpoint, err := url.Parse(strings.TrimRight(s.config.APIBaseURL, "/") + path)
	if err != nil {
		return fmt.Errorf("%w: bad path %q: %v", ErrInvalidParams, path, err)
	}

	query := url.Values{TokenParam: {token}}
	signing := url.Values{TokenParam: {token}}
	var body []byte

	switch method {
	case http.MethodGet:
		for k, vs := range params {
			query[k] = append(query[k], vs...)
			signing[k] = append(signing[k], vs...)
		}
	case http.MethodPost:
		body, err = json.Marshal(flatten(params))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		sum := sha1.Sum(body)
		signing.Set(oauth1.ParamBodyHash, base64.StdEncoding.EncodeToString(sum[:]))
	default:
		return fmt.Errorf("%w: unsupported method %s", ErrInvalidParams, method)
	}

	oauthParams, err := s.signer.Sign(method, endpoint, signing)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", oauth1.Header(oauthParams))
	req.Header.Set("Content-Type", ContentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("NK API request failed", "method", method, "path", path, "error", err)
		return &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	s.logger.Debug("NK API request", "method", method, "path", path, "status", resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrServiceNotFound, path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermission, path)
	default:
		return &TransportError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// flatten turns single-valued params into plain JSON strings
func flatten(params url.Values) map[string]any {
	out := make(map[string]any, len(params))
	for k, vs := range params {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = vs
		}
	}
	return out
}
