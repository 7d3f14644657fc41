// Package oauth1 signs requests with one-legged OAuth 1.0 HMAC-SHA1:
// application credentials only, no user token secret.
package oauth1

import (
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/google/uuid"
)

// Protocol parameter names
const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamNonce           = "oauth_nonce"
	ParamSignature       = "oauth_signature"
	ParamSignatureMethod = "oauth_signature_method"
	ParamTimestamp       = "oauth_timestamp"
	ParamVersion         = "oauth_version"
	ParamBodyHash        = "oauth_body_hash"
)

// ErrMissingCredentials is returned when the consumer key is empty
var ErrMissingCredentials = errors.New("oauth1: consumer key is required")

// Signer computes OAuth 1.0 signatures for a single application
type Signer struct {
	ConsumerKey    string
	ConsumerSecret string

	// Now and Nonce default to the wall clock and random UUIDs
	Now   func() time.Time
	Nonce func() string
}

// Sign returns the protocol parameters, including oauth_signature, for a
// request with the given method, URL and extra parameters. Extra parameters
// (and the URL's own query) are covered by the signature but not returned.
func (s *Signer) Sign(method string, u *url.URL, params url.Values) (url.Values, error) {
	if s.ConsumerKey == "" {
		return nil, ErrMissingCredentials
	}

	hmac := oauth1.HMACSigner{ConsumerSecret: s.ConsumerSecret}

	oauthParams := url.Values{}
	oauthParams.Set(ParamConsumerKey, s.ConsumerKey)
	oauthParams.Set(ParamNonce, s.nonce())
	oauthParams.Set(ParamSignatureMethod, hmac.Name())
	oauthParams.Set(ParamTimestamp, strconv.FormatInt(s.now().Unix(), 10))
	oauthParams.Set(ParamVersion, "1.0")

	// oauth_* values supplied by the caller, such as oauth_body_hash, belong in the header too
	for k, vs := range params {
		if strings.HasPrefix(k, "oauth_") && len(vs) > 0 {
			oauthParams.Set(k, vs[0])
		}
	}

	all := url.Values{}
	for k, vs := range u.Query() {
		all[k] = append(all[k], vs...)
	}
	for k, vs := range params {
		if strings.HasPrefix(k, "oauth_") {
			continue
		}
		all[k] = append(all[k], vs...)
	}
	for k, vs := range oauthParams {
		all[k] = append(all[k], vs...)
	}

	signature, err := hmac.Sign("", BaseString(method, u, all))
	if err != nil {
		return nil, err
	}
	oauthParams.Set(ParamSignature, signature)
	return oauthParams, nil
}

// Header renders an Authorization header value from signed protocol parameters.
// Non-protocol parameters are ignored.
func Header(oauthParams url.Values) string {
	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		if strings.HasPrefix(k, "oauth_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, oauth1.PercentEncode(k)+`="`+oauth1.PercentEncode(oauthParams.Get(k))+`"`)
	}
	return "OAuth " + strings.Join(parts, ",")
}

// BaseString builds the signature base string: method, normalized URL and
// normalized parameters, each percent-encoded and joined with '&'.
func BaseString(method string, u *url.URL, params url.Values) string {
	return strings.ToUpper(method) + "&" +
		oauth1.PercentEncode(normalizeURL(u)) + "&" +
		oauth1.PercentEncode(normalizeParams(params))
}

func normalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func normalizeParams(params url.Values) string {
	type pair struct{ k, v string }

	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		if k == ParamSignature {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, pair{oauth1.PercentEncode(k), oauth1.PercentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	encoded := make([]string, 0, len(pairs))
	for _, p := range pairs {
		encoded = append(encoded, p.k+"="+p.v)
	}
	return strings.Join(encoded, "&")
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Signer) nonce() string {
	if s.Nonce != nil {
		return s.Nonce()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
