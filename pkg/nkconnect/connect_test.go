package nkconnect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nksdk/pkg/nk"
	"nksdk/pkg/nkservice"
	"nksdk/pkg/oauth1"
	"nksdk/pkg/session"
)

const (
	testKey    = "app42"
	testSecret = "0a1b2c3d-4e5f-6a7b-8c9d-0e1f2a3b4c5d"
	testPage   = "http://site.example/page?foo=bar"
)

var testNow = time.Unix(1700000000, 0)

// fakeNK stands in for the provider's token endpoint and REST API
type fakeNK struct {
	server *httptest.Server

	mu            sync.Mutex
	tokenHandler  http.HandlerFunc
	tokenRequests []url.Values
	meStatus      int
	meRequests    int
	meAuth        string
}

func newFakeNK(t *testing.T) *fakeNK {
	t.Helper()
	f := &fakeNK{meStatus: http.StatusOK}
	f.setTokenHandler(tokenJSON(`{"access_token":"T1","expires_in":3600,"refresh_token":"R1"}`))

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.tokenRequests = append(f.tokenRequests, r.PostForm)
		handler := f.tokenHandler
		f.mu.Unlock()
		handler(w, r)
	})
	mux.HandleFunc("/rest/people/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.meRequests++
		f.meAuth = r.Header.Get("Authorization")
		status := f.meStatus
		f.mu.Unlock()

		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"entry":{"id":"person.1","displayName":"Jan"}}`))
		}
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeNK) config() nk.Config {
	return nk.Config{
		Key:         testKey,
		Secret:      testSecret,
		Permissions: []nk.Permission{nk.BasicProfile, nk.EmailProfile},
		LoginURL:    "https://nk.pl/oauth2/login",
		TokenURL:    f.server.URL + "/oauth2/token",
		APIBaseURL:  f.server.URL + "/rest",
	}
}

func (f *fakeNK) setTokenHandler(h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenHandler = h
}

func (f *fakeNK) setMeStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meStatus = status
}

func (f *fakeNK) lastMeAuthorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meAuth
}

func (f *fakeNK) tokenCalls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.tokenRequests...)
}

func tokenJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func tokenStatus(status int, contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestRequest(t *testing.T, rawURL string, store session.Store, now *time.Time) *Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &Request{
		Params:  u.Query(),
		URL:     u,
		Session: store,
		Now:     func() time.Time { return *now },
	}
}

func newTestConnect(t *testing.T, f *fakeNK, req *Request) *Connect {
	t.Helper()
	c, err := New(f.config(), req, WithHTTPClient(f.server.Client()))
	require.NoError(t, err)
	return c
}

func key(field string) string {
	return session.NewKeys(testKey).Key(field)
}

func seedToken(store session.Store, token string, expiry time.Time, refresh string) {
	store.Set(key(session.FieldToken), token)
	store.Set(key(session.FieldExpiry), strconv.FormatInt(expiry.Unix(), 10))
	if refresh != "" {
		store.Set(key(session.FieldRefresh), refresh)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	now := testNow
	req := newTestRequest(t, testPage, session.NewMemoryStore(), &now)

	_, err := New(nk.Config{Secret: testSecret}, req)
	assert.ErrorIs(t, err, nk.ErrConfiguration)

	_, err = New(nk.Config{Key: testKey}, nil)
	assert.ErrorIs(t, err, nk.ErrConfiguration)
}

func TestLoginURI_FreshVisit(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	now := testNow
	c := newTestConnect(t, f, newTestRequest(t, testPage, store, &now))

	login, err := url.Parse(c.LoginURI())
	require.NoError(t, err)

	otp, ok := store.Get(key(session.FieldOTP))
	require.True(t, ok)
	assert.Len(t, otp, 40)

	assert.Equal(t, "nk.pl", login.Host)
	assert.Equal(t, "/oauth2/login", login.Path)

	q := login.Query()
	assert.Equal(t, testKey, q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://site.example/page?foo=bar&nkconnect_state=callback", q.Get("redirect_uri"))
	assert.Equal(t, "BASIC_PROFILE_ROLE,EMAIL_PROFILE_ROLE", q.Get("scope"))
	assert.Equal(t, otp, q.Get("state"))

	// The nonce is stable until consumed
	again, _ := url.Parse(c.LoginURI())
	assert.Equal(t, otp, again.Query().Get("state"))
	assert.Empty(t, f.tokenCalls(), "no network call for a fresh visit")
}

func TestHandleCallback_Success(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	req := newTestRequest(t, testPage+"&nkconnect_state=callback&state=abc&code=C1", store, &now)
	c := newTestConnect(t, f, req)

	assert.True(t, c.HandleCallback(context.Background()))
	assert.NoError(t, c.Err())

	token, _ := store.Get(key(session.FieldToken))
	expiry, _ := store.Get(key(session.FieldExpiry))
	refresh, _ := store.Get(key(session.FieldRefresh))
	assert.Equal(t, "T1", token)
	assert.Equal(t, strconv.FormatInt(testNow.Unix()+3600, 10), expiry)
	assert.Equal(t, "R1", refresh)

	_, hasOTP := store.Get(key(session.FieldOTP))
	assert.False(t, hasOTP, "nonce is consumed")

	calls := f.tokenCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "authorization_code", calls[0].Get("grant_type"))
	assert.Equal(t, "C1", calls[0].Get("code"))
	assert.Equal(t, testKey, calls[0].Get("client_id"))
	assert.Equal(t, testSecret, calls[0].Get("client_secret"))
	assert.Equal(t, "BASIC_PROFILE_ROLE,EMAIL_PROFILE_ROLE", calls[0].Get("scope"))
	assert.Equal(t, "http://site.example/page?foo=bar&nkconnect_state=callback", calls[0].Get("redirect_uri"))

	user, err := c.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "person.1", user.ID)
}

func TestHandleCallback_ReplayFails(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow
	rawURL := testPage + "&nkconnect_state=callback&state=abc&code=C1"

	first := newTestConnect(t, f, newTestRequest(t, rawURL, store, &now))
	require.True(t, first.HandleCallback(context.Background()))

	second := newTestConnect(t, f, newTestRequest(t, rawURL, store, &now))
	assert.False(t, second.HandleCallback(context.Background()))
	assert.Contains(t, second.Errors(), ErrCodeInvalidOTP)
	assert.Len(t, f.tokenCalls(), 1, "replayed code is never exchanged")
}

func TestHandleCallback_OTPMismatch(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=callback&state=xyz&code=C1", store, &now))

	assert.False(t, c.HandleCallback(context.Background()))
	assert.Equal(t, []string{ErrCodeInvalidOTP}, c.Err().(*ProtocolError).Codes())
	assert.Empty(t, f.tokenCalls())

	_, hasToken := store.Get(key(session.FieldToken))
	assert.False(t, hasToken)
	_, hasOTP := store.Get(key(session.FieldOTP))
	assert.False(t, hasOTP, "mismatched nonce is consumed too")
}

func TestHandleCallback_NoStoredOTP(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=callback&state=&code=C1", store, &now))

	assert.False(t, c.HandleCallback(context.Background()))
	assert.Contains(t, c.Errors(), ErrCodeInvalidOTP)
	assert.Equal(t, 0, store.Len(), "no nonce is minted on the callback path")
}

func TestHandleCallback_ProviderError(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	rawURL := testPage + "&nkconnect_state=callback&state=abc&error=access_denied&error_description=User+denied"
	c := newTestConnect(t, f, newTestRequest(t, rawURL, store, &now))

	assert.False(t, c.HandleCallback(context.Background()))
	assert.Equal(t, map[string]string{"access_denied": "User denied"}, c.Errors())
	assert.EqualError(t, c.Err(), "User denied")
	assert.Empty(t, f.tokenCalls())
}

func TestHandleCallback_ProviderErrorWithoutDescription(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=callback&state=abc&error=server_error", store, &now))

	assert.False(t, c.HandleCallback(context.Background()))
	assert.Equal(t, map[string]string{"server_error": "server_error"}, c.Errors())
}

func TestHandleCallback_CodeMissing(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=callback&state=abc", store, &now))

	assert.False(t, c.HandleCallback(context.Background()))
	assert.Contains(t, c.Errors(), ErrCodeCodeMissing)
	assert.Empty(t, f.tokenCalls())
}

func TestHandleCallback_TokenEndpointFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    string
		desc    string
	}{
		{
			name:    "provider error",
			handler: tokenStatus(http.StatusBadRequest, "application/json", `{"error":"invalid_grant","error_description":"Code expired"}`),
			code:    "invalid_grant",
			desc:    "Code expired",
		},
		{
			name:    "provider error on 200",
			handler: tokenJSON(`{"error":"invalid_client"}`),
			code:    "invalid_client",
			desc:    "invalid_client",
		},
		{
			name:    "server error page",
			handler: tokenStatus(http.StatusInternalServerError, "text/html", "<html>oops</html>"),
			code:    ErrCodeHTTP,
		},
		{
			name:    "undecodable body",
			handler: tokenStatus(http.StatusOK, "text/html", "<html>not json</html>"),
			code:    ErrCodeDecode,
		},
		{
			name:    "missing access token",
			handler: tokenJSON(`{"expires_in":3600}`),
			code:    ErrCodeAuth,
		},
		{
			name:    "missing expiry",
			handler: tokenJSON(`{"access_token":"T1"}`),
			code:    ErrCodeAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeNK(t)
			f.setTokenHandler(tt.handler)

			store := session.NewMemoryStore()
			store.Set(key(session.FieldOTP), "abc")
			seedToken(store, "OLD", testNow.Add(-time.Hour), "")
			now := testNow

			c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=callback&state=abc&code=C1", store, &now))

			assert.False(t, c.HandleCallback(context.Background()))
			require.Contains(t, c.Errors(), tt.code)
			if tt.desc != "" {
				assert.Equal(t, tt.desc, c.Errors()[tt.code])
			}
			assert.Equal(t, 0, store.Len(), "failed exchange clears token state")
		})
	}
}

func TestHandleCallback_Unreachable(t *testing.T) {
	f := newFakeNK(t)
	cfg := f.config()
	f.server.Close()

	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	c, err := New(cfg, newTestRequest(t, testPage+"&nkconnect_state=callback&state=abc&code=C1", store, &now))
	require.NoError(t, err)

	assert.False(t, c.HandleCallback(context.Background()))
	assert.Contains(t, c.Errors(), ErrCodeHTTP)
}

func TestHandleCallback_NoMarkerIsNoop(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(-time.Hour), "R1")
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	for i := 0; i < 3; i++ {
		c := newTestConnect(t, f, newTestRequest(t, testPage+"&code=C1&state=abc", store, &now))
		assert.False(t, c.HandleCallback(context.Background()))
		assert.NoError(t, c.Err())
	}

	assert.Equal(t, 4, store.Len())
	otp, _ := store.Get(key(session.FieldOTP))
	assert.Equal(t, "abc", otp)
	assert.Empty(t, f.tokenCalls(), "expired token is not refreshed without a marker")
}

func TestHandleCallback_Logout(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(time.Hour), "R1")
	store.Set(key(session.FieldOTP), "abc")
	store.Set("unrelated", "kept")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=logout", store, &now))

	assert.True(t, c.HandleCallback(context.Background()))
	for _, k := range session.NewKeys(testKey).All() {
		_, ok := store.Get(k)
		assert.False(t, ok, "key %s should be cleared", k)
	}
	v, _ := store.Get("unrelated")
	assert.Equal(t, "kept", v)
	assert.False(t, c.TokenAvailable(context.Background()))
}

func TestTokenAvailable_ExpiryBoundary(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow, "")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage, store, &now))
	ctx := context.Background()

	assert.True(t, c.TokenAvailable(ctx), "expiry == now is still valid")
	assert.Equal(t, "T1", c.Token(ctx))

	now = testNow.Add(time.Second)
	assert.False(t, c.TokenAvailable(ctx), "expiry < now is expired")
	assert.Equal(t, "", c.Token(ctx))
	assert.Empty(t, f.tokenCalls(), "no refresh without a refresh token")
}

func TestTokenAvailable_RefreshAhead(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(30*time.Second), "")
	now := testNow

	cfg := f.config()
	cfg.RefreshAhead = time.Minute
	c, err := New(cfg, newTestRequest(t, testPage, store, &now), WithHTTPClient(f.server.Client()))
	require.NoError(t, err)

	assert.False(t, c.TokenAvailable(context.Background()))
}

func TestTokenAvailable_Refresh(t *testing.T) {
	f := newFakeNK(t)
	f.setTokenHandler(tokenJSON(`{"access_token":"T2","expires_in":600,"refresh_token":"R2"}`))

	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(-time.Minute), "R1")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage, store, &now))

	assert.True(t, c.TokenAvailable(context.Background()))

	calls := f.tokenCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "refresh_token", calls[0].Get("grant_type"))
	assert.Equal(t, "R1", calls[0].Get("refresh_token"))
	assert.Empty(t, calls[0].Get("scope"))

	token, _ := store.Get(key(session.FieldToken))
	expiry, _ := store.Get(key(session.FieldExpiry))
	refresh, _ := store.Get(key(session.FieldRefresh))
	assert.Equal(t, "T2", token)
	assert.Equal(t, strconv.FormatInt(testNow.Unix()+600, 10), expiry)
	assert.Equal(t, "R2", refresh)
}

func TestTokenAvailable_RefreshKeepsRefreshToken(t *testing.T) {
	f := newFakeNK(t)
	f.setTokenHandler(tokenJSON(`{"access_token":"T2","expires_in":600}`))

	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(-time.Minute), "R1")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage, store, &now))
	require.True(t, c.TokenAvailable(context.Background()))

	refresh, _ := store.Get(key(session.FieldRefresh))
	assert.Equal(t, "R1", refresh)
}

func TestTokenAvailable_RefreshFailure(t *testing.T) {
	f := newFakeNK(t)
	f.setTokenHandler(tokenStatus(http.StatusBadRequest, "application/json", `{"error":"invalid_grant"}`))

	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(-time.Minute), "R1")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage, store, &now))

	assert.False(t, c.TokenAvailable(context.Background()))
	assert.Equal(t, 0, store.Len(), "failed refresh clears token state")
	assert.Contains(t, c.Errors(), "invalid_grant")
	assert.Len(t, f.tokenCalls(), 1)
}

func TestTokenAvailable_RefreshOnlyOnce(t *testing.T) {
	f := newFakeNK(t)
	// The provider hands out a token that is already expired
	f.setTokenHandler(tokenJSON(`{"access_token":"T2","expires_in":60,"refresh_token":"R2"}`))

	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(-time.Minute), "R1")
	now := testNow

	cfg := f.config()
	cfg.RefreshAhead = 2 * time.Minute
	c, err := New(cfg, newTestRequest(t, testPage, store, &now), WithHTTPClient(f.server.Client()))
	require.NoError(t, err)

	assert.False(t, c.TokenAvailable(context.Background()))
	assert.Len(t, f.tokenCalls(), 1)
}

func TestAuthenticated(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	now := testNow
	ctx := context.Background()

	c := newTestConnect(t, f, newTestRequest(t, testPage, store, &now))
	assert.False(t, c.Authenticated(ctx))

	_, err := c.User(ctx)
	assert.ErrorIs(t, err, nk.ErrUnauthorized)
	_, err = c.Service(ctx)
	assert.ErrorIs(t, err, nk.ErrUnauthorized)

	seedToken(store, "T1", testNow.Add(time.Hour), "")
	assert.True(t, c.Authenticated(ctx))

	// A token the API rejects does not count as authenticated
	f.setMeStatus(http.StatusUnauthorized)
	c2 := newTestConnect(t, f, newTestRequest(t, testPage, store, &now))
	assert.False(t, c2.Authenticated(ctx))
}

func TestErr_JoinsDescriptions(t *testing.T) {
	f := newFakeNK(t)
	now := testNow
	c := newTestConnect(t, f, newTestRequest(t, testPage, session.NewMemoryStore(), &now))

	assert.NoError(t, c.Err())

	c.record(ErrCodeInvalidOTP, "first")
	c.record(ErrCodeCodeMissing, "second")
	c.record(ErrCodeInvalidOTP, "replaced")

	var perr *ProtocolError
	require.True(t, errors.As(c.Err(), &perr))
	assert.Equal(t, "replaced, second", perr.Error())
	assert.Equal(t, []string{ErrCodeInvalidOTP, ErrCodeCodeMissing}, perr.Codes())
}

func TestHandleCallback_ExpiresInEncodings(t *testing.T) {
	form := func(body string) http.HandlerFunc {
		return tokenStatus(http.StatusOK, "application/x-www-form-urlencoded", body)
	}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int64
	}{
		{"json number", tokenJSON(`{"access_token":"T1","expires_in":3600}`), 3600},
		{"json string", tokenJSON(`{"access_token":"T1","expires_in":"1800"}`), 1800},
		{"form encoded", form("access_token=T1&expires_in=900"), 900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeNK(t)
			f.setTokenHandler(tt.handler)

			store := session.NewMemoryStore()
			store.Set(key(session.FieldOTP), "abc")
			now := testNow

			c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=callback&state=abc&code=C1", store, &now))
			require.True(t, c.HandleCallback(context.Background()), "errors: %v", c.Errors())

			expiry, _ := store.Get(key(session.FieldExpiry))
			assert.Equal(t, strconv.FormatInt(testNow.Unix()+tt.want, 10), expiry)
		})
	}
}

func TestHandleCallback_NonPositiveExpiresIn(t *testing.T) {
	f := newFakeNK(t)
	f.setTokenHandler(tokenJSON(`{"access_token":"T1","expires_in":0}`))

	store := session.NewMemoryStore()
	store.Set(key(session.FieldOTP), "abc")
	now := testNow

	c := newTestConnect(t, f, newTestRequest(t, testPage+"&nkconnect_state=callback&state=abc&code=C1", store, &now))

	assert.False(t, c.HandleCallback(context.Background()))
	assert.Contains(t, c.Errors(), ErrCodeAuth)
	assert.Equal(t, 0, store.Len())
}

func TestService_AppliesServiceOptions(t *testing.T) {
	f := newFakeNK(t)
	store := session.NewMemoryStore()
	seedToken(store, "T1", testNow.Add(time.Hour), "")
	now := testNow

	signer := &oauth1.Signer{
		ConsumerKey:    testKey,
		ConsumerSecret: testSecret,
		Now:            func() time.Time { return testNow },
		Nonce:          func() string { return "fixed-nonce" },
	}
	c, err := New(f.config(), newTestRequest(t, testPage, store, &now),
		WithHTTPClient(f.server.Client()),
		WithServiceOptions(nkservice.WithSigner(signer)))
	require.NoError(t, err)

	_, err = c.User(context.Background())
	require.NoError(t, err)

	auth := f.lastMeAuthorization()
	assert.Contains(t, auth, `oauth_nonce="fixed-nonce"`)
	assert.Contains(t, auth, `oauth_timestamp="1700000000"`)
}
