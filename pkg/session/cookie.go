package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	// MinSecretLength is the minimum cookie signing secret length in bytes
	MinSecretLength = 32

	// DefaultName is the cookie name used by the demo server
	DefaultName = "nkconnect_session"

	// DefaultMaxAge bounds how long the browser keeps the session cookie
	DefaultMaxAge = 7 * 24 * time.Hour
)

// ErrWeakSecret is returned when the signing secret is too short
var ErrWeakSecret = errors.New("session secret is too short")

// NewCookieStore creates a gorilla cookie store holding the whole session client-side
func NewCookieStore(secret []byte) (*sessions.CookieStore, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: must be at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	store := sessions.NewCookieStore(secret)
	store.Options = defaultOptions()
	return store, nil
}

func defaultOptions() *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   int(DefaultMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
