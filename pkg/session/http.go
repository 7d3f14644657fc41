package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

// HTTPSession adapts a gorilla session to Store.
// Values are kept as strings; anything else stored under the same key by
// other code reads as absent.
type HTTPSession struct {
	session *sessions.Session
}

// Open loads the named session for r, creating an empty one when the cookie
// is missing or cannot be decoded.
func Open(r *http.Request, store sessions.Store, name string) (*HTTPSession, error) {
	sess, err := store.Get(r, name)
	// gorilla still returns a fresh session alongside decode errors; a
	// session that exists but cannot be read is a failure
	if err != nil && (sess == nil || errors.Is(err, ErrSessionUnavailable)) {
		return nil, fmt.Errorf("failed to open session %q: %w", name, err)
	}
	return &HTTPSession{session: sess}, nil
}

func (s *HTTPSession) Get(key string) (string, bool) {
	v, ok := s.session.Values[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

func (s *HTTPSession) Set(key, value string) {
	s.session.Values[key] = value
}

func (s *HTTPSession) Unset(key string) {
	delete(s.session.Values, key)
}

// Save persists the session. Call it before writing the response body.
func (s *HTTPSession) Save(r *http.Request, w http.ResponseWriter) error {
	if err := s.session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Session exposes the underlying gorilla session
func (s *HTTPSession) Session() *sessions.Session {
	return s.session
}

var _ Store = (*HTTPSession)(nil)
