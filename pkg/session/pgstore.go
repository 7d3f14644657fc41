package session

import (
	"context"
	"database/sql"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

var (
	// ErrSessionNotFound is returned when no live row exists for a session ID
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionUnavailable is returned when a stored session could not be read
	ErrSessionUnavailable = errors.New("session unavailable")
)

// PGStore is a gorilla sessions.Store keeping values in PostgreSQL.
// The cookie only carries the signed session ID.
type PGStore struct {
	db      *sql.DB
	Codecs  []securecookie.Codec
	Options *sessions.Options
	serial  securecookie.Serializer
}

// NewPGStore creates a Postgres-backed store. keyPairs are passed to
// securecookie.CodecsFromPairs (hash key, optional block key, ...).
func NewPGStore(db *sql.DB, keyPairs ...[]byte) *PGStore {
	s := &PGStore{
		db:      db,
		Codecs:  securecookie.CodecsFromPairs(keyPairs...),
		Options: defaultOptions(),
		serial:  securecookie.GobEncoder{},
	}
	s.MaxAge(s.Options.MaxAge)
	return s
}

// MaxAge sets the cookie and codec lifetime in seconds
func (s *PGStore) MaxAge(age int) {
	s.Options.MaxAge = age
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

// Get returns the session cached in the request registry, loading it on first use
func (s *PGStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns the session named by the request cookie, or a new one
func (s *PGStore) New(r *http.Request, name string) (*sessions.Session, error) {
	sess := sessions.NewSession(s, name)
	opts := *s.Options
	sess.Options = &opts
	sess.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return sess, nil
	}

	if err := securecookie.DecodeMulti(name, c.Value, &sess.ID, s.Codecs...); err != nil {
		return sess, fmt.Errorf("failed to decode session cookie: %w", err)
	}

	err = s.load(r.Context(), sess)
	if errors.Is(err, ErrSessionNotFound) {
		// Stale or purged row, start over with a fresh ID
		sess.ID = ""
		return sess, nil
	}
	if err != nil {
		// an ID-less session never overwrites the row it failed to read
		sess.ID = ""
		return sess, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	sess.IsNew = false
	return sess, nil
}

// Save writes the session row and refreshes the cookie.
// A negative MaxAge deletes both.
func (s *PGStore) Save(r *http.Request, w http.ResponseWriter, sess *sessions.Session) error {
	if sess.Options.MaxAge < 0 {
		if sess.ID != "" {
			if err := s.delete(r.Context(), sess.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(sess.Name(), "", sess.Options))
		return nil
	}

	if sess.ID == "" {
		sess.ID = strings.TrimRight(
			base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
	}

	if err := s.save(r.Context(), sess); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(sess.Name(), sess.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}

	http.SetCookie(w, sessions.NewCookie(sess.Name(), encoded, sess.Options))
	return nil
}

// DeleteExpired removes rows past their expiry and returns how many were removed
func (s *PGStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nkconnect_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if count > 0 {
		slog.Info("cleaned up expired sessions", "count", count)
	}
	return count, nil
}

func (s *PGStore) load(ctx context.Context, sess *sessions.Session) error {
	query := `
		SELECT data
		FROM nkconnect_sessions
		WHERE id = $1 AND expires_at > NOW()
	`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, sess.ID).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	if err := s.serial.Deserialize(data, &sess.Values); err != nil {
		return fmt.Errorf("failed to decode session values: %w", err)
	}
	return nil
}

func (s *PGStore) save(ctx context.Context, sess *sessions.Session) error {
	data, err := s.serial.Serialize(sess.Values)
	if err != nil {
		return fmt.Errorf("failed to encode session values: %w", err)
	}

	expiresAt := time.Now().Add(rowTTL(sess.Options.MaxAge))

	query := `
		INSERT INTO nkconnect_sessions (id, data, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, sess.ID, data, expiresAt); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// rowTTL is how long a row outlives its last save. A browser-session
// cookie (MaxAge 0) still needs a server-side lifetime.
func rowTTL(maxAge int) time.Duration {
	if maxAge <= 0 {
		return DefaultMaxAge
	}
	return time.Duration(maxAge) * time.Second
}

func (s *PGStore) delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nkconnect_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

var _ sessions.Store = (*PGStore)(nil)
