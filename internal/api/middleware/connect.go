package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"

	"nksdk/internal/api/handlers"
	"nksdk/pkg/nk"
	"nksdk/pkg/nkconnect"
	"nksdk/pkg/session"
)

type contextKey string

const (
	ConnectKey contextKey = "nk_connect"
	SessionKey contextKey = "nk_session"
)

// ConnectMiddleware opens the visitor's session and attaches a login flow
// for the current request to the context.
type ConnectMiddleware struct {
	config      nk.Config
	store       sessions.Store
	sessionName string
	opts        []nkconnect.Option
}

// NewConnectMiddleware creates the middleware. opts are passed to every
// nkconnect.Connect it creates.
func NewConnectMiddleware(cfg nk.Config, store sessions.Store, sessionName string, opts ...nkconnect.Option) *ConnectMiddleware {
	return &ConnectMiddleware{
		config:      cfg,
		store:       store,
		sessionName: sessionName,
		opts:        opts,
	}
}

// Attach loads the session and login flow; it never rejects a request
func (m *ConnectMiddleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := session.Open(r, m.store, m.sessionName)
		if err != nil {
			slog.Error("failed to open session", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		req, err := nkconnect.NewRequest(r, sess)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		connect, err := nkconnect.New(m.config, req, m.opts...)
		if err != nil {
			slog.Error("NK login is misconfigured", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, sess)
		ctx = context.WithValue(ctx, ConnectKey, connect)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth answers 401 when the visitor has no usable token.
// It must run after Attach.
func (m *ConnectMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connect := GetConnect(r)
		if connect == nil || !connect.TokenAvailable(r.Context()) {
			// A failed refresh clears the session; persist that before answering
			if err := SaveSession(w, r); err != nil {
				slog.Error("failed to save session", "error", err)
			}
			writeAuthError(w, "Log in with NK first")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetConnect returns the request's login flow, or nil outside Attach
func GetConnect(r *http.Request) *nkconnect.Connect {
	c, _ := r.Context().Value(ConnectKey).(*nkconnect.Connect)
	return c
}

// SaveSession persists the request's session. Call it before writing the body.
func SaveSession(w http.ResponseWriter, r *http.Request) error {
	sess, ok := r.Context().Value(SessionKey).(*session.HTTPSession)
	if !ok {
		return nil
	}
	return sess.Save(r, w)
}

// writeAuthError writes a JSON error response for authentication failures
func writeAuthError(w http.ResponseWriter, message string) {
	handlers.WriteError(w, http.StatusUnauthorized, handlers.ErrorType(http.StatusUnauthorized), message)
}
