package web

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"nksdk/internal/api/handlers"
	"nksdk/internal/api/middleware"
	"nksdk/pkg/nk"
	"nksdk/pkg/nkconnect"
	"nksdk/pkg/nkservice"
)

// AlbumPageSize is how many albums the albums page lists
const AlbumPageSize = 20

// Handlers serves the demo pages. Every handler expects the login flow
// attached by middleware.ConnectMiddleware.
type Handlers struct {
	templates *Templates
}

// NewHandlers creates a new Handlers instance with the provided templates.
func NewHandlers(templates *Templates) *Handlers {
	return &Handlers{templates: templates}
}

// HomePageData holds data for the home page template.
type HomePageData struct {
	// User is nil when nobody is logged in
	User       *nkservice.User
	Button     template.HTML
	LogoutLink string
	// Errors are the login errors of this request, keyed by code
	Errors map[string]string
}

// AlbumsPageData holds data for the albums page template.
type AlbumsPageData struct {
	User   *nkservice.User
	Albums []*nkservice.PhotoAlbum
}

// HomeHandler handles GET / requests. It completes login and logout
// callbacks and shows either the login button or the user's profile.
func (h *Handlers) HomeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	connect := middleware.GetConnect(r)
	if connect == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if !connect.HandleCallback(ctx) {
		if err := connect.Err(); err != nil {
			slog.Warn("NK login failed", "codes", codes(err))
		}
	}

	data := HomePageData{Errors: connect.Errors()}
	if user, err := connect.User(ctx); err == nil {
		data.User = user
		data.LogoutLink = connect.LogoutLink()
	} else {
		data.Button = connect.Button()
	}

	// the button may have minted a nonce
	if err := middleware.SaveSession(w, r); err != nil {
		slog.Error("failed to save session", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if err := h.templates.Render(w, "home.html", data); err != nil {
		slog.Error("failed to render home page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// AlbumsHandler handles GET /albums and lists the user's photo albums.
func (h *Handlers) AlbumsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connect := middleware.GetConnect(r)

	user, svc, err := userService(r, connect)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	albums, err := svc.PhotoAlbums(ctx, user, AlbumPageSize, 0)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	saveSession(w, r)

	if err := h.templates.Render(w, "albums.html", AlbumsPageData{User: user, Albums: albums}); err != nil {
		slog.Error("failed to render albums page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// ActivityHandler handles POST /activity. Form fields: content, and
// only_friends to limit the audience.
func (h *Handlers) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	connect := middleware.GetConnect(r)
	if connect == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	svc, err := connect.Service(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	onlyFriends := r.PostForm.Get("only_friends") != ""
	if err := svc.PostActivity(r.Context(), r.PostForm.Get("content"), onlyFriends); err != nil {
		writeServiceError(w, r, err)
		return
	}

	saveSession(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// MeHandler handles GET /api/me and returns the logged-in user as JSON.
func (h *Handlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, _, err := userService(r, middleware.GetConnect(r))
	saveSession(w, r)
	if err != nil {
		status := statusFor(err)
		handlers.WriteError(w, status, handlers.ErrorType(status), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(user); err != nil {
		slog.Error("failed to encode user", "error", err)
	}
}

func userService(r *http.Request, connect *nkconnect.Connect) (*nkservice.User, *nkservice.Service, error) {
	if connect == nil {
		return nil, nil, nk.ErrUnauthorized
	}
	user, err := connect.User(r.Context())
	if err != nil {
		return nil, nil, err
	}
	svc, err := connect.Service(r.Context())
	if err != nil {
		return nil, nil, err
	}
	return user, svc, nil
}

// statusFor maps an API error to the status the demo answers with
func statusFor(err error) int {
	switch {
	case errors.Is(err, nk.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, nkservice.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, nkservice.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, nkservice.ErrServiceNotFound), errors.Is(err, nkservice.ErrMissingRecord):
		return http.StatusNotFound
	case errors.Is(err, nk.ErrConfiguration):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// saveSession persists token changes made while serving the request,
// including a refresh that happened before a failed API call
func saveSession(w http.ResponseWriter, r *http.Request) {
	if err := middleware.SaveSession(w, r); err != nil {
		slog.Error("failed to save session", "error", err)
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	saveSession(w, r)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("NK request failed", "error", err, "status", status)
	}
	http.Error(w, err.Error(), status)
}

func codes(err error) []string {
	var perr *nkconnect.ProtocolError
	if errors.As(err, &perr) {
		return perr.Codes()
	}
	return nil
}
