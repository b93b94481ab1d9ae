// Package fake_auth authenticates anyone who asks, as a new user each time.
// It stands in for a real provider in development and tests.
package fake_auth

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/sessions"
	"github.com/jhchabran/tabloid-votes/authentication"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const sessionKey = "fake_auth_key"

type Handler struct {
	sessionStore *sessions.CookieStore
	serverUrl    string
	logger       zerolog.Logger

	mu      sync.Mutex
	counter int // used to return a different user for each auth
}

func New(sessionStore *sessions.CookieStore, logger zerolog.Logger) *Handler {
	return &Handler{
		sessionStore: sessionStore,
		logger:       logger.With().Str("component", "fake_auth").Logger(),
	}
}

func (h *Handler) SetServerURL(url string) {
	h.serverUrl = url
}

func (h *Handler) nextLogin() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counter++
	return "fakeLogin" + strconv.Itoa(h.counter)
}

func (h *Handler) LoadUserData(accessToken *oauth2.Token, req *http.Request, res http.ResponseWriter) (*authentication.User, error) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		return nil, err
	}

	userSession := &authentication.User{
		Login:     h.nextLogin(),
		AvatarURL: "https://www.placecage.com/g/200/200",
	}
	b, err := json.Marshal(userSession)
	if err != nil {
		return nil, err
	}

	session.Values["user"] = b
	if err := session.Save(req, res); err != nil {
		return nil, err
	}

	return userSession, nil
}

func (h *Handler) CurrentUser(req *http.Request) (*authentication.User, error) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		return nil, err
	}

	b, ok := session.Values["user"].([]byte)
	if !ok {
		return nil, nil
	}

	var userSession authentication.User
	err = json.Unmarshal(b, &userSession)
	if err != nil {
		return nil, err
	}

	return &userSession, nil
}

func (h *Handler) Start(res http.ResponseWriter, req *http.Request) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read session")
		http.Error(res, "cannot read cookies", http.StatusInternalServerError)
		return
	}

	session.Values["state"] = "state"
	err = session.Save(req, res)
	if err != nil {
		http.Error(res, "cannot save cookies", http.StatusInternalServerError)
		return
	}

	http.Redirect(res, req, h.serverUrl+"/oauth/authorize", http.StatusFound)
}

func (h *Handler) Callback(res http.ResponseWriter, req *http.Request, beforeWriteCallback func(*authentication.User) error) {
	u, err := h.LoadUserData(nil, req, res)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load user data")
		http.Error(res, "couldn't load user data from fake auth", http.StatusInternalServerError)
		return
	}

	err = beforeWriteCallback(u)
	if err != nil {
		http.Error(res, "failed to execute oauth callback", http.StatusInternalServerError)
		return
	}

	http.Redirect(res, req, "/", http.StatusFound)
}

func (h *Handler) Destroy(res http.ResponseWriter, req *http.Request) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		http.Error(res, "aborted", http.StatusInternalServerError)
		return
	}
	session.Options.MaxAge = -1
	if err := session.Save(req, res); err != nil {
		h.logger.Warn().Err(err).Msg("failed to destroy session")
	}

	http.Redirect(res, req, "/", http.StatusFound)
}
