package github_auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/go-github/github"
	"github.com/gorilla/sessions"
	"github.com/jhchabran/tabloid-votes/authentication"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	sessionKey = "votes-session"
)

func init() {
	// be able to serialize session data in a cookie
	gob.Register(&oauth2.Token{})
}

type Handler struct {
	sessionStore *sessions.CookieStore
	logger       zerolog.Logger
	oauthConfig  *oauth2.Config
}

func New(serverSecret string, clientID string, clientSecret string, logger zerolog.Logger) *Handler {
	sessionStore := sessions.NewCookieStore([]byte(serverSecret))
	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		RedirectURL: "",
		Scopes:      []string{"email"},
	}
	return &Handler{
		sessionStore: sessionStore,
		oauthConfig:  oauthConfig,
		logger:       logger.With().Str("component", "github_auth").Logger(),
	}
}

// LoadUserData fetches the Github profile of the token owner and stores it
// in the session.
func (h *Handler) LoadUserData(accessToken *oauth2.Token, req *http.Request, res http.ResponseWriter) (*authentication.User, error) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		return nil, err
	}

	if accessToken == nil {
		return nil, fmt.Errorf("inconsistent state: no access token")
	}

	client := github.NewClient(h.oauthConfig.Client(req.Context(), accessToken))
	user, _, err := client.Users.Get(req.Context(), "")
	if err != nil {
		return nil, err
	}

	userSession := &authentication.User{
		Login:     user.GetLogin(),
		AvatarURL: user.GetAvatarURL(),
		Email:     user.GetEmail(),
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
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(res, "cannot generate state", http.StatusInternalServerError)
		return
	}

	state := base64.URLEncoding.EncodeToString(b)

	session, _ := h.sessionStore.Get(req, sessionKey)
	session.Values["state"] = state
	if err := session.Save(req, res); err != nil {
		h.logger.Error().Err(err).Msg("could not save session")
		http.Error(res, "could not save session", http.StatusInternalServerError)
		return
	}

	url := h.oauthConfig.AuthCodeURL(state)
	http.Redirect(res, req, url, http.StatusFound)
}

func (h *Handler) Callback(res http.ResponseWriter, req *http.Request, beforeWriteCallback func(*authentication.User) error) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		http.Error(res, "Session aborted", http.StatusInternalServerError)
		return
	}

	if req.URL.Query().Get("state") != session.Values["state"] {
		http.Error(res, "no state match; possible csrf OR cookies not enabled", http.StatusInternalServerError)
		return
	}

	token, err := h.oauthConfig.Exchange(req.Context(), req.URL.Query().Get("code"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("token exchange failed")
		http.Error(res, "there was an issue getting your token", http.StatusInternalServerError)
		return
	}

	if !token.Valid() {
		http.Error(res, "retrieved invalid token", http.StatusBadRequest)
		return
	}

	u, err := h.LoadUserData(token, req, res)
	if err != nil {
		h.logger.Error().Err(err).Msg("couldn't load user data from Github")
		http.Error(res, "couldn't load user data from Github", http.StatusInternalServerError)
		return
	}

	if err := beforeWriteCallback(u); err != nil {
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

	// kill the session
	session.Options.MaxAge = -1
	session.Values["user"] = nil
	if err := session.Save(req, res); err != nil {
		h.logger.Warn().Err(err).Msg("failed to destroy session")
	}

	http.Redirect(res, req, "/", http.StatusFound)
}
