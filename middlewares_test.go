package votes

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/jhchabran/tabloid-votes/authentication"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// stubAuth authenticates requests carrying an X-Login header.
type stubAuth struct {
	err error
}

func (a *stubAuth) Start(res http.ResponseWriter, req *http.Request) {}
func (a *stubAuth) Callback(res http.ResponseWriter, req *http.Request, cb func(*authentication.User) error) {
}
func (a *stubAuth) Destroy(res http.ResponseWriter, req *http.Request) {}

func (a *stubAuth) CurrentUser(req *http.Request) (*authentication.User, error) {
	if a.err != nil {
		return nil, a.err
	}
	login := req.Header.Get("X-Login")
	if login == "" {
		return nil, nil
	}
	return &authentication.User{Login: login}, nil
}

func (a *stubAuth) LoadUserData(token *oauth2.Token, req *http.Request, res http.ResponseWriter) (*authentication.User, error) {
	return nil, nil
}

func TestWithMiddlewares(t *testing.T) {
	c := qt.New(t)

	handler := func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {}

	c.Run("calls middlewares", func(c *qt.C) {
		s1 := false
		m1 := func(h httprouter.Handle) httprouter.Handle { s1 = true; return h }

		withMiddlewares(func(m middleware) { m(handler) }, m1)
		c.Assert(s1, qt.IsTrue)
	})

	c.Run("passing m1, m2, m3 run them in that order", func(c *qt.C) {
		trace := []int{}
		tracer := func(n int) middleware {
			return func(h httprouter.Handle) httprouter.Handle {
				return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
					trace = append(trace, n)
					h(w, r, p)
				}
			}
		}

		var h httprouter.Handle
		withMiddlewares(func(m middleware) { h = m(handler) },
			tracer(1),
			tracer(2),
			tracer(3))

		h(httptest.NewRecorder(), &http.Request{}, httprouter.Params{})

		c.Assert(trace, qt.DeepEquals, []int{1, 2, 3})
	})
}

func TestSessionMiddlewares(t *testing.T) {
	c := qt.New(t)

	run := func(auth *stubAuth, req *http.Request) (*httptest.ResponseRecorder, *authentication.User, bool) {
		s := &Server{Logger: zerolog.Nop(), authService: auth}
		var seen *authentication.User
		called := false
		h := s.loadSessionMiddleware()(s.requireUserMiddleware()(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
			called = true
			seen = ctxSession(r.Context())
		}))

		rec := httptest.NewRecorder()
		h(rec, req, nil)
		return rec, seen, called
	}

	c.Run("authenticated", func(c *qt.C) {
		req := httptest.NewRequest(http.MethodPost, "/submissions/1/vote", nil)
		req.Header.Set("X-Login", "carol")

		_, user, called := run(&stubAuth{}, req)
		c.Assert(called, qt.IsTrue)
		c.Assert(user.Login, qt.Equals, "carol")
	})

	c.Run("no session", func(c *qt.C) {
		req := httptest.NewRequest(http.MethodPost, "/submissions/1/vote", nil)

		rec, _, called := run(&stubAuth{}, req)
		c.Assert(called, qt.IsFalse)
		c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
	})

	c.Run("session failure", func(c *qt.C) {
		req := httptest.NewRequest(http.MethodPost, "/submissions/1/vote", nil)
		req.Header.Set("X-Login", "carol")

		rec, _, called := run(&stubAuth{err: errors.New("bad cookie")}, req)
		c.Assert(called, qt.IsFalse)
		c.Assert(rec.Code, qt.Equals, http.StatusInternalServerError)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	c := qt.New(t)
	s := &Server{Logger: zerolog.Nop()}

	var seen string
	h := s.requestIDMiddleware()(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		seen = ctxRequestID(r.Context())
	})

	c.Run("generated", func(c *qt.C) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, "not-a-uuid")
		h(rec, req, nil)

		_, err := uuid.Parse(seen)
		c.Assert(err, qt.IsNil)
		c.Assert(seen, qt.Not(qt.Equals), "not-a-uuid")
		c.Assert(rec.Header().Get(requestIDHeader), qt.Equals, seen)
	})

	c.Run("propagated", func(c *qt.C) {
		id := uuid.NewString()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, id)
		h(rec, req, nil)

		c.Assert(seen, qt.Equals, id)
		c.Assert(rec.Header().Get(requestIDHeader), qt.Equals, id)
	})
}
