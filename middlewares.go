package votes

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jhchabran/tabloid-votes/authentication"
	"github.com/julienschmidt/httprouter"
)

// middleware is a convenient type for declaring middlewares.
type middleware func(httprouter.Handle) httprouter.Handle

// contextKey is a type for storing values in each request context.
type contextKey string

// String returns a stringified context key.
func (k contextKey) String() string { return string(k) }

// ctxKeySession is the context key for storing the current user session in a context
var ctxKeySession = contextKey("session")

// ctxKeyRequestID is the context key for storing the request id in a context
var ctxKeyRequestID = contextKey("request_id")

const requestIDHeader = "X-Request-Id"

// ctxSession is a helper func to fetch the user session from the context.
func ctxSession(ctx context.Context) *authentication.User {
	v, _ := ctx.Value(ctxKeySession).(*authentication.User)
	return v
}

// ctxRequestID is a helper func to fetch the request id from the context.
func ctxRequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// withMiddlewares is a helper function to declare routes with middlewares more easily.
// The caller declares its routes in the body on the f function, calling f's argument on its
// httprouter.Handle to wrap them.
func withMiddlewares(f func(middleware), middlewares ...middleware) {
	wrapper := func(handle httprouter.Handle) httprouter.Handle {
		h := handle
		for i := len(middlewares) - 1; i >= 0; i-- {
			m := middlewares[i]
			h = m(h)
		}
		return h
	}

	f(wrapper)
}

// requestIDMiddleware tags the request with an id, reusing the one sent by the
// client if it is a valid uuid, and echoes it in the response.
func (s *Server) requestIDMiddleware() middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return httprouter.Handle(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
			id := r.Header.Get(requestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			logger := s.Logger.With().Str("request_id", id).Logger()
			ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
			ctx = logger.WithContext(ctx)
			next(w, r.WithContext(ctx), p)
		})
	}
}

// loadSessionMiddleware fetches the user session data through the AuthService
// and stores it in the request context. If there's no session it will assign nil in
// the context to thes session key.
func (s *Server) loadSessionMiddleware() middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return httprouter.Handle(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
			userData, err := s.authService.CurrentUser(r)
			if err != nil {
				s.Logger.Warn().Err(err).Str("request_id", ctxRequestID(r.Context())).Msg("Failed to fetch session data")
				http.Error(w, "Failed to fetch session data", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeySession, userData)
			next(w, r.WithContext(ctx), p)
		})
	}
}

// requireUserMiddleware interrupts the middleware chain when there is no
// session, the user id being the session login.
func (s *Server) requireUserMiddleware() middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return httprouter.Handle(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
			session := ctxSession(r.Context())
			if session == nil || session.Login == "" {
				s.Logger.Debug().Str("path", r.URL.Path).Msg("Attempt to vote with no session, halting middleware chain.")
				respondError(w, r, Unauthorized(r.URL.Path))
				return
			}

			next(w, r, p)
		})
	}
}
