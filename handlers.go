package votes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/jhchabran/tabloid-votes/authentication"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 10

// HandleOAuthStart handles requests starting the OAauth authentication process.
func (s *Server) HandleOAuthStart() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.authService.Start(res, req)
	}
}

// HandleOAuthCallback handles requests of the OAuth provider redirecting the
// user back, after successfully authenticating them on its side.
func (s *Server) HandleOAuthCallback() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.authService.Callback(res, req, func(u *authentication.User) error {
			s.Logger.Info().Str("login", u.Login).Msg("user logged in")
			return nil
		})
	}
}

// HandleOAuthDestroy handles requests destroying the current session.
func (s *Server) HandleOAuthDestroy() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.authService.Destroy(res, req)
	}
}

type voteBody struct {
	Vote           *int  `json:"vote"`
	RevokeOnRevote *bool `json:"revoke_on_revote"`
}

func parseID(params httprouter.Params) (int64, error) {
	id, err := strconv.ParseInt(params.ByName("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrInvalidArgument, params.ByName("id"))
	}
	return id, nil
}

// HandleVoteAction handles requests to vote on an item of type t. The body is
// a JSON object holding the requested vote, -1, 0 or 1, and optionally
// whether repeating a vote revokes it, which is the default.
func (s *Server) HandleVoteAction(t ItemType) httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		logger := zerolog.Ctx(req.Context())

		id, err := parseID(params)
		if err != nil {
			respondError(res, req, BadRequest(err))
			return
		}

		var body voteBody
		dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			respondError(res, req, BadRequest(fmt.Errorf("%w: malformed body", ErrInvalidArgument)))
			return
		}
		if body.Vote == nil {
			respondError(res, req, BadRequest(fmt.Errorf("%w: missing vote", ErrInvalidArgument)))
			return
		}

		session := ctxSession(req.Context())
		origin := OriginHash(s.config.OriginSalt, clientAddr(req, s.config.TrustProxy))

		vr := NewVoteRequest(t, id, session.Login, *body.Vote, origin)
		if body.RevokeOnRevote != nil {
			vr.RevokeOnRevote = *body.RevokeOnRevote
		}

		out, err := s.ledger.Vote(req.Context(), vr)
		if err != nil {
			if !errors.Is(err, ErrInvalidArgument) && !errors.Is(err, ErrNotFound) {
				logger.Error().Err(err).Str("key", t.Key(id)).Msg("Failed to vote")
			}
			respondError(res, req, err)
			return
		}

		writeJSON(res, logger, http.StatusOK, out)
	}
}

type userVotesResponse struct {
	SubmissionID int64         `json:"submission_id"`
	Votes        []*VoteRecord `json:"votes"`
}

// HandleUserVotes handles requests listing the votes of the current user on a
// submission and its comments.
func (s *Server) HandleUserVotes() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		logger := zerolog.Ctx(req.Context())

		id, err := parseID(params)
		if err != nil {
			respondError(res, req, BadRequest(err))
			return
		}

		records, err := s.ledger.UserVotes(req.Context(), id, ctxSession(req.Context()).Login)
		if err != nil {
			logger.Error().Err(err).Int64("submission", id).Msg("Failed to list votes")
			respondError(res, req, err)
			return
		}

		writeJSON(res, logger, http.StatusOK, userVotesResponse{SubmissionID: id, Votes: records})
	}
}

func writeJSON(res http.ResponseWriter, logger *zerolog.Logger, status int, v interface{}) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	if err := json.NewEncoder(res).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}
