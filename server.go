package votes

import (
	"context"
	"net/http"
	"time"

	"github.com/jhchabran/tabloid-votes/authentication"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type ServerConfig struct {
	Addr string
	// OriginSalt is mixed into origin hashes.
	OriginSalt string
	// TrustProxy makes the server read the client address from X-Forwarded-For.
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

type Server struct {
	Logger          zerolog.Logger
	config          ServerConfig
	store           Store
	ledger          *Ledger
	gatherer        prometheus.Gatherer
	router          *httprouter.Router
	done            chan struct{}
	idleConnsClosed chan struct{}
	authService     authentication.AuthService
}

func NewServer(config ServerConfig, logger zerolog.Logger, store Store, ledger *Ledger, authService authentication.AuthService, gatherer prometheus.Gatherer) *Server {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		config:          config,
		store:           store,
		ledger:          ledger,
		authService:     authService,
		gatherer:        gatherer,
		router:          httprouter.New(),
		Logger:          logger,
		done:            make(chan struct{}),
		idleConnsClosed: make(chan struct{}),
	}
}

func (s *Server) Prepare() error {
	// database
	err := s.store.Connect()
	if err != nil {
		return err
	}

	// routes
	s.router.GET("/oauth/start", s.HandleOAuthStart())
	s.router.GET("/oauth/authorize", s.HandleOAuthCallback())
	s.router.GET("/oauth/destroy", s.HandleOAuthDestroy())

	withMiddlewares(func(m middleware) {
		s.router.POST("/submissions/:id/vote", m(s.HandleVoteAction(Submission)))
		s.router.POST("/comments/:id/vote", m(s.HandleVoteAction(Comment)))
		s.router.GET("/submissions/:id/votes", m(s.HandleUserVotes()))
	}, s.requestIDMiddleware(), s.loadSessionMiddleware(), s.requireUserMiddleware())

	if s.gatherer != nil {
		s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return nil
}

func (s *Server) Start() error {
	httpServer := http.Server{Addr: s.config.Addr, Handler: s}

	go func() {
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.Logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	s.Logger.Info().Str("addr", s.config.Addr).Msg("listening")

	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}
	close(s.idleConnsClosed)

	return nil
}

func (s *Server) Stop() {
	close(s.done)
	<-s.idleConnsClosed
}

func (s *Server) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(res, req)
}
