package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/sessions"
	votes "github.com/jhchabran/tabloid-votes"
	"github.com/jhchabran/tabloid-votes/authentication"
	"github.com/jhchabran/tabloid-votes/authentication/fake_auth"
	"github.com/jhchabran/tabloid-votes/authentication/github_auth"
	"github.com/jhchabran/tabloid-votes/cmd"
	"github.com/jhchabran/tabloid-votes/keylock"
	"github.com/jhchabran/tabloid-votes/memstore"
	"github.com/jhchabran/tabloid-votes/pgstore"
	"github.com/jhchabran/tabloid-votes/ranking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// store is what the server needs from a backend, on top of votes.Store.
type store interface {
	votes.Store
	ranking.RankStore
}

func main() {
	cfg := cmd.DefaultConfig()
	err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read configuration")
	}
	logger := cmd.SetupLogger(cfg)

	// setup storage
	var st store
	switch cfg.Store {
	case "memory":
		logger.Warn().Msg("Using in-memory store, votes will not survive a restart")
		st = memstore.New()
	default:
		pg := pgstore.New(cfg.PostgresDSN(), logger)
		if err := pg.Connect(); err != nil {
			logger.Fatal().Err(err).Msg("Cannot connect to database")
		}
		if err := pg.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("Cannot migrate database")
		}
		defer pg.Close()
		st = pg
	}

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// ledger
	engine, err := cfg.PolicyEngine(st, logger.With().Str("component", "policy").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("Cannot build policy engine")
	}
	ledger := votes.NewLedger(st, logger,
		votes.WithLedgerConfig(cfg.LedgerConfig()),
		votes.WithLocks(keylock.New(cfg.LockShards)),
		votes.WithPolicyGate(engine),
		votes.WithReRanker(ranking.NewReranker(st, cfg.RankGravity, cfg.RankTimebaseHours)),
		votes.WithMetrics(votes.NewMetrics(reg)),
	)

	// setup authentication
	authService := newAuthService(cfg, logger)

	// fire the server
	s := votes.NewServer(votes.ServerConfig{
		Addr:       cfg.Addr,
		OriginSalt: cfg.OriginSalt,
		TrustProxy: cfg.TrustProxy,
	}, logger, st, ledger, authService, reg)
	err = s.Prepare()
	if err != nil {
		logger.Fatal().Err(err).Msg("Cannot prepare server")
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info().Msg("Shutting down")
		s.Stop()
	}()

	err = s.Start()
	if err != nil {
		logger.Fatal().Err(err).Msg("Cannot start server")
	}
}

func newAuthService(cfg *cmd.Config, logger zerolog.Logger) authentication.AuthService {
	if cfg.AuthProvider == "fake" {
		logger.Warn().Msg("Using fake authentication, anyone can log in")
		return fake_auth.New(sessions.NewCookieStore([]byte(cfg.ServerSecret)), logger)
	}
	return github_auth.New(cfg.ServerSecret, cfg.GithubClientID, cfg.GithubClientSecret, logger)
}
