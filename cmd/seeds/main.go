package main

import (
	"context"
	"math/rand"
	"time"

	votes "github.com/jhchabran/tabloid-votes"
	"github.com/jhchabran/tabloid-votes/cmd"
	"github.com/jhchabran/tabloid-votes/pgstore"
	"github.com/jhchabran/tabloid-votes/ranking"
	"github.com/rs/zerolog/log"
)

var users = []string{"tintin", "milou", "haddock", "castafiore", "tournesol"}
var subverses = []string{"golang", "space", "cooking"}

const seededSubmissions = 30

func main() {
	cfg := cmd.DefaultConfig()
	err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read configuration")
	}
	logger := cmd.SetupLogger(cfg)
	logger.Info().Msg("Seeding database")

	ctx := context.Background()

	// setup database
	pg := pgstore.New(cfg.PostgresDSN(), logger)
	err = pg.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("Can't connect to database")
	}
	defer pg.Close()
	err = pg.Migrate()
	if err != nil {
		log.Fatal().Err(err).Msg("Can't migrate database")
	}

	// submissions are spread over the last hours, cycling through users
	now := votes.NowFunc()

	var submissions []*votes.Item
	for i := 0; i < seededSubmissions; i++ {
		item := &votes.Item{
			AuthorID:  users[i%len(users)],
			Subverse:  subverses[i%len(subverses)],
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		}
		err = pg.InsertSubmission(ctx, item)
		if err != nil {
			log.Fatal().Err(err).Msg("Can't create submission")
		}
		submissions = append(submissions, item)
	}

	// let's add some comments on the submissions
	var comments []*votes.Item
	for i, sub := range submissions {
		for j := 0; j < i%4; j++ {
			item := &votes.Item{
				SubmissionID: sub.ID,
				AuthorID:     users[(i+j+1)%len(users)],
				CreatedAt:    sub.CreatedAt.Add(time.Duration(j+1) * time.Minute),
			}
			err = pg.InsertComment(ctx, item)
			if err != nil {
				log.Fatal().Err(err).Msg("Can't create comment")
			}
			comments = append(comments, item)
		}
	}

	// votes go through the ledger, so counters and ranks stay consistent.
	// Policies are left out, seeds vote from a single origin.
	ledger := votes.NewLedger(pg, logger,
		votes.WithLedgerConfig(cfg.LedgerConfig()),
		votes.WithReRanker(ranking.NewReranker(pg, cfg.RankGravity, cfg.RankTimebaseHours)),
	)

	rnd := rand.New(rand.NewSource(42))
	items := append(submissions, comments...)
	stats := map[votes.Status]int{}
	for _, item := range items {
		for _, u := range users {
			vote := rnd.Intn(3) - 1
			if vote == 0 {
				continue
			}
			out, err := ledger.Vote(ctx, votes.NewVoteRequest(item.Type, item.ID, u, vote, ""))
			if err != nil {
				log.Fatal().Err(err).Str("key", item.Key()).Msg("Can't vote")
			}
			stats[out.Status]++
		}
	}

	logger.Info().
		Int("submissions", len(submissions)).
		Int("comments", len(comments)).
		Int("votes", stats[votes.StatusSuccessful]).
		Int("ignored", stats[votes.StatusIgnored]).
		Msg("Seeded database")
}
