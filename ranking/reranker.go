package ranking

import (
	"context"
	"fmt"
	"time"

	votes "github.com/jhchabran/tabloid-votes"
)

const (
	DefaultGravity         = 1.8
	DefaultTimebaseInHours = 2
)

type RankStore interface {
	UpdateRank(ctx context.Context, submissionID int64, rank float64) error
}

// Reranker recomputes the rank of a submission from its counters and
// persists it.
type Reranker struct {
	store           RankStore
	gravity         float64
	timebaseInHours int64
	now             func() time.Time
}

var _ votes.ReRanker = (*Reranker)(nil)

func NewReranker(store RankStore, gravity float64, timebaseInHours int64) *Reranker {
	if gravity <= 0 {
		gravity = DefaultGravity
	}
	if timebaseInHours <= 0 {
		timebaseInHours = DefaultTimebaseInHours
	}
	return &Reranker{
		store:           store,
		gravity:         gravity,
		timebaseInHours: timebaseInHours,
		now:             func() time.Time { return votes.NowFunc() },
	}
}

func (r *Reranker) Recompute(ctx context.Context, item *votes.Item) error {
	if item.Type != votes.Submission {
		return fmt.Errorf("cannot rank %s", item.Key())
	}

	rank := Rank(item, r.gravity, r.timebaseInHours, r.now())
	if err := r.store.UpdateRank(ctx, item.ID, rank); err != nil {
		return fmt.Errorf("failed to persist rank of %s: %w", item.Key(), err)
	}

	item.Rank = rank
	return nil
}
