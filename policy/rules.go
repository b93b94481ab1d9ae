package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	votes "github.com/jhchabran/tabloid-votes"
	"golang.org/x/time/rate"
)

// VoteQuerier is the read side of the store the rules need.
type VoteQuerier interface {
	VoteCount(ctx context.Context, q votes.VoteCountQuery) (int, error)
	HasOriginVoted(ctx context.Context, itemType votes.ItemType, itemID int64, originHash string) (bool, error)
}

// All rules below only police new votes. Changing or removing an existing
// vote is always allowed.

// OriginRule denies a vote when another vote on the same item came from the
// same network origin.
type OriginRule struct {
	Store VoteQuerier
}

func (r *OriginRule) Name() string { return "origin" }

func (r *OriginRule) Check(ctx context.Context, pc votes.PolicyContext) (votes.PolicyDecision, error) {
	if !pc.IsNewVote() || pc.OriginHash == "" {
		return votes.Allow(), nil
	}

	voted, err := r.Store.HasOriginVoted(ctx, pc.ItemType, pc.ItemID, pc.OriginHash)
	if err != nil {
		return votes.PolicyDecision{}, err
	}
	if voted {
		return votes.Deny("a vote was already cast on this item from your network"), nil
	}
	return votes.Allow(), nil
}

// QuotaRule denies a vote when the voter already cast Max votes on content
// of the same author within Window.
type QuotaRule struct {
	Store  VoteQuerier
	Max    int
	Window time.Duration
	// Types restricts the rule, all item types when empty.
	Types []votes.ItemType
	// Now defaults to votes.NowFunc.
	Now func() time.Time
}

func (r *QuotaRule) Name() string { return "quota" }

func (r *QuotaRule) Check(ctx context.Context, pc votes.PolicyContext) (votes.PolicyDecision, error) {
	if !pc.IsNewVote() || r.Max <= 0 {
		return votes.Allow(), nil
	}

	now := votes.NowFunc
	if r.Now != nil {
		now = r.Now
	}

	n, err := r.Store.VoteCount(ctx, votes.VoteCountQuery{
		SourceUserID:      pc.UserID,
		DestinationUserID: pc.AuthorID,
		Types:             r.Types,
		Since:             now().Add(-r.Window),
	})
	if err != nil {
		return votes.PolicyDecision{}, err
	}
	if n >= r.Max {
		return votes.Deny(fmt.Sprintf("too many votes on content of %s, try again later", pc.AuthorID)), nil
	}
	return votes.Allow(), nil
}

// RateRule throttles each user with a token bucket. Limiters of the least
// recently seen users are evicted.
//
// A token is spent on every new vote that reaches the rule, even if a later
// rule denies it or the store then fails, so it belongs last in an Engine.
type RateRule struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateRule allows perMinute new votes per user on average, and bursts of
// burst votes. Limiters are kept for at most size users.
func NewRateRule(perMinute float64, burst int, size int) (*RateRule, error) {
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter cache: %w", err)
	}

	return &RateRule{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		limiters: cache,
	}, nil
}

func (r *RateRule) Name() string { return "rate" }

func (r *RateRule) limiter(userID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(userID)
	l, ok := r.limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters.Add(key, l)
	}
	return l
}

func (r *RateRule) Check(ctx context.Context, pc votes.PolicyContext) (votes.PolicyDecision, error) {
	if !pc.IsNewVote() {
		return votes.Allow(), nil
	}

	if !r.limiter(pc.UserID).Allow() {
		return votes.Deny("you are voting too fast, slow down"), nil
	}
	return votes.Allow(), nil
}

// DownvoteRule forbids downvotes in some communities.
type DownvoteRule struct {
	subverses map[string]struct{}
}

func NewDownvoteRule(subverses ...string) *DownvoteRule {
	r := &DownvoteRule{subverses: map[string]struct{}{}}
	for _, s := range subverses {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			r.subverses[s] = struct{}{}
		}
	}
	return r
}

func (r *DownvoteRule) Name() string { return "downvote" }

func (r *DownvoteRule) Check(ctx context.Context, pc votes.PolicyContext) (votes.PolicyDecision, error) {
	if !pc.IsNewVote() || pc.Requested != votes.Down {
		return votes.Allow(), nil
	}

	if _, ok := r.subverses[strings.ToLower(pc.Subverse)]; ok {
		return votes.Deny(fmt.Sprintf("downvotes are disabled in %s", pc.Subverse)), nil
	}
	return votes.Allow(), nil
}
