package votes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhchabran/tabloid-votes/keylock"
	"github.com/rs/zerolog"
)

const (
	msgDeleted = "deleted items cannot be voted"
	msgOwnItem = "cannot vote on own content"
	msgPolicy  = "vote rejected"
)

type LedgerConfig struct {
	LockTimeout   time.Duration
	PolicyTimeout time.Duration
	StoreTimeout  time.Duration
	RankTimeout   time.Duration
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		LockTimeout:   5 * time.Second,
		PolicyTimeout: 2 * time.Second,
		StoreTimeout:  5 * time.Second,
		RankTimeout:   2 * time.Second,
	}
}

// A VoteRequest asks the ledger to move the vote of UserID on an item.
type VoteRequest struct {
	ItemType ItemType
	ItemID   int64
	UserID   string
	// Vote is the raw requested value, -1, 0 or 1.
	Vote       int
	OriginHash string
	// RevokeOnRevote turns a repeated vote into a revocation.
	RevokeOnRevote bool
}

func NewVoteRequest(itemType ItemType, itemID int64, userID string, vote int, originHash string) VoteRequest {
	return VoteRequest{
		ItemType:       itemType,
		ItemID:         itemID,
		UserID:         userID,
		Vote:           vote,
		OriginHash:     originHash,
		RevokeOnRevote: true,
	}
}

// The Ledger is the only code path that changes vote records and item counters.
type Ledger struct {
	store   Store
	locks   *keylock.Registry
	gate    PolicyGate
	ranker  ReRanker
	metrics *Metrics
	config  LedgerConfig
	logger  zerolog.Logger
}

type LedgerOption func(*Ledger)

func WithPolicyGate(gate PolicyGate) LedgerOption {
	return func(l *Ledger) { l.gate = gate }
}

func WithReRanker(r ReRanker) LedgerOption {
	return func(l *Ledger) { l.ranker = r }
}

func WithMetrics(m *Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

func WithLocks(r *keylock.Registry) LedgerOption {
	return func(l *Ledger) { l.locks = r }
}

func WithLedgerConfig(config LedgerConfig) LedgerOption {
	return func(l *Ledger) { l.config = config }
}

func NewLedger(store Store, logger zerolog.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  keylock.New(keylock.DefaultShards),
		gate:   AllowAll,
		config: DefaultLedgerConfig(),
		logger: logger.With().Str("component", "ledger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Vote applies a vote request. It returns an Outcome for successful, ignored
// and denied votes, and an error for invalid requests, missing items and
// failures of the critical section. Errors of the latter kind are TransientErrors
// and leave the item untouched.
func (l *Ledger) Vote(ctx context.Context, req VoteRequest) (*Outcome, error) {
	requested, err := ParseVoteState(req.Vote)
	if err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if !req.ItemType.Valid() {
		return nil, fmt.Errorf("%w: unknown item type %d", ErrInvalidArgument, int(req.ItemType))
	}

	logger := l.logger.With().
		Str("key", req.ItemType.Key(req.ItemID)).
		Str("user", req.UserID).
		Int("vote", req.Vote).
		Logger()

	h, err := l.lock(ctx, req.ItemType.Key(req.ItemID))
	if err != nil {
		return nil, err
	}
	defer h.Release()

	// Past this point the vote either commits or fails as a whole, whatever
	// happens to the caller.
	ctx = context.WithoutCancel(ctx)

	out, err := l.vote(ctx, logger, req, requested)
	if err != nil {
		var te *TransientError
		if errors.As(err, &te) {
			l.metrics.observeTransient(te.Op)
			logger.Warn().Err(err).Msg("transient vote failure")
		}
		return nil, err
	}

	l.metrics.observeOutcome(req.ItemType, out)
	logger.Debug().Str("status", out.Status.String()).Int64("delta", out.Delta).Msg(out.Message)

	return out, nil
}

func (l *Ledger) lock(ctx context.Context, key string) (*keylock.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h := l.locks.TryAcquire(key); h != nil {
		l.metrics.observeLockWait(0)
		return h, nil
	}

	start := time.Now()

	lctx, cancel := context.WithTimeout(ctx, l.config.LockTimeout)
	defer cancel()

	h, err := l.locks.Acquire(lctx, key)
	l.metrics.observeLockWait(time.Since(start).Seconds())
	if err != nil {
		// the caller gave up, nothing happened
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient("lock", fmt.Errorf("%w: %s", ErrLockTimeout, key))
	}

	return h, nil
}

func (l *Ledger) vote(ctx context.Context, logger zerolog.Logger, req VoteRequest, requested VoteState) (*Outcome, error) {
	item, err := l.findItem(ctx, req.ItemType, req.ItemID)
	if err != nil {
		return nil, err
	}

	if item.Deleted {
		return ignored(None, msgDeleted).of(item), nil
	}
	if strings.EqualFold(item.AuthorID, req.UserID) {
		return ignored(None, msgOwnItem).of(item), nil
	}

	record, err := l.findVote(ctx, req.ItemType, req.ItemID, req.UserID)
	if err != nil {
		return nil, err
	}
	current := None
	if record != nil {
		current = record.State
	}

	if current == requested && (current == None || !req.RevokeOnRevote) {
		d := Transition(current, requested, req.RevokeOnRevote)
		return ignored(current, d.Message).of(item), nil
	}

	pc := PolicyContext{
		ItemType:     req.ItemType,
		ItemID:       req.ItemID,
		SubmissionID: item.SubmissionID,
		Subverse:     item.Subverse,
		UserID:       req.UserID,
		AuthorID:     item.AuthorID,
		Requested:    requested,
		Current:      current,
		OriginHash:   req.OriginHash,
	}
	if decision := l.evaluate(ctx, logger, pc); !decision.Allowed {
		return denied(current, decision.Message).of(item), nil
	}

	d := Transition(current, requested, req.RevokeOnRevote)
	if d.Kind == Ignored {
		return ignored(current, d.Message).of(item), nil
	}

	change := &VoteChange{
		ItemType:   req.ItemType,
		ItemID:     req.ItemID,
		UserID:     req.UserID,
		PrevState:  current,
		NewState:   d.NewState,
		UpDelta:    d.UpDelta,
		DownDelta:  d.DownDelta,
		OriginHash: req.OriginHash,
		At:         NowFunc(),
	}
	agg, err := l.apply(ctx, change)
	if err != nil {
		return nil, err
	}

	item.UpCount, item.DownCount = agg.Up, agg.Down
	if req.ItemType == Submission && d.Changed() {
		l.rerank(ctx, logger, item)
	}

	return &Outcome{
		Status:      StatusSuccessful,
		State:       d.NewState,
		Delta:       d.Delta(),
		Aggregate:   agg,
		OwnerUserID: item.AuthorID,
		Message:     d.Message,
	}, nil
}

func (l *Ledger) findItem(ctx context.Context, t ItemType, id int64) (*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	item, err := l.store.FindItem(ctx, t, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, Transient("find item", err)
	}
	if item.Type == 0 {
		item.Type = t
	}
	return item, nil
}

func (l *Ledger) findVote(ctx context.Context, t ItemType, id int64, userID string) (*VoteRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	record, err := l.store.FindVote(ctx, t, id, userID)
	if err != nil {
		return nil, Transient("find vote", err)
	}
	return record, nil
}

func (l *Ledger) apply(ctx context.Context, change *VoteChange) (Aggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	agg, err := l.store.ApplyVote(ctx, change)
	if err != nil {
		return Aggregate{}, Transient("apply vote", err)
	}
	return agg, nil
}

// evaluate fails closed: an error or a timeout from the gate is a denial.
func (l *Ledger) evaluate(ctx context.Context, logger zerolog.Logger, pc PolicyContext) PolicyDecision {
	ctx, cancel := context.WithTimeout(ctx, l.config.PolicyTimeout)
	defer cancel()

	type result struct {
		decision PolicyDecision
		err      error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("policy gate panicked: %v", r)}
			}
		}()
		decision, err := l.gate.Evaluate(ctx, pc)
		done <- result{decision, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			logger.Warn().Err(res.err).Msg("policy gate failed, denying vote")
			return Deny(msgPolicy)
		}
		if !res.decision.Allowed && res.decision.Message == "" {
			res.decision.Message = msgPolicy
		}
		return res.decision
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Msg("policy gate timed out, denying vote")
		return Deny(msgPolicy)
	}
}

// rerank failures are logged only, the vote is already committed.
func (l *Ledger) rerank(ctx context.Context, logger zerolog.Logger, item *Item) {
	if l.ranker == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.RankTimeout)
	defer cancel()

	if err := l.ranker.Recompute(ctx, item); err != nil {
		l.metrics.observeRerankFailure()
		logger.Error().Err(err).Int64("submission", item.ID).Msg("failed to recompute rank")
	}
}

// UserVotes returns the votes of userID on a submission and on its comments.
func (l *Ledger) UserVotes(ctx context.Context, submissionID int64, userID string) ([]*VoteRecord, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	records, err := l.store.ListUserVotes(ctx, submissionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes of %s on submission %d: %w", userID, submissionID, err)
	}
	return records, nil
}
