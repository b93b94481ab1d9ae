// Package memstore keeps items and votes in memory. It honors the same
// atomicity contract as the PostgreSQL store and is used by tests and by the
// server when no database is configured.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	votes "github.com/jhchabran/tabloid-votes"
)

// Op names a store operation, for failure injection.
type Op string

const (
	OpFindItem   Op = "find item"
	OpFindVote   Op = "find vote"
	OpApplyVote  Op = "apply vote"
	OpUpdateRank Op = "update rank"
)

type itemKey struct {
	t  votes.ItemType
	id int64
}

type voteKey struct {
	item   itemKey
	userID string
}

type Store struct {
	mu sync.RWMutex

	lastID   map[votes.ItemType]int64
	items    map[itemKey]*votes.Item
	votes    map[voteKey]*votes.VoteRecord
	failures map[Op][]error
	blocks   map[Op]chan struct{}
	waiting  map[Op]int
}

var _ votes.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		lastID:   map[votes.ItemType]int64{},
		items:    map[itemKey]*votes.Item{},
		votes:    map[voteKey]*votes.VoteRecord{},
		failures: map[Op][]error{},
		blocks:   map[Op]chan struct{}{},
		waiting:  map[Op]int{},
	}
}

func (s *Store) Connect() error {
	return nil
}

// FailNext makes the next call to op return err, before any mutation.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Block makes calls to op wait until the returned function is called or
// their context is done.
func (s *Store) Block(op Op) (unblock func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{})
	s.blocks[op] = ch

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.blocks, op)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Blocked returns how many calls to op are waiting on a Block.
func (s *Store) Blocked(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting[op]
}

// enter runs the injected behaviors of op. It must be called without holding s.mu.
func (s *Store) enter(ctx context.Context, op Op) error {
	s.mu.Lock()
	block := s.blocks[op]
	var err error
	if errs := s.failures[op]; len(errs) > 0 {
		err = errs[0]
		s.failures[op] = errs[1:]
	}
	if block != nil {
		s.waiting[op]++
	}
	s.mu.Unlock()

	if block != nil {
		defer func() {
			s.mu.Lock()
			s.waiting[op]--
			s.mu.Unlock()
		}()
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) InsertSubmission(ctx context.Context, item *votes.Item) error {
	item.Type = votes.Submission
	return s.insert(ctx, item)
}

func (s *Store) InsertComment(ctx context.Context, item *votes.Item) error {
	s.mu.RLock()
	parent, ok := s.items[itemKey{votes.Submission, item.SubmissionID}]
	var subverse string
	if ok {
		subverse = parent.Subverse
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cannot insert comment on submission %d: %w", item.SubmissionID, votes.ErrNotFound)
	}

	item.Type = votes.Comment
	item.Subverse = subverse
	return s.insert(ctx, item)
}

func (s *Store) insert(ctx context.Context, item *votes.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID[item.Type]++
	item.ID = s.lastID[item.Type]
	if item.Type == votes.Submission {
		item.SubmissionID = item.ID
	}

	cp := *item
	s.items[itemKey{item.Type, item.ID}] = &cp
	return nil
}

// DeleteItem soft deletes an item. Its counters and votes are kept.
func (s *Store) DeleteItem(ctx context.Context, t votes.ItemType, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemKey{t, id}]
	if !ok {
		return votes.ErrNotFound
	}
	item.Deleted = true
	return nil
}

func (s *Store) FindItem(ctx context.Context, t votes.ItemType, id int64) (*votes.Item, error) {
	if err := s.enter(ctx, OpFindItem); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemKey{t, id}]
	if !ok {
		return nil, votes.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *Store) FindVote(ctx context.Context, t votes.ItemType, id int64, userID string) (*votes.VoteRecord, error) {
	if err := s.enter(ctx, OpFindVote); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.votes[voteKey{itemKey{t, id}, userID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ApplyVote validates the whole change before touching anything, so that a
// rejected change leaves the store as it was.
func (s *Store) ApplyVote(ctx context.Context, change *votes.VoteChange) (votes.Aggregate, error) {
	if err := s.enter(ctx, OpApplyVote); err != nil {
		return votes.Aggregate{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ik := itemKey{change.ItemType, change.ItemID}
	item, ok := s.items[ik]
	if !ok {
		return votes.Aggregate{}, votes.ErrNotFound
	}

	up := item.UpCount + change.UpDelta
	down := item.DownCount + change.DownDelta
	if up < 0 || down < 0 {
		return votes.Aggregate{}, fmt.Errorf("counters of %s would become negative (%d, %d)", ik.t.Key(ik.id), up, down)
	}

	vk := voteKey{ik, change.UserID}
	rec, exists := s.votes[vk]
	current := votes.None
	if exists {
		current = rec.State
	}
	if current != change.PrevState {
		return votes.Aggregate{}, fmt.Errorf("%w: %s of %s is %s, expected %s",
			votes.ErrStaleVote, ik.t.Key(ik.id), change.UserID, current, change.PrevState)
	}

	switch {
	case change.NewState == votes.None && !exists:
		return votes.Aggregate{}, fmt.Errorf("no vote of %s on %s to revoke", change.UserID, ik.t.Key(ik.id))
	case change.NewState == votes.None:
		delete(s.votes, vk)
	case exists:
		rec.State = change.NewState
		rec.CreatedAt = change.At
	default:
		s.votes[vk] = &votes.VoteRecord{
			ItemType:   change.ItemType,
			ItemID:     change.ItemID,
			UserID:     change.UserID,
			State:      change.NewState,
			OriginHash: change.OriginHash,
			CreatedAt:  change.At,
		}
	}

	item.UpCount, item.DownCount = up, down
	return item.Aggregate(), nil
}

func (s *Store) UpdateRank(ctx context.Context, submissionID int64, rank float64) error {
	if err := s.enter(ctx, OpUpdateRank); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemKey{votes.Submission, submissionID}]
	if !ok {
		return votes.ErrNotFound
	}
	item.Rank = rank
	return nil
}

func (s *Store) VoteCount(ctx context.Context, q votes.VoteCountQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k, rec := range s.votes {
		if !strings.EqualFold(k.userID, q.SourceUserID) || !q.IncludesType(k.item.t) {
			continue
		}
		if q.State != votes.None && rec.State != q.State {
			continue
		}
		if rec.CreatedAt.Before(q.Since) {
			continue
		}
		item := s.items[k.item]
		if item == nil || !strings.EqualFold(item.AuthorID, q.DestinationUserID) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) HasOriginVoted(ctx context.Context, t votes.ItemType, id int64, originHash string) (bool, error) {
	if originHash == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, rec := range s.votes {
		if k.item.t == t && k.item.id == id && rec.OriginHash == originHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListUserVotes(ctx context.Context, submissionID int64, userID string) ([]*votes.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []*votes.VoteRecord{}
	for k, rec := range s.votes {
		if k.userID != userID {
			continue
		}
		item := s.items[k.item]
		if item == nil || item.SubmissionID != submissionID {
			continue
		}
		cp := *rec
		records = append(records, &cp)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].ItemType != records[j].ItemType {
			return records[i].ItemType < records[j].ItemType
		}
		return records[i].ItemID < records[j].ItemID
	})
	return records, nil
}

// Votes returns the records on an item, in no particular order.
func (s *Store) Votes(t votes.ItemType, id int64) []*votes.VoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []*votes.VoteRecord{}
	for k, rec := range s.votes {
		if k.item.t == t && k.item.id == id {
			cp := *rec
			records = append(records, &cp)
		}
	}
	return records
}
