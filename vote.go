package votes

import (
	"fmt"
	"time"
)

// VoteState is a user's directional opinion on an item.
type VoteState int8

const (
	Down VoteState = -1
	None VoteState = 0
	Up   VoteState = 1
)

func (s VoteState) String() string {
	switch s {
	case Down:
		return "down"
	case None:
		return "none"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("VoteState(%d)", int8(s))
	}
}

// ParseVoteState converts a raw vote value, which must be -1, 0 or 1.
func ParseVoteState(v int) (VoteState, error) {
	switch v {
	case -1, 0, 1:
		return VoteState(v), nil
	}
	return None, fmt.Errorf("%w: vote must be one of -1, 0, 1, got %d", ErrInvalidArgument, v)
}

// A VoteRecord is the vote of one user on one item. There is at most one per
// (user, item) pair, and a record never holds the None state: revoking deletes it.
type VoteRecord struct {
	ItemType ItemType  `db:"-" json:"item_type"`
	ItemID   int64     `db:"item_id" json:"item_id"`
	UserID   string    `db:"user_id" json:"-"`
	State    VoteState `db:"vote_status" json:"vote"`
	// OriginHash identifies the network origin of the vote, for auditing only.
	OriginHash string `db:"origin_hash" json:"-"`
	// CreatedAt is refreshed on every state change.
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// A VoteChange is what the ledger asks a Store to commit atomically: the new
// state of one VoteRecord and the matching counter deltas.
type VoteChange struct {
	ItemType   ItemType
	ItemID     int64
	UserID     string
	// PrevState is the state the change was computed from. Stores refuse the
	// change with ErrStaleVote when the record no longer holds it.
	PrevState  VoteState
	NewState   VoteState
	UpDelta    int64
	DownDelta  int64
	OriginHash string
	At         time.Time
}

// VoteCountQuery counts the votes a user cast on another user's content.
type VoteCountQuery struct {
	SourceUserID      string
	DestinationUserID string
	// Types restricts the count to these item types, both when empty.
	Types []ItemType
	// State restricts the count to one direction, any when None.
	State VoteState
	Since time.Time
}

// IncludesType reports whether t is selected by the query.
func (q VoteCountQuery) IncludesType(t ItemType) bool {
	if len(q.Types) == 0 {
		return true
	}
	for _, qt := range q.Types {
		if qt == t {
			return true
		}
	}
	return false
}
