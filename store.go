package votes

import "context"

// A Store persists items, their counters and the vote records.
//
// ApplyVote is the only way counters change: it must commit the record
// mutation and the counter deltas as a single unit, or nothing at all.
// It is meant to be called by the Ledger, while the item lock is held.
type Store interface {
	Connect() error

	// FindItem returns ErrNotFound if there is no such item.
	FindItem(ctx context.Context, itemType ItemType, itemID int64) (*Item, error)
	// FindVote returns nil without error when the user never voted on the item.
	FindVote(ctx context.Context, itemType ItemType, itemID int64, userID string) (*VoteRecord, error)
	ApplyVote(ctx context.Context, change *VoteChange) (Aggregate, error)

	VoteCount(ctx context.Context, q VoteCountQuery) (int, error)
	HasOriginVoted(ctx context.Context, itemType ItemType, itemID int64, originHash string) (bool, error)
	// ListUserVotes lists the votes of a user on a submission and on all its comments.
	ListUserVotes(ctx context.Context, submissionID int64, userID string) ([]*VoteRecord, error)
}
