package votes

import "context"

// PolicyContext is what a PolicyGate is told about a vote before it is applied.
type PolicyContext struct {
	ItemType     ItemType
	ItemID       int64
	SubmissionID int64
	Subverse     string
	UserID       string
	AuthorID     string
	Requested    VoteState
	Current      VoteState
	OriginHash   string
}

// IsNewVote reports whether the user is casting a vote on an item they
// had not voted on yet. Revokes and flips are not new votes.
func (pc PolicyContext) IsNewVote() bool {
	return pc.Current == None && pc.Requested != None
}

type PolicyDecision struct {
	Allowed bool
	// Message is user facing.
	Message string
}

func Allow() PolicyDecision {
	return PolicyDecision{Allowed: true}
}

func Deny(msg string) PolicyDecision {
	return PolicyDecision{Allowed: false, Message: msg}
}

// A PolicyGate can veto a vote for reasons outside of the vote state machine,
// such as rate limits or community rules. An error is treated as a denial.
type PolicyGate interface {
	Evaluate(ctx context.Context, pc PolicyContext) (PolicyDecision, error)
}

// PolicyGateFunc adapts a function to the PolicyGate interface.
type PolicyGateFunc func(ctx context.Context, pc PolicyContext) (PolicyDecision, error)

func (f PolicyGateFunc) Evaluate(ctx context.Context, pc PolicyContext) (PolicyDecision, error) {
	return f(ctx, pc)
}

// AllowAll is a PolicyGate that never denies.
var AllowAll PolicyGate = PolicyGateFunc(func(context.Context, PolicyContext) (PolicyDecision, error) {
	return Allow(), nil
})

// A ReRanker recomputes the ranking of a submission whose counters changed.
type ReRanker interface {
	Recompute(ctx context.Context, item *Item) error
}

type ReRankerFunc func(ctx context.Context, item *Item) error

func (f ReRankerFunc) Recompute(ctx context.Context, item *Item) error {
	return f(ctx, item)
}
