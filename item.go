package votes

import (
	"fmt"
	"strings"
	"time"
)

// ItemType tells which kind of content a vote targets.
type ItemType int

const (
	Submission ItemType = iota + 1
	Comment
)

func (t ItemType) String() string {
	switch t {
	case Submission:
		return "submission"
	case Comment:
		return "comment"
	default:
		return fmt.Sprintf("ItemType(%d)", int(t))
	}
}

// Valid reports whether t is one of the votable item types.
func (t ItemType) Valid() bool {
	return t == Submission || t == Comment
}

// Key returns the lock key for the item of type t identified by id, in
// the "<itemType>:<itemId>" form.
func (t ItemType) Key(id int64) string {
	return fmt.Sprintf("%s:%d", t, id)
}

func (t ItemType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown item type %d", ErrInvalidArgument, int(t))
	}
	return []byte(t.String()), nil
}

func (t *ItemType) UnmarshalText(b []byte) error {
	parsed, err := ParseItemType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseItemType is the inverse of ItemType.String.
func ParseItemType(s string) (ItemType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "submission":
		return Submission, nil
	case "comment":
		return Comment, nil
	}
	return 0, fmt.Errorf("%w: unknown item type %q", ErrInvalidArgument, s)
}

// An Item is a votable piece of content: a submission or a comment, along with
// its denormalized vote counters.
type Item struct {
	ID   int64    `db:"id"`
	Type ItemType `db:"-"`
	// SubmissionID is the item itself for submissions, and the parent
	// submission for comments.
	SubmissionID int64     `db:"submission_id"`
	AuthorID     string    `db:"author_id"`
	Subverse     string    `db:"subverse"`
	UpCount      int64     `db:"up_count"`
	DownCount    int64     `db:"down_count"`
	Rank         float64   `db:"rank"`
	Deleted      bool      `db:"is_deleted"`
	CreatedAt    time.Time `db:"created_at"`
}

func (i *Item) Key() string {
	return i.Type.Key(i.ID)
}

// Score is the net vote count.
func (i *Item) Score() int64 {
	return i.UpCount - i.DownCount
}

// GetScore and Age make an Item rankable.
func (i *Item) GetScore() int64 {
	return i.Score()
}

func (i *Item) Age() time.Time {
	return i.CreatedAt
}

func (i *Item) Aggregate() Aggregate {
	return Aggregate{Up: i.UpCount, Down: i.DownCount}
}

// Aggregate holds the vote counters of an item.
type Aggregate struct {
	Up   int64 `db:"up_count" json:"up"`
	Down int64 `db:"down_count" json:"down"`
}

// NewSubmission returns a submission authored by authorID in the given subverse.
func NewSubmission(authorID string, subverse string) *Item {
	return &Item{
		Type:      Submission,
		AuthorID:  authorID,
		Subverse:  subverse,
		CreatedAt: NowFunc(),
	}
}

// NewComment returns a comment authored by authorID, posted on the given submission.
func NewComment(submissionID int64, authorID string) *Item {
	return &Item{
		Type:         Comment,
		SubmissionID: submissionID,
		AuthorID:     authorID,
		CreatedAt:    NowFunc(),
	}
}
