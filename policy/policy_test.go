package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	votes "github.com/jhchabran/tabloid-votes"
	"github.com/jhchabran/tabloid-votes/memstore"
	"github.com/rs/zerolog"
)

type fakeRule struct {
	name     string
	decision votes.PolicyDecision
	err      error
	calls    int
}

func (r *fakeRule) Name() string { return r.name }

func (r *fakeRule) Check(ctx context.Context, pc votes.PolicyContext) (votes.PolicyDecision, error) {
	r.calls++
	return r.decision, r.err
}

func newVote(requested votes.VoteState) votes.PolicyContext {
	return votes.PolicyContext{
		ItemType:     votes.Submission,
		ItemID:       1,
		SubmissionID: 1,
		Subverse:     "golang",
		UserID:       "carol",
		AuthorID:     "alice",
		Requested:    requested,
		Current:      votes.None,
		OriginHash:   "h1",
	}
}

func TestEngine(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("no rules allows", func(c *qt.C) {
		e := NewEngine(zerolog.Nop())
		d, err := e.Evaluate(ctx, newVote(votes.Up))
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue)
	})

	c.Run("first denial wins", func(c *qt.C) {
		allow := &fakeRule{name: "allow", decision: votes.Allow()}
		deny := &fakeRule{name: "deny", decision: votes.Deny("nope")}
		last := &fakeRule{name: "last", decision: votes.Deny("never reached")}

		e := NewEngine(zerolog.Nop(), allow, deny, last)
		d, err := e.Evaluate(ctx, newVote(votes.Up))
		c.Assert(err, qt.IsNil)
		c.Assert(d, qt.DeepEquals, votes.Deny("nope"))
		c.Assert(allow.calls, qt.Equals, 1)
		c.Assert(last.calls, qt.Equals, 0)
	})

	c.Run("rule errors are returned", func(c *qt.C) {
		boom := errors.New("boom")
		e := NewEngine(zerolog.Nop(), &fakeRule{name: "broken", err: boom})
		_, err := e.Evaluate(ctx, newVote(votes.Up))
		c.Assert(err, qt.ErrorIs, boom)
	})

	c.Run("cancelled context", func(c *qt.C) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		e := NewEngine(zerolog.Nop(), &fakeRule{name: "allow", decision: votes.Allow()})
		_, err := e.Evaluate(ctx, newVote(votes.Up))
		c.Assert(err, qt.ErrorIs, context.Canceled)
	})
}

func TestRules(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2021, 3, 4, 12, 0, 0, 0, time.UTC)

	seed := func(c *qt.C) *memstore.Store {
		s := memstore.New()
		for i := 0; i < 3; i++ {
			sub := &votes.Item{AuthorID: "alice", Subverse: "golang", CreatedAt: now}
			c.Assert(s.InsertSubmission(ctx, sub), qt.IsNil)
		}
		for id := int64(1); id <= 2; id++ {
			_, err := s.ApplyVote(ctx, &votes.VoteChange{
				ItemType: votes.Submission, ItemID: id, UserID: "carol",
				NewState: votes.Up, UpDelta: 1, OriginHash: "h1", At: now.Add(-time.Minute),
			})
			c.Assert(err, qt.IsNil)
		}
		return s
	}

	c.Run("origin", func(c *qt.C) {
		r := &OriginRule{Store: seed(c)}

		d, err := r.Check(ctx, newVote(votes.Up))
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsFalse)

		pc := newVote(votes.Up)
		pc.ItemID = 3
		d, err = r.Check(ctx, pc)
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue)

		pc = newVote(votes.None)
		pc.Current = votes.Up
		d, err = r.Check(ctx, pc)
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue, qt.Commentf("revokes are never policed"))
	})

	c.Run("quota", func(c *qt.C) {
		r := &QuotaRule{Store: seed(c), Max: 2, Window: time.Hour, Now: func() time.Time { return now }}

		pc := newVote(votes.Up)
		pc.ItemID = 3
		d, err := r.Check(ctx, pc)
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsFalse)

		r.Window = time.Second
		d, err = r.Check(ctx, pc)
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue)

		r.Window = time.Hour
		pc.AuthorID = "bob"
		d, err = r.Check(ctx, pc)
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue)
	})

	c.Run("rate", func(c *qt.C) {
		r, err := NewRateRule(1, 2, 16)
		c.Assert(err, qt.IsNil)

		for i := 0; i < 2; i++ {
			d, err := r.Check(ctx, newVote(votes.Up))
			c.Assert(err, qt.IsNil)
			c.Assert(d.Allowed, qt.IsTrue)
		}
		d, err := r.Check(ctx, newVote(votes.Up))
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsFalse)

		other := newVote(votes.Up)
		other.UserID = "dave"
		d, err = r.Check(ctx, other)
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue)
	})

	c.Run("rate rejects a zero sized cache", func(c *qt.C) {
		_, err := NewRateRule(1, 1, 0)
		c.Assert(err, qt.IsNotNil)
	})

	c.Run("downvote", func(c *qt.C) {
		r := NewDownvoteRule("Golang", " ")

		d, err := r.Check(ctx, newVote(votes.Down))
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsFalse)

		d, err = r.Check(ctx, newVote(votes.Up))
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue)

		pc := newVote(votes.Down)
		pc.Subverse = "rust"
		d, err = r.Check(ctx, pc)
		c.Assert(err, qt.IsNil)
		c.Assert(d.Allowed, qt.IsTrue)
	})
}
