//go:build integration

package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	votes "github.com/jhchabran/tabloid-votes"
	"github.com/rs/zerolog"
)

func testDatabaseURL() string {
	if v := os.Getenv("VOTES_TEST_DATABASE_URL"); v != "" {
		return v
	}
	return "user=postgres dbname=votes_test sslmode=disable password=postgres host=127.0.0.1"
}

func TestPGStore(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2021, 3, 4, 12, 0, 0, 0, time.UTC)

	store := New(testDatabaseURL(), zerolog.Nop())
	c.Assert(store.Connect(), qt.IsNil)
	c.Assert(store.Migrate(), qt.IsNil)
	c.Cleanup(func() { store.Close() })

	setup := func(c *qt.C) (*votes.Item, *votes.Item) {
		c.Cleanup(func() {
			store.DB().MustExec("TRUNCATE TABLE submission_votes, comment_votes, comments, submissions RESTART IDENTITY CASCADE;")
		})

		sub := &votes.Item{AuthorID: "alice", Subverse: "golang", UpCount: 5, DownCount: 2, CreatedAt: now}
		c.Assert(store.InsertSubmission(ctx, sub), qt.IsNil)
		c.Assert(sub.ID, qt.Not(qt.Equals), int64(0))

		com := &votes.Item{SubmissionID: sub.ID, AuthorID: "bob", CreatedAt: now}
		c.Assert(store.InsertComment(ctx, com), qt.IsNil)
		c.Assert(com.ID, qt.Not(qt.Equals), int64(0))

		return sub, com
	}

	c.Run("FindItem", func(c *qt.C) {
		sub, com := setup(c)

		item, err := store.FindItem(ctx, votes.Submission, sub.ID)
		c.Assert(err, qt.IsNil)
		c.Assert(item.Type, qt.Equals, votes.Submission)
		c.Assert(item.SubmissionID, qt.Equals, sub.ID)
		c.Assert(item.Aggregate(), qt.Equals, votes.Aggregate{Up: 5, Down: 2})

		item, err = store.FindItem(ctx, votes.Comment, com.ID)
		c.Assert(err, qt.IsNil)
		c.Assert(item.SubmissionID, qt.Equals, sub.ID)
		c.Assert(item.Subverse, qt.Equals, "golang", qt.Commentf("comments inherit the subverse of their submission"))

		_, err = store.FindItem(ctx, votes.Submission, sub.ID+100)
		c.Assert(err, qt.ErrorIs, votes.ErrNotFound)
	})

	c.Run("ApplyVote", func(c *qt.C) {
		sub, _ := setup(c)

		agg, err := store.ApplyVote(ctx, &votes.VoteChange{
			ItemType: votes.Submission, ItemID: sub.ID, UserID: "carol",
			NewState: votes.Up, UpDelta: 1, OriginHash: "h1", At: now,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(agg, qt.Equals, votes.Aggregate{Up: 6, Down: 2})

		later := now.Add(time.Hour)
		agg, err = store.ApplyVote(ctx, &votes.VoteChange{
			ItemType: votes.Submission, ItemID: sub.ID, UserID: "carol", PrevState: votes.Up,
			NewState: votes.Down, UpDelta: -1, DownDelta: 1, OriginHash: "h2", At: later,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(agg, qt.Equals, votes.Aggregate{Up: 5, Down: 3})

		rec, err := store.FindVote(ctx, votes.Submission, sub.ID, "carol")
		c.Assert(err, qt.IsNil)
		c.Assert(rec.State, qt.Equals, votes.Down)
		c.Assert(rec.OriginHash, qt.Equals, "h1")
		c.Assert(rec.CreatedAt.Equal(later), qt.IsTrue)

		agg, err = store.ApplyVote(ctx, &votes.VoteChange{
			ItemType: votes.Submission, ItemID: sub.ID, UserID: "carol", PrevState: votes.Down,
			NewState: votes.None, DownDelta: -1, At: later,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(agg, qt.Equals, votes.Aggregate{Up: 5, Down: 2})

		rec, err = store.FindVote(ctx, votes.Submission, sub.ID, "carol")
		c.Assert(err, qt.IsNil)
		c.Assert(rec, qt.IsNil)
	})

	c.Run("ApplyVote refuses stale changes", func(c *qt.C) {
		sub, _ := setup(c)

		first := &votes.VoteChange{
			ItemType: votes.Submission, ItemID: sub.ID, UserID: "carol",
			NewState: votes.Up, UpDelta: 1, OriginHash: "h1", At: now,
		}
		_, err := store.ApplyVote(ctx, first)
		c.Assert(err, qt.IsNil)

		// a second writer that also read no vote
		_, err = store.ApplyVote(ctx, first)
		c.Assert(err, qt.ErrorIs, votes.ErrStaleVote)

		item, err := store.FindItem(ctx, votes.Submission, sub.ID)
		c.Assert(err, qt.IsNil)
		c.Assert(item.Aggregate(), qt.Equals, votes.Aggregate{Up: 6, Down: 2})
	})

	c.Run("ApplyVote rolls back", func(c *qt.C) {
		_, com := setup(c)

		// the counter check fails after the vote row is written
		_, err := store.ApplyVote(ctx, &votes.VoteChange{
			ItemType: votes.Comment, ItemID: com.ID, UserID: "carol",
			NewState: votes.Down, UpDelta: -1, DownDelta: 1, At: now,
		})
		c.Assert(err, qt.IsNotNil)

		rec, err := store.FindVote(ctx, votes.Comment, com.ID, "carol")
		c.Assert(err, qt.IsNil)
		c.Assert(rec, qt.IsNil)

		item, err := store.FindItem(ctx, votes.Comment, com.ID)
		c.Assert(err, qt.IsNil)
		c.Assert(item.Aggregate(), qt.Equals, votes.Aggregate{})
	})

	c.Run("anti abuse queries", func(c *qt.C) {
		sub, com := setup(c)

		for _, ch := range []*votes.VoteChange{
			{ItemType: votes.Submission, ItemID: sub.ID, UserID: "carol", NewState: votes.Up, UpDelta: 1, OriginHash: "h1", At: now},
			{ItemType: votes.Comment, ItemID: com.ID, UserID: "Carol", NewState: votes.Down, DownDelta: 1, OriginHash: "h1", At: now},
		} {
			_, err := store.ApplyVote(ctx, ch)
			c.Assert(err, qt.IsNil)
		}

		n, err := store.VoteCount(ctx, votes.VoteCountQuery{SourceUserID: "carol", DestinationUserID: "ALICE", Since: now.Add(-time.Hour)})
		c.Assert(err, qt.IsNil)
		c.Assert(n, qt.Equals, 1)

		n, err = store.VoteCount(ctx, votes.VoteCountQuery{SourceUserID: "carol", DestinationUserID: "bob", State: votes.Down})
		c.Assert(err, qt.IsNil)
		c.Assert(n, qt.Equals, 1)

		ok, err := store.HasOriginVoted(ctx, votes.Comment, com.ID, "h1")
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue)

		records, err := store.ListUserVotes(ctx, sub.ID, "carol")
		c.Assert(err, qt.IsNil)
		c.Assert(records, qt.HasLen, 1)
		c.Assert(records[0].ItemType, qt.Equals, votes.Submission)
	})

	c.Run("UpdateRank and DeleteItem", func(c *qt.C) {
		sub, com := setup(c)

		c.Assert(store.UpdateRank(ctx, sub.ID, 0.25), qt.IsNil)
		c.Assert(store.DeleteItem(ctx, votes.Comment, com.ID), qt.IsNil)

		item, err := store.FindItem(ctx, votes.Submission, sub.ID)
		c.Assert(err, qt.IsNil)
		c.Assert(item.Rank, qt.Equals, 0.25)

		item, err = store.FindItem(ctx, votes.Comment, com.ID)
		c.Assert(err, qt.IsNil)
		c.Assert(item.Deleted, qt.IsTrue)
	})
}
