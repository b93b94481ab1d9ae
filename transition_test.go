package votes

import (
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestTransition(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		current   VoteState
		requested VoteState
		revoke    bool
		want      Decision
	}{
		// no prior vote
		{None, None, true, Decision{NewState: None, Kind: Ignored, Message: msgRevokeUnvoted}},
		{None, None, false, Decision{NewState: None, Kind: Ignored, Message: msgRevokeUnvoted}},
		{None, Up, true, Decision{NewState: Up, UpDelta: 1, Kind: Applied, Message: msgRecorded}},
		{None, Up, false, Decision{NewState: Up, UpDelta: 1, Kind: Applied, Message: msgRecorded}},
		{None, Down, true, Decision{NewState: Down, DownDelta: 1, Kind: Applied, Message: msgRecorded}},
		{None, Down, false, Decision{NewState: Down, DownDelta: 1, Kind: Applied, Message: msgRecorded}},

		// upvoted
		{Up, None, true, Decision{NewState: None, UpDelta: -1, Kind: Revoked, Message: msgRevoked}},
		{Up, None, false, Decision{NewState: None, UpDelta: -1, Kind: Revoked, Message: msgRevoked}},
		{Up, Up, true, Decision{NewState: None, UpDelta: -1, Kind: Revoked, Message: msgRevoked}},
		{Up, Up, false, Decision{NewState: Up, Kind: Ignored, Message: msgAlreadyVoted}},
		{Up, Down, true, Decision{NewState: Down, UpDelta: -1, DownDelta: 1, Kind: Applied, Message: msgRecorded}},
		{Up, Down, false, Decision{NewState: Down, UpDelta: -1, DownDelta: 1, Kind: Applied, Message: msgRecorded}},

		// downvoted
		{Down, None, true, Decision{NewState: None, DownDelta: -1, Kind: Revoked, Message: msgRevoked}},
		{Down, None, false, Decision{NewState: None, DownDelta: -1, Kind: Revoked, Message: msgRevoked}},
		{Down, Down, true, Decision{NewState: None, DownDelta: -1, Kind: Revoked, Message: msgRevoked}},
		{Down, Down, false, Decision{NewState: Down, Kind: Ignored, Message: msgAlreadyVoted}},
		{Down, Up, true, Decision{NewState: Up, UpDelta: 1, DownDelta: -1, Kind: Applied, Message: msgRecorded}},
		{Down, Up, false, Decision{NewState: Up, UpDelta: 1, DownDelta: -1, Kind: Applied, Message: msgRecorded}},
	}

	for _, test := range tests {
		name := fmt.Sprintf("%s to %s, revoke=%t", test.current, test.requested, test.revoke)
		c.Run(name, func(c *qt.C) {
			got := Transition(test.current, test.requested, test.revoke)
			c.Assert(got, qt.Equals, test.want)
			c.Assert(got.Changed(), qt.Equals, got.Kind != Ignored)
		})
	}
}

func TestDecisionDelta(t *testing.T) {
	c := qt.New(t)

	c.Assert(Transition(Up, Down, true).Delta(), qt.Equals, int64(-2))
	c.Assert(Transition(Down, Up, true).Delta(), qt.Equals, int64(2))
	c.Assert(Transition(None, Up, true).Delta(), qt.Equals, int64(1))
	c.Assert(Transition(Down, Down, true).Delta(), qt.Equals, int64(1))
	c.Assert(Transition(Up, Up, false).Delta(), qt.Equals, int64(0))
}

func TestParseVoteState(t *testing.T) {
	c := qt.New(t)

	for _, v := range []int{-1, 0, 1} {
		s, err := ParseVoteState(v)
		c.Assert(err, qt.IsNil)
		c.Assert(int(s), qt.Equals, v)
	}

	for _, v := range []int{-2, 2, 127} {
		_, err := ParseVoteState(v)
		c.Assert(err, qt.ErrorIs, ErrInvalidArgument)
	}
}

func TestItemType(t *testing.T) {
	c := qt.New(t)

	c.Assert(Submission.Key(42), qt.Equals, "submission:42")
	c.Assert(Comment.Key(7), qt.Equals, "comment:7")
	c.Assert(ItemType(9).Valid(), qt.IsFalse)

	it, err := ParseItemType(" Comment ")
	c.Assert(err, qt.IsNil)
	c.Assert(it, qt.Equals, Comment)

	_, err = ParseItemType("story")
	c.Assert(err, qt.ErrorIs, ErrInvalidArgument)
}
