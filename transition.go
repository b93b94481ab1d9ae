package votes

// DecisionKind classifies the result of a transition.
type DecisionKind int

const (
	// Applied means the vote moves to a new non-None state.
	Applied DecisionKind = iota + 1
	// Revoked means an existing vote is removed.
	Revoked
	// Ignored means nothing changes.
	Ignored
)

func (k DecisionKind) String() string {
	switch k {
	case Applied:
		return "applied"
	case Revoked:
		return "revoked"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

const (
	msgAlreadyVoted  = "already voted this way"
	msgRevokeUnvoted = "revoke on unvoted item is a no-op"
	msgRevoked       = "vote has been revoked"
	msgRecorded      = "vote recorded"
)

// A Decision is the outcome of moving a vote from one state to another.
type Decision struct {
	NewState  VoteState
	UpDelta   int64
	DownDelta int64
	Kind      DecisionKind
	Message   string
}

// Delta is the net change to the item score, e.g. -2 when flipping up to down.
func (d Decision) Delta() int64 {
	return d.UpDelta - d.DownDelta
}

// Changed reports whether the decision touches the counters.
func (d Decision) Changed() bool {
	return d.UpDelta != 0 || d.DownDelta != 0
}

// counterDelta returns the (up, down) contribution of a single vote in state s.
func counterDelta(s VoteState) (int64, int64) {
	switch s {
	case Up:
		return 1, 0
	case Down:
		return 0, 1
	}
	return 0, 0
}

// Transition computes the next vote state of a user on an item. Both states
// must be valid VoteStates. When requested equals current, the vote is
// revoked if revokeOnRevote is set, ignored otherwise.
func Transition(current VoteState, requested VoteState, revokeOnRevote bool) Decision {
	target := requested
	if current == requested {
		if current == None {
			return Decision{NewState: None, Kind: Ignored, Message: msgRevokeUnvoted}
		}
		if !revokeOnRevote {
			return Decision{NewState: current, Kind: Ignored, Message: msgAlreadyVoted}
		}
		target = None
	}

	oldUp, oldDown := counterDelta(current)
	newUp, newDown := counterDelta(target)
	d := Decision{
		NewState:  target,
		UpDelta:   newUp - oldUp,
		DownDelta: newDown - oldDown,
	}

	if target == None {
		d.Kind = Revoked
		d.Message = msgRevoked
	} else {
		d.Kind = Applied
		d.Message = msgRecorded
	}

	return d
}
