package votes

import "encoding/json"

// Status is the kind of answer the ledger gives to a vote request.
type Status int

const (
	StatusSuccessful Status = iota + 1
	// StatusIgnored requests were valid but changed nothing.
	StatusIgnored
	// StatusDenied requests were vetoed by the policy gate.
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusSuccessful:
		return "successful"
	case StatusIgnored:
		return "ignored"
	case StatusDenied:
		return "denied"
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// An Outcome is returned for every vote request that did not fail.
type Outcome struct {
	Status Status    `json:"status"`
	State  VoteState `json:"state"`
	// Delta is the net change applied to the item score.
	Delta       int64     `json:"delta"`
	Aggregate   Aggregate `json:"aggregate"`
	OwnerUserID string    `json:"owner"`
	Message     string    `json:"message,omitempty"`
}

// of fills in the counters and owner of item.
func (o *Outcome) of(item *Item) *Outcome {
	o.Aggregate = item.Aggregate()
	o.OwnerUserID = item.AuthorID
	return o
}

func ignored(state VoteState, msg string) *Outcome {
	return &Outcome{Status: StatusIgnored, State: state, Message: msg}
}

func denied(state VoteState, msg string) *Outcome {
	return &Outcome{Status: StatusDenied, State: state, Message: msg}
}
