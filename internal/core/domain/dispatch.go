package domain

import "errors"

// ReplyAction names one step of the reply fallback chain
type ReplyAction string

const (
	ActionCarouselDM   ReplyAction = "carousel_dm"
	ActionTextDM       ReplyAction = "text_dm"
	ActionPrivateReply ReplyAction = "private_reply"
	ActionPublicReply  ReplyAction = "public_reply"
)

// Outcome is the final state of dispatching one matched rule
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ErrNotAttempted marks a chain step that was skipped because its
// preconditions did not hold (no cards, no recipient).
var ErrNotAttempted = errors.New("not attempted")

// Attempt is the explicit result of one outbound send
type Attempt struct {
	Action ReplyAction
	Target string // comment id or recipient id the call was addressed to
	Err    error
}

// OK reports whether the attempt delivered
func (a Attempt) OK() bool { return a.Err == nil }

// Result summarizes the dispatch of one (event, rule) pair
type Result struct {
	RuleID      string
	CommenterID string
	Outcome     Outcome
	Action      ReplyAction // the action that delivered, empty unless Outcome is sent
	Attempts    []Attempt
	Reason      string
}
