package domain

// EventKind distinguishes the canonical records produced by the normalizer
type EventKind string

const (
	EventKindComment EventKind = "comment"
	EventKindMessage EventKind = "message"
)

// CommentEvent is the canonical "comment created" record
type CommentEvent struct {
	MediaID           string
	CommentID         string
	ParentID          string // set when the payload already names the parent comment
	CommenterID       string // IGSID, recipient for direct messages
	CommenterUsername string
	Text              string
}

// MessageEvent is the canonical "message received" record (DM inbox)
type MessageEvent struct {
	MessageID string
	SenderID  string
	Text      string
}

// Event is one normalized item of a webhook envelope. Exactly one of
// Comment or Message is set, according to Kind.
type Event struct {
	Kind    EventKind
	Comment *CommentEvent
	Message *MessageEvent
}

// Match pairs a firing rule with the keyword that triggered it.
// MatchedKeyword is empty when the rule fired through AnyKeyword.
type Match struct {
	Rule           AutomationRule
	MatchedKeyword string
}
