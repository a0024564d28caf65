package services

import (
	"encoding/json"
	"log/slog"
	"strings"

	"ig-autoreply/internal/adapters/dto"
	"ig-autoreply/internal/core/domain"
)

// fieldPath is a path of object keys into a change value
type fieldPath []string

// Extraction rules per canonical field, most specific first.
// New payload variants are added here, not in the normalizer logic.
var (
	commentIDPaths   = []fieldPath{{"id"}, {"comment_id"}}
	mediaIDPaths     = []fieldPath{{"media", "id"}, {"media_id"}, {"media"}}
	parentIDPaths    = []fieldPath{{"parent_id"}, {"parent", "id"}}
	commenterPaths   = []fieldPath{{"from", "id"}}
	usernamePaths    = []fieldPath{{"from", "username"}, {"username"}}
	commentTextPaths = []fieldPath{{"text"}, {"message"}}

	messageIDPaths   = []fieldPath{{"message", "mid"}, {"mid"}, {"id"}}
	senderPaths      = []fieldPath{{"from", "id"}, {"sender", "id"}}
	messageTextPaths = []fieldPath{{"message", "text"}, {"text"}}
	messageEchoPaths = []fieldPath{{"message", "is_echo"}, {"is_echo"}}
)

const (
	expectedObject = "instagram"
	fieldComments  = "comments"
	fieldMessages  = "messages"
)

// Normalize turns a webhook envelope into canonical events. It returns nil
// when the envelope is from another source. Items missing their required
// fields are skipped. Pure transformation, no I/O.
func Normalize(env *dto.WebhookEnvelope) []domain.Event {
	if env == nil || env.Object != expectedObject {
		return nil
	}

	var events []domain.Event
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			switch change.Field {
			case fieldComments:
				if c := normalizeComment(change.Value); c != nil {
					events = append(events, domain.Event{Kind: domain.EventKindComment, Comment: c})
				} else {
					slog.Warn("Comment change missing media or comment id, skipping", "entry_id", entry.ID)
				}
			case fieldMessages:
				for _, m := range normalizeMessageChange(change.Value) {
					events = append(events, domain.Event{Kind: domain.EventKindMessage, Message: m})
				}
			default:
				slog.Debug("Ignoring change field", "field", change.Field)
			}
		}

		for i := range entry.Messaging {
			messaging := &entry.Messaging[i]
			if !messaging.IsUserMessage() {
				slog.Debug("Skipping non-user messaging event",
					"is_echo", messaging.Message != nil && messaging.Message.IsEcho,
					"has_delivery", messaging.Delivery != nil,
					"has_read", messaging.Read != nil,
				)
				continue
			}
			if messaging.Sender.ID == "" {
				continue
			}
			events = append(events, domain.Event{
				Kind: domain.EventKindMessage,
				Message: &domain.MessageEvent{
					MessageID: messaging.Message.MID,
					SenderID:  messaging.Sender.ID,
					Text:      strings.TrimSpace(messaging.Message.Text),
				},
			})
		}
	}
	return events
}

// normalizeComment requires media id and comment id
func normalizeComment(value map[string]any) *domain.CommentEvent {
	c := &domain.CommentEvent{
		MediaID:           firstString(value, mediaIDPaths),
		CommentID:         firstString(value, commentIDPaths),
		ParentID:          firstString(value, parentIDPaths),
		CommenterID:       firstString(value, commenterPaths),
		CommenterUsername: firstString(value, usernamePaths),
		Text:              strings.TrimSpace(firstString(value, commentTextPaths)),
	}
	if c.MediaID == "" || c.CommentID == "" {
		return nil
	}
	return c
}

// normalizeMessageChange accepts both a batched value {"messages":[...]}
// and a single message value.
func normalizeMessageChange(value map[string]any) []*domain.MessageEvent {
	items := []map[string]any{value}
	if batch, ok := value["messages"].([]any); ok {
		items = items[:0]
		for _, raw := range batch {
			if m, ok := raw.(map[string]any); ok {
				items = append(items, m)
			}
		}
	}

	var out []*domain.MessageEvent
	for _, item := range items {
		if firstBool(item, messageEchoPaths) {
			continue
		}
		m := &domain.MessageEvent{
			MessageID: firstString(item, messageIDPaths),
			SenderID:  firstString(item, senderPaths),
			Text:      strings.TrimSpace(firstString(item, messageTextPaths)),
		}
		if m.SenderID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// firstString returns the first path that resolves to a non-empty scalar
func firstString(value map[string]any, paths []fieldPath) string {
	for _, p := range paths {
		if s, ok := scalarString(lookup(value, p)); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstBool(value map[string]any, paths []fieldPath) bool {
	for _, p := range paths {
		if b, ok := lookup(value, p).(bool); ok {
			return b
		}
	}
	return false
}

func lookup(value map[string]any, path fieldPath) any {
	var cur any = value
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

// scalarString renders strings and numbers; objects and arrays do not
// count, so {"media":{...}} never satisfies the bare "media" path.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}
