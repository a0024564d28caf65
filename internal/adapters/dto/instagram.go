// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WebhookEnvelope is the top-level webhook payload from Meta
// Ref: https://developers.facebook.com/docs/instagram-platform/webhooks
type WebhookEnvelope struct {
	Object string  `json:"object"` // "instagram" for IG business accounts
	Entry  []Entry `json:"entry"`
}

// Entry represents a single account's batch of events
type Entry struct {
	ID        string      `json:"id"`   // IG business account id
	Time      json.Number `json:"time"` // Event timestamp
	Changes   []Change    `json:"changes,omitempty"`
	Messaging []Messaging `json:"messaging,omitempty"`
}

// Change is one field-subscription event ("comments", "messages", ...).
// Value is kept as a generic tree because its shape differs between
// API generations; the normalizer extracts fields from it.
type Change struct {
	Field string         `json:"field"`
	Value map[string]any `json:"value"`
}

// Messaging represents a single messaging event
// Can be a message, delivery receipt, read receipt, or echo
type Messaging struct {
	Sender    User  `json:"sender"`
	Recipient User  `json:"recipient"`
	Timestamp int64 `json:"timestamp"`

	Message  *Message  `json:"message,omitempty"`
	Delivery *Delivery `json:"delivery,omitempty"`
	Read     *Read     `json:"read,omitempty"`
}

// User represents a sender or recipient (IGSID)
type User struct {
	ID string `json:"id"`
}

// Message represents the actual message content
type Message struct {
	MID  string `json:"mid"`
	Text string `json:"text"`

	// IsEcho indicates this message was sent BY the account, not TO it
	IsEcho bool `json:"is_echo,omitempty"`
}

// Delivery represents a delivery confirmation
type Delivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

// Read represents a read confirmation
type Read struct {
	Watermark int64 `json:"watermark"`
}

// IsUserMessage determines if this messaging event is an actual user message
// Returns false for: echo messages, delivery receipts, read receipts
func (m *Messaging) IsUserMessage() bool {
	if m.Message == nil {
		return false
	}
	if m.Message.IsEcho {
		return false
	}
	if m.Delivery != nil || m.Read != nil {
		return false
	}
	return true
}

// ParseEnvelope decodes a raw webhook body. Numbers are kept as json.Number
// so numeric ids survive without float rounding.
func ParseEnvelope(raw []byte) (*WebhookEnvelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var env WebhookEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	return &env, nil
}
