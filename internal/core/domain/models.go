// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"time"
)

// LinkCard is a titled link attached to an automation reply
type LinkCard struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CarouselCard is one bubble of a generic-template DM
type CarouselCard struct {
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	CTATitle string `json:"ctaTitle,omitempty"`
	CTAURL   string `json:"ctaUrl,omitempty"`
}

// AutomationRule binds a media item to a keyword policy and a reply payload.
// Owned by the rule store; the webhook pipeline only reads active rules.
type AutomationRule struct {
	ID               string         `json:"id" db:"id"`
	OwnerID          string         `json:"ownerId" db:"owner_id"`
	IGMediaID        string         `json:"igMediaId" db:"ig_media_id"`
	IGMediaPermalink string         `json:"igMediaPermalink,omitempty" db:"ig_media_permalink"`
	IGMediaThumb     string         `json:"igMediaThumb,omitempty" db:"ig_media_thumb"`
	AnyKeyword       bool           `json:"anyKeyword" db:"any_keyword"`
	Keywords         []string       `json:"keywords" db:"keywords"` // normalized, see NormalizeKeywords
	MessageText      string         `json:"messageText" db:"message_text"`
	Links            []LinkCard     `json:"links" db:"links"`
	Carousel         []CarouselCard `json:"carousel" db:"carousel"`
	IsActive         bool           `json:"isActive" db:"is_active"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time      `json:"updatedAt" db:"updated_at"`
}

// HasCards reports whether the rule carries anything renderable as a carousel
func (r *AutomationRule) HasCards() bool {
	return len(r.Carousel) > 0 || len(r.Links) > 0
}

// SendRecord is the idempotency ledger row: at most one per (RuleID, CommenterID)
type SendRecord struct {
	ID          int64     `json:"id" db:"id"`
	RuleID      string    `json:"automationId" db:"automation_id"`
	CommenterID string    `json:"commenterIgUserId" db:"commenter_ig_user_id"`
	IGCommentID string    `json:"igCommentId" db:"ig_comment_id"`
	SentAt      time.Time `json:"sentAt" db:"sent_at"`
}

// WebhookLog represents the audit trail for incoming webhook deliveries
type WebhookLog struct {
	ID          int64           `json:"id" db:"id"`
	Platform    string          `json:"platform" db:"platform"`
	PayloadJSON json.RawMessage `json:"payload_json" db:"payload_json"`
	Status      string          `json:"status" db:"status"` // "pending", "processed", "failed", "duplicate"
	RetryCount  int             `json:"retry_count" db:"retry_count"`
	ErrorLog    *string         `json:"error_log,omitempty" db:"error_log"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// WebhookStatus constants for lifecycle management
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
	WebhookStatusDuplicate = "duplicate"
)

// PlatformInstagram is the only webhook source handled
const PlatformInstagram = "instagram"
