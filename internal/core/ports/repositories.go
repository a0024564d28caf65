// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"errors"
	"time"

	"ig-autoreply/internal/core/domain"
)

var (
	// ErrNotFound is returned by stores when the requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSend is returned by SendLedger.Insert when a record for the
	// same (rule, commenter) pair already exists
	ErrDuplicateSend = errors.New("send record already exists")
)

// RuleRepository reads automation rules for the matcher.
// An empty ownerScope means rules of every owner.
type RuleRepository interface {
	// FindActiveByMedia returns active rules bound to the media id, oldest first
	FindActiveByMedia(ctx context.Context, ownerScope, mediaID string) ([]domain.AutomationRule, error)

	// FindActiveByPermalink returns active rules bound to the media permalink, oldest first
	FindActiveByPermalink(ctx context.Context, ownerScope, permalink string) ([]domain.AutomationRule, error)
}

// RuleAdminRepository is the write side used by the automation CRUD API
type RuleAdminRepository interface {
	CreateRule(ctx context.Context, rule *domain.AutomationRule) error
	ListRules(ctx context.Context, ownerID string) ([]domain.AutomationRule, error)
	GetRule(ctx context.Context, ownerID, id string) (*domain.AutomationRule, error)
	UpdateRule(ctx context.Context, rule *domain.AutomationRule) error
	DeleteRule(ctx context.Context, ownerID, id string) error
}

// SendLedger is the idempotency ledger for outbound replies.
// Uniqueness of (ruleID, commenterID) must be enforced by the storage.
type SendLedger interface {
	// HasSent reports whether a record exists for the pair
	HasSent(ctx context.Context, ruleID, commenterID string) (bool, error)

	// Insert writes a record; returns ErrDuplicateSend on a uniqueness conflict
	Insert(ctx context.Context, rec *domain.SendRecord) error
}

// DedupStore holds short-lived delivery markers
type DedupStore interface {
	// SeenOrMark atomically checks the key and marks it seen with the given TTL.
	// Returns true if the key was already present (a duplicate).
	SeenOrMark(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release removes a marker so a later redelivery is processed again
	Release(ctx context.Context, key string) error
}

// WebhookRepository handles persistence of webhook audit logs
type WebhookRepository interface {
	// SaveLog persists a webhook delivery and returns its id
	SaveLog(ctx context.Context, log *domain.WebhookLog) (int64, error)

	// UpdateStatus moves a log through pending -> processed/failed/duplicate
	UpdateStatus(ctx context.Context, id int64, status string, errorLog *string) error

	// PurgeOlderThan deletes at most limit logs created before cutoff
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
