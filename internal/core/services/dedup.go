package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
)

// Deduplicator suppresses redelivered webhooks on two layers: the raw body
// hash (exact retransmission) and the business event id (same comment in a
// differently shaped envelope). Each check marks the key in the same store
// call, so two interleaved deliveries cannot both pass.
type Deduplicator struct {
	store    ports.DedupStore
	bodyTTL  time.Duration
	eventTTL time.Duration
}

// NewDeduplicator creates a deduplicator over the given store
func NewDeduplicator(store ports.DedupStore, bodyTTL, eventTTL time.Duration) *Deduplicator {
	return &Deduplicator{
		store:    store,
		bodyTTL:  bodyTTL,
		eventTTL: eventTTL,
	}
}

// SeenBody reports whether an identical payload was accepted within the body TTL
func (d *Deduplicator) SeenBody(ctx context.Context, rawBody []byte) bool {
	return d.seenOrMark(ctx, bodyKey(rawBody), d.bodyTTL)
}

// SeenEvent reports whether the event id of this kind was already accepted
func (d *Deduplicator) SeenEvent(ctx context.Context, kind domain.EventKind, id string) bool {
	if id == "" {
		return false
	}
	return d.seenOrMark(ctx, eventKey(kind, id), d.eventTTL)
}

// Release forgets the body and event markers of a delivery whose replies
// all failed, so a platform redelivery gets another attempt
func (d *Deduplicator) Release(ctx context.Context, rawBody []byte, kind domain.EventKind, id string) {
	keys := []string{bodyKey(rawBody)}
	if id != "" {
		keys = append(keys, eventKey(kind, id))
	}
	for _, k := range keys {
		if err := d.store.Release(ctx, k); err != nil {
			slog.Warn("Failed to release dedup marker", "error", err, "key", k)
		}
	}
}

func bodyKey(rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return "body:" + hex.EncodeToString(sum[:])
}

func eventKey(kind domain.EventKind, id string) string {
	return "event:" + string(kind) + ":" + id
}

// seenOrMark fails open: a store error is logged and the delivery is
// processed, the send ledger still guards against a duplicate reply.
func (d *Deduplicator) seenOrMark(ctx context.Context, key string, ttl time.Duration) bool {
	dup, err := d.store.SeenOrMark(ctx, key, ttl)
	if err != nil {
		slog.Warn("Dedup store unavailable, processing delivery",
			"error", err,
			"key", key,
		)
		return false
	}
	return dup
}
