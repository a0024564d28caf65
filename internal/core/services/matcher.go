package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
)

// Matcher resolves the rules bound to a comment's media and applies each
// rule's keyword policy
type Matcher struct {
	rules      ports.RuleRepository
	media      ports.MediaLookup
	ownerScope string
}

// NewMatcher creates a matcher. An empty ownerScope matches rules of all owners.
func NewMatcher(rules ports.RuleRepository, media ports.MediaLookup, ownerScope string) *Matcher {
	return &Matcher{
		rules:      rules,
		media:      media,
		ownerScope: ownerScope,
	}
}

// Match returns every firing rule in retrieval order (oldest first).
// A failed permalink lookup yields no match; only rule store errors are returned.
func (m *Matcher) Match(ctx context.Context, ev *domain.CommentEvent) ([]domain.Match, error) {
	ctx, span := tracer.Start(ctx, "Matcher.Match")
	defer span.End()
	span.SetAttributes(attribute.String("media.id", ev.MediaID))

	rules, err := m.resolveBinding(ctx, ev.MediaID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("rules.candidates", len(rules)))
	if len(rules) == 0 {
		span.SetAttributes(attribute.Int("matches.count", 0))
		slog.Info("No automation bound to media", "media_id", ev.MediaID)
		return nil, nil
	}

	matches := make([]domain.Match, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.AnyKeyword {
			matches = append(matches, domain.Match{Rule: rule})
			continue
		}
		kw, ok := domain.MatchKeyword(rule.Keywords, ev.Text)
		if !ok {
			slog.Debug("Keywords did not match",
				"rule_id", rule.ID,
				"comment_id", ev.CommentID,
			)
			continue
		}
		matches = append(matches, domain.Match{Rule: rule, MatchedKeyword: kw})
	}

	span.SetAttributes(attribute.Int("matches.count", len(matches)))
	slog.Info("Rules matched",
		"media_id", ev.MediaID,
		"comment_id", ev.CommentID,
		"candidates", len(rules),
		"matched", len(matches),
	)
	return matches, nil
}

// resolveBinding looks up rules by media id, then by the media's permalink
func (m *Matcher) resolveBinding(ctx context.Context, mediaID string) ([]domain.AutomationRule, error) {
	rules, err := m.rules.FindActiveByMedia(ctx, m.ownerScope, mediaID)
	if err != nil {
		return nil, fmt.Errorf("find rules by media: %w", err)
	}
	if len(rules) > 0 || m.media == nil {
		return rules, nil
	}

	permalink, err := m.media.MediaPermalink(ctx, mediaID)
	if err != nil {
		slog.Warn("Permalink resolution failed",
			"media_id", mediaID,
			"error", err,
		)
		return nil, nil
	}
	permalink = strings.TrimSpace(permalink)
	if permalink == "" {
		return nil, nil
	}

	rules, err = m.rules.FindActiveByPermalink(ctx, m.ownerScope, permalink)
	if err != nil {
		return nil, fmt.Errorf("find rules by permalink: %w", err)
	}
	slog.Debug("Resolved media permalink", "media_id", mediaID, "permalink", permalink, "rules", len(rules))
	return rules, nil
}
