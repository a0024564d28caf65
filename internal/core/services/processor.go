// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ig-autoreply/internal/adapters/dto"
	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
	"ig-autoreply/internal/observability"
)

// Identity names the business account so its own comments and messages
// are not answered
type Identity struct {
	BusinessID string
	Username   string
}

func (id Identity) isSelf(userID, username string) bool {
	if id.BusinessID != "" && userID == id.BusinessID {
		return true
	}
	return id.Username != "" && username != "" && strings.EqualFold(username, id.Username)
}

// Summary describes what one delivery produced
type Summary struct {
	Status  string // a domain.WebhookStatus* value
	Events  int
	Results []domain.Result
}

// Processor runs the webhook pipeline after the signature check:
// audit -> dedup -> normalize -> match -> dispatch
type Processor struct {
	audit    ports.WebhookRepository
	dedup    *Deduplicator
	matcher  *Matcher
	replies  *ReplyDispatcher
	identity Identity
	pause    *PauseSwitch
}

// NewProcessor creates a processor. audit and pause may be nil.
func NewProcessor(
	audit ports.WebhookRepository,
	dedup *Deduplicator,
	matcher *Matcher,
	replies *ReplyDispatcher,
	identity Identity,
	pause *PauseSwitch,
) *Processor {
	return &Processor{
		audit:    audit,
		dedup:    dedup,
		matcher:  matcher,
		replies:  replies,
		identity: identity,
		pause:    pause,
	}
}

// ProcessWebhook processes one verified delivery. It never panics; all
// failures end up in logs, metrics and the audit status.
func (p *Processor) ProcessWebhook(ctx context.Context, payload []byte) (summary Summary) {
	ctx, span := tracer.Start(ctx, "Processor.ProcessWebhook")
	defer span.End()

	logID := p.saveLog(ctx, payload)
	var failures []string

	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in ProcessWebhook", "panic", r)
			summary.Status = domain.WebhookStatusFailed
			failures = append(failures, fmt.Sprintf("panic: %v", r))
		}
		if summary.Status == domain.WebhookStatusFailed {
			span.SetStatus(codes.Error, strings.Join(failures, "; "))
		}
		span.SetAttributes(
			attribute.String("webhook.status", summary.Status),
			attribute.Int("webhook.events", summary.Events),
		)
		observability.ObserveDelivery(summary.Status)
		p.finishLog(logID, summary.Status, failures)
	}()

	if p.dedup.SeenBody(ctx, payload) {
		slog.Info("Duplicate webhook payload, skipping")
		observability.ObserveDuplicate("body")
		summary.Status = domain.WebhookStatusDuplicate
		return summary
	}

	env, err := dto.ParseEnvelope(payload)
	if err != nil {
		slog.Error("Failed to parse webhook JSON", "error", err)
		failures = append(failures, err.Error())
		summary.Status = domain.WebhookStatusFailed
		return summary
	}

	events := Normalize(env)
	summary.Events = len(events)
	if len(events) == 0 {
		slog.Debug("No actionable events in webhook", "object", env.Object)
	}

	for _, ev := range events {
		observability.ObserveEvent(string(ev.Kind))
		switch ev.Kind {
		case domain.EventKindMessage:
			res := p.handleMessage(ctx, ev.Message)
			if res == nil {
				continue
			}
			summary.Results = append(summary.Results, *res)
			if needsRetry([]domain.Result{*res}) {
				p.dedup.Release(ctx, payload, domain.EventKindMessage, ev.Message.MessageID)
			}
		case domain.EventKindComment:
			results, err := p.handleComment(ctx, ev.Comment)
			summary.Results = append(summary.Results, results...)
			if err != nil {
				failures = append(failures, err.Error())
			}
			if err != nil || needsRetry(results) {
				p.dedup.Release(ctx, payload, domain.EventKindComment, ev.Comment.CommentID)
			}
		}
	}

	for _, r := range summary.Results {
		if r.Outcome == domain.OutcomeFailed {
			failures = append(failures, fmt.Sprintf("rule %s: %s", r.RuleID, r.Reason))
		}
	}

	summary.Status = domain.WebhookStatusProcessed
	if len(failures) > 0 {
		summary.Status = domain.WebhookStatusFailed
	}
	slog.Info("Webhook processing completed",
		"events", summary.Events,
		"replies", len(summary.Results),
		"status", summary.Status,
	)
	return summary
}

func (p *Processor) handleComment(ctx context.Context, c *domain.CommentEvent) ([]domain.Result, error) {
	if p.identity.isSelf(c.CommenterID, c.CommenterUsername) {
		slog.Debug("Ignoring own comment", "comment_id", c.CommentID)
		return nil, nil
	}
	if p.dedup.SeenEvent(ctx, domain.EventKindComment, c.CommentID) {
		slog.Info("Comment already handled, skipping", "comment_id", c.CommentID)
		observability.ObserveDuplicate("event")
		return nil, nil
	}

	slog.Info("Comment received",
		"media_id", c.MediaID,
		"comment_id", c.CommentID,
		"commenter_id", c.CommenterID,
		"username", c.CommenterUsername,
	)

	matches, err := p.matcher.Match(ctx, c)
	if err != nil {
		slog.Error("Rule matching failed", "comment_id", c.CommentID, "error", err)
		return nil, err
	}
	observability.ObserveMatches(len(matches))

	results := make([]domain.Result, 0, len(matches))
	for _, m := range matches {
		var res domain.Result
		if p.pause.IsPaused() {
			slog.Info("Auto-replies paused, not replying", "rule_id", m.Rule.ID, "comment_id", c.CommentID)
			res = domain.Result{
				RuleID:      m.Rule.ID,
				CommenterID: c.CommenterID,
				Outcome:     domain.OutcomeSkipped,
				Reason:      reasonPaused,
			}
		} else {
			res = p.dispatchSafe(ctx, c, m)
		}
		observability.ObserveReply(string(res.Outcome), string(res.Action))
		for _, a := range res.Attempts {
			if !errors.Is(a.Err, domain.ErrNotAttempted) {
				observability.ObserveSendAttempt(string(a.Action), a.OK())
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// dispatchSafe isolates a rule so a panic does not abort sibling rules
func (p *Processor) dispatchSafe(ctx context.Context, c *domain.CommentEvent, m domain.Match) (res domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in reply dispatch",
				"panic", r,
				"rule_id", m.Rule.ID,
				"comment_id", c.CommentID,
			)
			res = domain.Result{
				RuleID:      m.Rule.ID,
				CommenterID: c.CommenterID,
				Outcome:     domain.OutcomeFailed,
				Reason:      fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return p.replies.Dispatch(ctx, c, m)
}

// handleMessage logs a direct message and, when a catalog is configured,
// answers it. nil means nothing was attempted.
func (p *Processor) handleMessage(ctx context.Context, m *domain.MessageEvent) *domain.Result {
	if p.identity.isSelf(m.SenderID, "") {
		return nil
	}
	if p.dedup.SeenEvent(ctx, domain.EventKindMessage, m.MessageID) {
		slog.Info("Message already handled, skipping", "message_id", m.MessageID)
		observability.ObserveDuplicate("event")
		return nil
	}
	preview := m.Text
	if r := []rune(preview); len(r) > 50 {
		preview = string(r[:50]) + "..."
	}
	slog.Info("Direct message received",
		"message_id", m.MessageID,
		"sender_id", m.SenderID,
		"content_preview", preview,
	)

	if !p.replies.CatalogEnabled() {
		return nil
	}

	var res domain.Result
	if p.pause.IsPaused() {
		slog.Info("Auto-replies paused, not answering message", "message_id", m.MessageID)
		res = domain.Result{
			RuleID:      CatalogReplyID,
			CommenterID: m.SenderID,
			Outcome:     domain.OutcomeSkipped,
			Reason:      reasonPaused,
		}
	} else {
		res = p.replies.ReplyToMessage(ctx, m)
	}
	observability.ObserveReply(string(res.Outcome), string(res.Action))
	for _, a := range res.Attempts {
		observability.ObserveSendAttempt(string(a.Action), a.OK())
	}
	return &res
}

const reasonPaused = "paused"

// needsRetry reports whether a redelivery of the comment should be processed again
func needsRetry(results []domain.Result) bool {
	for _, r := range results {
		if r.Outcome == domain.OutcomeFailed || r.Reason == reasonPaused {
			return true
		}
	}
	return false
}

// saveLog writes the pending audit row; 0 means no row
func (p *Processor) saveLog(ctx context.Context, payload []byte) int64 {
	if p.audit == nil {
		return 0
	}
	log := &domain.WebhookLog{
		Platform:   domain.PlatformInstagram,
		Status:     domain.WebhookStatusPending,
		CreatedAt:  time.Now(),
		RetryCount: 0,
	}
	if json.Valid(payload) {
		log.PayloadJSON = json.RawMessage(payload)
	} else {
		log.PayloadJSON, _ = json.Marshal(string(payload))
	}

	id, err := p.audit.SaveLog(ctx, log)
	if err != nil {
		slog.Error("Failed to save webhook log", "error", err)
		return 0
	}
	return id
}

func (p *Processor) finishLog(id int64, status string, failures []string) {
	if p.audit == nil || id == 0 {
		return
	}
	var errorLog *string
	if len(failures) > 0 {
		s := strings.Join(failures, "; ")
		errorLog = &s
	}
	// own context: the caller's may already be done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.audit.UpdateStatus(ctx, id, status, errorLog); err != nil {
		slog.Error("Failed to update webhook status",
			"error", err,
			"webhook_id", id,
			"status", status,
		)
	}
}
