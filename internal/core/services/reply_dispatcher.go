package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
)

const (
	// Graph generic template limits
	maxCarouselCards = 10
	maxCardText      = 80

	defaultCardTitle = "Link"
	defaultCTATitle  = "Open"
	linkCTATitle     = "Open Link"

	// Instagram only nests replies one level; the cap stops a lookup loop
	maxParentDepth = 5

	catalogCardTitle    = "Browse our products"
	catalogCardSubtitle = "Tap below to view the full catalog"
	catalogCTATitle     = "View all products"

	// CatalogReplyID labels direct-message catalog replies in results and logs
	CatalogReplyID = "dm-catalog"
)

var tracer = otel.Tracer("ig-autoreply/services")

// ReplyDispatcher runs the reply fallback chain for one matched rule and
// records successful sends in the ledger
type ReplyDispatcher struct {
	messenger   ports.Messenger
	comments    ports.CommentLookup
	ledger      ports.SendLedger
	defaultText string
	now         func() time.Time

	catalogURL   string // empty = no reply to direct messages
	catalogImage string
}

// NewReplyDispatcher creates a dispatcher. defaultText is sent when a rule
// has no message text of its own.
func NewReplyDispatcher(
	messenger ports.Messenger,
	comments ports.CommentLookup,
	ledger ports.SendLedger,
	defaultText string,
) *ReplyDispatcher {
	return &ReplyDispatcher{
		messenger:   messenger,
		comments:    comments,
		ledger:      ledger,
		defaultText: defaultText,
		now:         time.Now,
	}
}

// WithCatalog enables the catalog card sent in reply to direct messages
func (d *ReplyDispatcher) WithCatalog(catalogURL, imageURL string) *ReplyDispatcher {
	d.catalogURL = strings.TrimSpace(catalogURL)
	d.catalogImage = strings.TrimSpace(imageURL)
	return d
}

// CatalogEnabled reports whether direct messages get a catalog reply
func (d *ReplyDispatcher) CatalogEnabled() bool {
	return d.catalogURL != ""
}

// ReplyToMessage answers a direct message with the catalog card. There is
// no ledger entry: every new message gets the card once.
func (d *ReplyDispatcher) ReplyToMessage(ctx context.Context, m *domain.MessageEvent) domain.Result {
	ctx, span := tracer.Start(ctx, "ReplyDispatcher.ReplyToMessage")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", m.MessageID))

	res := domain.Result{RuleID: CatalogReplyID, CommenterID: m.SenderID}
	elements := BuildCatalogCard(d.catalogURL, d.catalogImage)
	if m.SenderID == "" || len(elements) == 0 {
		res.Outcome = domain.OutcomeSkipped
		res.Reason = "catalog reply not applicable"
		return res
	}

	a := d.attempt(domain.ActionCarouselDM, m.SenderID, func() error {
		return d.messenger.SendCarousel(ctx, m.SenderID, elements)
	})
	res.Attempts = append(res.Attempts, a)
	if !a.OK() {
		res.Outcome = domain.OutcomeFailed
		res.Reason = "catalog reply failed"
		span.SetStatus(codes.Error, res.Reason)
		return res
	}

	res.Outcome = domain.OutcomeSent
	res.Action = domain.ActionCarouselDM
	slog.Info("Catalog reply delivered",
		"message_id", m.MessageID,
		"recipient_id", m.SenderID,
	)
	return res
}

// Dispatch delivers at most one reply for (rule, commenter).
// Chain: carousel DM (plus text follow-up) -> private reply on the
// top-level comment -> public reply on the triggering comment.
func (d *ReplyDispatcher) Dispatch(ctx context.Context, ev *domain.CommentEvent, m domain.Match) domain.Result {
	rule := m.Rule
	ctx, span := tracer.Start(ctx, "ReplyDispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.String("comment.id", ev.CommentID),
	)

	res := domain.Result{RuleID: rule.ID, CommenterID: ev.CommenterID}

	if ev.CommenterID != "" {
		sent, err := d.ledger.HasSent(ctx, rule.ID, ev.CommenterID)
		if err != nil {
			// without the ledger a send could repeat; a redelivery retries
			slog.Error("Send ledger check failed, not replying",
				"rule_id", rule.ID,
				"commenter_id", ev.CommenterID,
				"error", err,
			)
			span.SetStatus(codes.Error, "ledger check failed")
			res.Outcome = domain.OutcomeFailed
			res.Reason = "ledger check failed"
			return res
		}
		if sent {
			slog.Info("Already replied to this user for this automation, skipping",
				"rule_id", rule.ID,
				"commenter_id", ev.CommenterID,
			)
			res.Outcome = domain.OutcomeSkipped
			res.Reason = "already sent"
			return res
		}
	}

	text := strings.TrimSpace(rule.MessageText)
	if text == "" {
		text = d.defaultText
	}

	if action, ok := d.runChain(ctx, ev, &rule, text, &res); ok {
		res.Outcome = domain.OutcomeSent
		res.Action = action
		d.record(ctx, ev, rule.ID)
		span.SetAttributes(attribute.String("reply.action", string(action)))
		slog.Info("Reply delivered",
			"rule_id", rule.ID,
			"comment_id", ev.CommentID,
			"commenter_id", ev.CommenterID,
			"action", action,
			"keyword", m.MatchedKeyword,
		)
		return res
	}

	res.Outcome = domain.OutcomeFailed
	res.Reason = "all reply attempts failed"
	span.SetStatus(codes.Error, res.Reason)
	slog.Error("All reply attempts failed",
		"rule_id", rule.ID,
		"comment_id", ev.CommentID,
		"commenter_id", ev.CommenterID,
		"attempts", describeAttempts(res.Attempts),
	)
	return res
}

func (d *ReplyDispatcher) runChain(
	ctx context.Context,
	ev *domain.CommentEvent,
	rule *domain.AutomationRule,
	text string,
	res *domain.Result,
) (domain.ReplyAction, bool) {
	if rule.HasCards() {
		a := d.sendCarousel(ctx, ev.CommenterID, rule, text)
		res.Attempts = append(res.Attempts, a)
		if a.OK() {
			if strings.TrimSpace(rule.MessageText) != "" {
				follow := d.attempt(domain.ActionTextDM, ev.CommenterID, func() error {
					return d.messenger.SendDirectText(ctx, ev.CommenterID, text)
				})
				res.Attempts = append(res.Attempts, follow)
				if !follow.OK() {
					slog.Warn("Text follow-up after carousel failed",
						"rule_id", rule.ID,
						"recipient_id", ev.CommenterID,
						"error", follow.Err,
					)
				}
			}
			return domain.ActionCarouselDM, true
		}
	}

	target := d.topLevelComment(ctx, ev)
	a := d.attempt(domain.ActionPrivateReply, target, func() error {
		return d.messenger.SendPrivateReply(ctx, target, text)
	})
	res.Attempts = append(res.Attempts, a)
	if a.OK() {
		return domain.ActionPrivateReply, true
	}

	a = d.attempt(domain.ActionPublicReply, ev.CommentID, func() error {
		return d.messenger.SendPublicReply(ctx, ev.CommentID, text)
	})
	res.Attempts = append(res.Attempts, a)
	if a.OK() {
		return domain.ActionPublicReply, true
	}
	return "", false
}

func (d *ReplyDispatcher) sendCarousel(ctx context.Context, recipientID string, rule *domain.AutomationRule, text string) domain.Attempt {
	if recipientID == "" {
		return domain.Attempt{Action: domain.ActionCarouselDM, Err: domain.ErrNotAttempted}
	}
	elements := BuildCarousel(rule, text)
	if len(elements) == 0 {
		return domain.Attempt{Action: domain.ActionCarouselDM, Target: recipientID, Err: domain.ErrNotAttempted}
	}
	return d.attempt(domain.ActionCarouselDM, recipientID, func() error {
		return d.messenger.SendCarousel(ctx, recipientID, elements)
	})
}

// attempt runs one send and converts its outcome into an Attempt
func (d *ReplyDispatcher) attempt(action domain.ReplyAction, target string, send func() error) domain.Attempt {
	err := send()
	if err != nil {
		slog.Warn("Reply attempt failed",
			"action", action,
			"target", target,
			"error", err,
		)
	}
	return domain.Attempt{Action: action, Target: target, Err: err}
}

// topLevelComment walks the parent chain. On a lookup error the last
// known id is used and the platform decides.
func (d *ReplyDispatcher) topLevelComment(ctx context.Context, ev *domain.CommentEvent) string {
	current := ev.CommentID
	if ev.ParentID != "" {
		current = ev.ParentID
	}
	if d.comments == nil {
		return current
	}

	for i := 0; i < maxParentDepth; i++ {
		parent, err := d.comments.CommentParent(ctx, current)
		if err != nil {
			slog.Warn("Parent comment lookup failed",
				"comment_id", current,
				"error", err,
			)
			return current
		}
		if parent == "" || parent == current {
			return current
		}
		current = parent
	}
	return current
}

// record writes the ledger row. A uniqueness conflict means a concurrent
// delivery already recorded this pair.
func (d *ReplyDispatcher) record(ctx context.Context, ev *domain.CommentEvent, ruleID string) {
	if ev.CommenterID == "" {
		return
	}
	err := d.ledger.Insert(ctx, &domain.SendRecord{
		RuleID:      ruleID,
		CommenterID: ev.CommenterID,
		IGCommentID: ev.CommentID,
		SentAt:      d.now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrDuplicateSend):
		slog.Info("Send record already exists", "rule_id", ruleID, "commenter_id", ev.CommenterID)
	default:
		slog.Error("Failed to write send record",
			"rule_id", ruleID,
			"commenter_id", ev.CommenterID,
			"error", err,
		)
	}
}

// BuildCarousel renders a rule's cards as generic template elements.
// Carousel cards win over link cards; links become cards with the media
// thumbnail and the reply text as subtitle.
func BuildCarousel(rule *domain.AutomationRule, text string) []ports.GenericElement {
	var elements []ports.GenericElement

	if len(rule.Carousel) > 0 {
		for _, c := range rule.Carousel {
			title := strings.TrimSpace(c.Title)
			if title == "" {
				title = defaultCardTitle
			}
			el := ports.GenericElement{
				Title:    truncateRunes(title, maxCardText),
				Subtitle: truncateRunes(strings.TrimSpace(c.Subtitle), maxCardText),
				ImageURL: strings.TrimSpace(c.ImageURL),
			}
			if url := strings.TrimSpace(c.CTAURL); url != "" {
				cta := strings.TrimSpace(c.CTATitle)
				if cta == "" {
					cta = defaultCTATitle
				}
				el.Buttons = []ports.GenericButton{{Type: "web_url", URL: url, Title: truncateRunes(cta, maxCardText)}}
			}
			elements = append(elements, el)
			if len(elements) == maxCarouselCards {
				break
			}
		}
		return elements
	}

	for _, l := range rule.Links {
		url := strings.TrimSpace(l.URL)
		if url == "" {
			continue
		}
		title := strings.TrimSpace(l.Title)
		if title == "" {
			title = defaultCardTitle
		}
		elements = append(elements, ports.GenericElement{
			Title:    truncateRunes(title, maxCardText),
			Subtitle: truncateRunes(text, maxCardText),
			ImageURL: rule.IGMediaThumb,
			Buttons:  []ports.GenericButton{{Type: "web_url", URL: url, Title: linkCTATitle}},
		})
		if len(elements) == maxCarouselCards {
			break
		}
	}
	return elements
}

// BuildCatalogCard renders the single card linking to the catalog; nil
// when catalogURL is empty
func BuildCatalogCard(catalogURL, imageURL string) []ports.GenericElement {
	catalogURL = strings.TrimSpace(catalogURL)
	if catalogURL == "" {
		return nil
	}
	return []ports.GenericElement{{
		Title:    catalogCardTitle,
		Subtitle: catalogCardSubtitle,
		ImageURL: strings.TrimSpace(imageURL),
		Buttons:  []ports.GenericButton{{Type: "web_url", URL: catalogURL, Title: catalogCTATitle}},
	}}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func describeAttempts(attempts []domain.Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		status := "ok"
		if a.Err != nil {
			status = a.Err.Error()
		}
		parts = append(parts, fmt.Sprintf("%s(%s): %s", a.Action, a.Target, status))
	}
	return strings.Join(parts, "; ")
}
