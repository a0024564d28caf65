package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ig-autoreply/internal/adapters/cache"
	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type processorDeps struct {
	audit     *MockWebhookRepository
	rules     *MockRuleRepository
	media     *MockMediaLookup
	comments  *MockCommentLookup
	messenger *MockMessenger
	ledger    *memoryLedger
	pause     *PauseSwitch
}

// createTestProcessor wires a processor over mocks and an in-memory dedup store
func createTestProcessor(identity Identity) (*Processor, *processorDeps) {
	deps := &processorDeps{
		audit:     new(MockWebhookRepository),
		rules:     new(MockRuleRepository),
		media:     new(MockMediaLookup),
		comments:  new(MockCommentLookup),
		messenger: new(MockMessenger),
		ledger:    newMemoryLedger(),
		pause:     NewPauseSwitch(),
	}
	dedup := NewDeduplicator(cache.NewMemoryStore(1000), 10*time.Minute, 24*time.Hour)
	p := NewProcessor(
		deps.audit,
		dedup,
		NewMatcher(deps.rules, deps.media, ""),
		NewReplyDispatcher(deps.messenger, deps.comments, deps.ledger, defaultReply),
		identity,
		deps.pause,
	)
	return p, deps
}

func (d *processorDeps) expectAudit(status string) {
	d.audit.On("SaveLog", mock.Anything, mock.AnythingOfType("*domain.WebhookLog")).Return(7, nil)
	d.audit.On("UpdateStatus", mock.Anything, int64(7), status, mock.Anything).Return(nil)
}

const saleComment = `{"object":"instagram","entry":[{"id":"BIZ","time":1700000000,"changes":[{"field":"comments","value":{
	"media_id":"M1","comment_id":"C1","from":{"id":"U1","username":"alice"},"text":"is there a SALE today?"}}]}]}`

func saleRule() domain.AutomationRule {
	r := rule("rule-1", false, "sale")
	r.MessageText = "Thanks!"
	return r
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestProcessWebhook_EndToEndPrivateReply(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ"})
	deps.expectAudit(domain.WebhookStatusProcessed)
	deps.rules.On("FindActiveByMedia", mock.Anything, "", "M1").Return([]domain.AutomationRule{saleRule()}, nil)
	deps.comments.On("CommentParent", mock.Anything, "C1").Return("C0", nil)
	deps.comments.On("CommentParent", mock.Anything, "C0").Return("", nil)
	deps.messenger.On("SendPrivateReply", mock.Anything, "C0", "Thanks!").Return(nil).Once()

	summary := p.ProcessWebhook(context.Background(), []byte(saleComment))

	assert.Equal(t, domain.WebhookStatusProcessed, summary.Status)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, domain.OutcomeSent, summary.Results[0].Outcome)
	deps.messenger.AssertExpectations(t)
	deps.audit.AssertExpectations(t)

	recs := deps.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "rule-1", recs[0].RuleID)
	assert.Equal(t, "U1", recs[0].CommenterID)
	assert.Equal(t, "C1", recs[0].IGCommentID)
}

func TestProcessWebhook_DuplicatePayloadIsNotProcessed(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.audit.On("SaveLog", mock.Anything, mock.Anything).Return(7, nil)
	deps.audit.On("UpdateStatus", mock.Anything, int64(7), mock.Anything, mock.Anything).Return(nil)
	deps.rules.On("FindActiveByMedia", mock.Anything, "", "M1").Return([]domain.AutomationRule{saleRule()}, nil)
	deps.comments.On("CommentParent", mock.Anything, "C1").Return("", nil)
	deps.messenger.On("SendPrivateReply", mock.Anything, "C1", "Thanks!").Return(nil)

	first := p.ProcessWebhook(context.Background(), []byte(saleComment))
	second := p.ProcessWebhook(context.Background(), []byte(saleComment))

	assert.Equal(t, domain.WebhookStatusProcessed, first.Status)
	assert.Equal(t, domain.WebhookStatusDuplicate, second.Status)
	assert.Zero(t, second.Events)
	deps.rules.AssertNumberOfCalls(t, "FindActiveByMedia", 1)
	deps.messenger.AssertNumberOfCalls(t, "SendPrivateReply", 1)
	deps.audit.AssertCalled(t, "UpdateStatus", mock.Anything, int64(7), domain.WebhookStatusDuplicate, mock.Anything)
}

func TestProcessWebhook_SameCommentInDifferentEnvelope(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.audit.On("SaveLog", mock.Anything, mock.Anything).Return(0, errors.New("audit down"))
	deps.rules.On("FindActiveByMedia", mock.Anything, "", "M1").Return([]domain.AutomationRule{saleRule()}, nil)
	deps.comments.On("CommentParent", mock.Anything, "C1").Return("", nil)
	deps.messenger.On("SendPrivateReply", mock.Anything, "C1", "Thanks!").Return(nil)

	p.ProcessWebhook(context.Background(), []byte(saleComment))
	reshaped := `{"object":"instagram","entry":[{"id":"BIZ","changes":[{"field":"comments","value":{
		"id":"C1","media":{"id":"M1"},"from":{"id":"U1"},"text":"is there a SALE today?"}}]}]}`
	summary := p.ProcessWebhook(context.Background(), []byte(reshaped))

	assert.Equal(t, domain.WebhookStatusProcessed, summary.Status)
	assert.Empty(t, summary.Results)
	deps.messenger.AssertNumberOfCalls(t, "SendPrivateReply", 1)
	deps.audit.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWebhook_FailedRepliesAllowRedelivery(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.audit.On("SaveLog", mock.Anything, mock.Anything).Return(7, nil)
	deps.audit.On("UpdateStatus", mock.Anything, int64(7), mock.Anything, mock.Anything).Return(nil)
	deps.rules.On("FindActiveByMedia", mock.Anything, "", "M1").Return([]domain.AutomationRule{saleRule()}, nil)
	deps.comments.On("CommentParent", mock.Anything, "C1").Return("", nil)
	deps.messenger.On("SendPrivateReply", mock.Anything, "C1", "Thanks!").Return(errors.New("timeout")).Once()
	deps.messenger.On("SendPublicReply", mock.Anything, "C1", "Thanks!").Return(errors.New("timeout")).Once()
	deps.messenger.On("SendPrivateReply", mock.Anything, "C1", "Thanks!").Return(nil).Once()

	first := p.ProcessWebhook(context.Background(), []byte(saleComment))
	assert.Equal(t, domain.WebhookStatusFailed, first.Status)
	assert.Empty(t, deps.ledger.all())
	deps.audit.AssertCalled(t, "UpdateStatus", mock.Anything, int64(7), domain.WebhookStatusFailed, mock.MatchedBy(func(s *string) bool {
		return s != nil && *s != ""
	}))

	second := p.ProcessWebhook(context.Background(), []byte(saleComment))
	assert.Equal(t, domain.WebhookStatusProcessed, second.Status)
	assert.Len(t, deps.ledger.all(), 1)
}

func TestProcessWebhook_OwnCommentIgnored(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ", Username: "shop"})
	deps.expectAudit(domain.WebhookStatusProcessed)

	payload := `{"object":"instagram","entry":[{"id":"BIZ","changes":[{"field":"comments","value":{
		"id":"C9","media_id":"M1","from":{"id":"OTHER","username":"Shop"},"text":"sale"}}]}]}`
	summary := p.ProcessWebhook(context.Background(), []byte(payload))

	assert.Equal(t, 1, summary.Events)
	assert.Empty(t, summary.Results)
	deps.rules.AssertNotCalled(t, "FindActiveByMedia", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWebhook_InvalidJSON(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.expectAudit(domain.WebhookStatusFailed)

	var summary Summary
	assert.NotPanics(t, func() {
		summary = p.ProcessWebhook(context.Background(), []byte(`{"invalid json`))
	})
	assert.Equal(t, domain.WebhookStatusFailed, summary.Status)
	deps.audit.AssertExpectations(t)
}

func TestProcessWebhook_OtherObjectIsIgnored(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.expectAudit(domain.WebhookStatusProcessed)

	summary := p.ProcessWebhook(context.Background(), []byte(`{"object":"page","entry":[]}`))
	assert.Zero(t, summary.Events)
	assert.Equal(t, domain.WebhookStatusProcessed, summary.Status)
}

func TestProcessWebhook_MessagesAreLoggedOnly(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ"})
	deps.expectAudit(domain.WebhookStatusProcessed)

	payload := `{"object":"instagram","entry":[{"id":"BIZ","messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"BIZ"},"timestamp":1,"message":{"mid":"m1","text":"hi"}},
		{"sender":{"id":"BIZ"},"recipient":{"id":"U1"},"timestamp":2,"message":{"mid":"m2","text":"auto","is_echo":true}}
	]}]}`
	summary := p.ProcessWebhook(context.Background(), []byte(payload))

	assert.Equal(t, 1, summary.Events)
	assert.Empty(t, deps.messenger.Calls)
}

const catalogDM = `{"object":"instagram","entry":[{"id":"BIZ","time":1700000000,"changes":[{"field":"messages","value":{
	"mid":"m1","from":{"id":"U9"},"text":"VIEW"}}]}]}`

func catalogCard() []ports.GenericElement {
	return BuildCatalogCard("https://shop.test/catalog", "https://shop.test/cover.jpg")
}

func TestProcessWebhook_DirectMessageGetsCatalogCard(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ"})
	p.replies.WithCatalog("https://shop.test/catalog", "https://shop.test/cover.jpg")
	deps.expectAudit(domain.WebhookStatusProcessed)
	deps.messenger.On("SendCarousel", mock.Anything, "U9", catalogCard()).Return(nil).Once()

	summary := p.ProcessWebhook(context.Background(), []byte(catalogDM))

	assert.Equal(t, domain.WebhookStatusProcessed, summary.Status)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, domain.OutcomeSent, summary.Results[0].Outcome)
	assert.Equal(t, domain.ActionCarouselDM, summary.Results[0].Action)
	assert.Equal(t, CatalogReplyID, summary.Results[0].RuleID)
	deps.messenger.AssertExpectations(t)
	assert.Empty(t, deps.ledger.all())
}

func TestProcessWebhook_DirectMessageWithoutCatalog(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ"})
	deps.expectAudit(domain.WebhookStatusProcessed)

	summary := p.ProcessWebhook(context.Background(), []byte(catalogDM))

	assert.Equal(t, 1, summary.Events)
	assert.Empty(t, summary.Results)
	assert.Empty(t, deps.messenger.Calls)
}

func TestProcessWebhook_OwnMessageGetsNoCatalog(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "U9"})
	p.replies.WithCatalog("https://shop.test/catalog", "")
	deps.expectAudit(domain.WebhookStatusProcessed)

	p.ProcessWebhook(context.Background(), []byte(catalogDM))
	assert.Empty(t, deps.messenger.Calls)
}

func TestProcessWebhook_RedeliveredMessageAnsweredOnce(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ"})
	p.replies.WithCatalog("https://shop.test/catalog", "https://shop.test/cover.jpg")
	deps.audit.On("SaveLog", mock.Anything, mock.Anything).Return(7, nil)
	deps.audit.On("UpdateStatus", mock.Anything, int64(7), mock.Anything, mock.Anything).Return(nil)
	deps.messenger.On("SendCarousel", mock.Anything, "U9", catalogCard()).Return(nil)

	p.ProcessWebhook(context.Background(), []byte(catalogDM))
	// same message in a different envelope
	again := `{"object":"instagram","entry":[{"id":"BIZ","time":1700000099,"changes":[{"field":"messages","value":{
		"mid":"m1","from":{"id":"U9"},"text":"VIEW"}}]}]}`
	p.ProcessWebhook(context.Background(), []byte(again))

	deps.messenger.AssertNumberOfCalls(t, "SendCarousel", 1)
}

func TestProcessWebhook_FailedCatalogReplyIsRetriedOnRedelivery(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ"})
	p.replies.WithCatalog("https://shop.test/catalog", "")
	deps.audit.On("SaveLog", mock.Anything, mock.Anything).Return(7, nil)
	deps.audit.On("UpdateStatus", mock.Anything, int64(7), mock.Anything, mock.Anything).Return(nil)
	deps.messenger.On("SendCarousel", mock.Anything, "U9", mock.Anything).Return(errors.New("outside window")).Once()
	deps.messenger.On("SendCarousel", mock.Anything, "U9", mock.Anything).Return(nil).Once()

	first := p.ProcessWebhook(context.Background(), []byte(catalogDM))
	second := p.ProcessWebhook(context.Background(), []byte(catalogDM))

	assert.Equal(t, domain.WebhookStatusFailed, first.Status)
	assert.Equal(t, domain.WebhookStatusProcessed, second.Status)
	deps.messenger.AssertNumberOfCalls(t, "SendCarousel", 2)
}

func TestProcessWebhook_PausedCatalogReply(t *testing.T) {
	p, deps := createTestProcessor(Identity{BusinessID: "BIZ"})
	p.replies.WithCatalog("https://shop.test/catalog", "")
	deps.expectAudit(domain.WebhookStatusProcessed)
	deps.pause.Pause("maintenance", "ops")

	summary := p.ProcessWebhook(context.Background(), []byte(catalogDM))

	require.Len(t, summary.Results, 1)
	assert.Equal(t, domain.OutcomeSkipped, summary.Results[0].Outcome)
	assert.Equal(t, reasonPaused, summary.Results[0].Reason)
	assert.Empty(t, deps.messenger.Calls)
}

func TestProcessWebhook_RuleStoreErrorMarksFailed(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.expectAudit(domain.WebhookStatusFailed)
	deps.rules.On("FindActiveByMedia", mock.Anything, "", "M1").Return(nil, errors.New("db down"))

	summary := p.ProcessWebhook(context.Background(), []byte(saleComment))
	assert.Equal(t, domain.WebhookStatusFailed, summary.Status)
}

func TestProcessWebhook_PanicInOneRuleDoesNotStopSiblings(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.audit.On("SaveLog", mock.Anything, mock.Anything).Return(7, nil)
	deps.audit.On("UpdateStatus", mock.Anything, int64(7), mock.Anything, mock.Anything).Return(nil)

	panicky := saleRule()
	panicky.ID = "rule-panic"
	panicky.MessageText = "boom"
	deps.rules.On("FindActiveByMedia", mock.Anything, "", "M1").Return([]domain.AutomationRule{panicky, saleRule()}, nil)
	deps.comments.On("CommentParent", mock.Anything, "C1").Return("", nil)
	deps.messenger.On("SendPrivateReply", mock.Anything, "C1", "boom").Run(func(args mock.Arguments) {
		panic("simulated panic in send")
	}).Return(nil)
	deps.messenger.On("SendPrivateReply", mock.Anything, "C1", "Thanks!").Return(nil)

	var summary Summary
	assert.NotPanics(t, func() {
		summary = p.ProcessWebhook(context.Background(), []byte(saleComment))
	})

	require.Len(t, summary.Results, 2)
	assert.Equal(t, domain.OutcomeFailed, summary.Results[0].Outcome)
	assert.Equal(t, domain.OutcomeSent, summary.Results[1].Outcome)
	assert.Equal(t, domain.WebhookStatusFailed, summary.Status)
}

func TestProcessWebhook_PausedSendsNothing(t *testing.T) {
	p, deps := createTestProcessor(Identity{})
	deps.audit.On("SaveLog", mock.Anything, mock.Anything).Return(7, nil)
	deps.audit.On("UpdateStatus", mock.Anything, int64(7), mock.Anything, mock.Anything).Return(nil)
	deps.rules.On("FindActiveByMedia", mock.Anything, "", "M1").Return([]domain.AutomationRule{saleRule()}, nil)
	deps.comments.On("CommentParent", mock.Anything, "C1").Return("", nil)
	deps.messenger.On("SendPrivateReply", mock.Anything, "C1", "Thanks!").Return(nil)

	deps.pause.Pause("maintenance", "ops")
	paused := p.ProcessWebhook(context.Background(), []byte(saleComment))
	require.Len(t, paused.Results, 1)
	assert.Equal(t, domain.OutcomeSkipped, paused.Results[0].Outcome)
	assert.Empty(t, deps.messenger.Calls)

	// the redelivery after resuming is answered
	deps.pause.Resume("ops")
	resumed := p.ProcessWebhook(context.Background(), []byte(saleComment))
	require.Len(t, resumed.Results, 1)
	assert.Equal(t, domain.OutcomeSent, resumed.Results[0].Outcome)
}
