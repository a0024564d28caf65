package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
)

// ============================================================================
// Mock Repositories
// ============================================================================

// MockDedupStore mocks DedupStore interface
type MockDedupStore struct {
	mock.Mock
}

func (m *MockDedupStore) SeenOrMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockRuleRepository mocks RuleRepository interface
type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) FindActiveByMedia(ctx context.Context, ownerScope, mediaID string) ([]domain.AutomationRule, error) {
	args := m.Called(ctx, ownerScope, mediaID)
	// Safely handle nil return
	if rules := args.Get(0); rules != nil {
		return rules.([]domain.AutomationRule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuleRepository) FindActiveByPermalink(ctx context.Context, ownerScope, permalink string) ([]domain.AutomationRule, error) {
	args := m.Called(ctx, ownerScope, permalink)
	if rules := args.Get(0); rules != nil {
		return rules.([]domain.AutomationRule), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSendLedger mocks SendLedger interface
type MockSendLedger struct {
	mock.Mock
}

func (m *MockSendLedger) HasSent(ctx context.Context, ruleID, commenterID string) (bool, error) {
	args := m.Called(ctx, ruleID, commenterID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSendLedger) Insert(ctx context.Context, rec *domain.SendRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// MockWebhookRepository mocks WebhookRepository interface
type MockWebhookRepository struct {
	mock.Mock
}

func (m *MockWebhookRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) (int64, error) {
	args := m.Called(ctx, log)
	return int64(args.Int(0)), args.Error(1)
}

func (m *MockWebhookRepository) UpdateStatus(ctx context.Context, id int64, status string, errorLog *string) error {
	args := m.Called(ctx, id, status, errorLog)
	return args.Error(0)
}

func (m *MockWebhookRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	args := m.Called(ctx, cutoff, limit)
	return int64(args.Int(0)), args.Error(1)
}

// ============================================================================
// Mock Gateways
// ============================================================================

// MockMediaLookup mocks MediaLookup interface
type MockMediaLookup struct {
	mock.Mock
}

func (m *MockMediaLookup) MediaPermalink(ctx context.Context, mediaID string) (string, error) {
	args := m.Called(ctx, mediaID)
	return args.String(0), args.Error(1)
}

// MockCommentLookup mocks CommentLookup interface
type MockCommentLookup struct {
	mock.Mock
}

func (m *MockCommentLookup) CommentParent(ctx context.Context, commentID string) (string, error) {
	args := m.Called(ctx, commentID)
	return args.String(0), args.Error(1)
}

// MockMessenger mocks Messenger interface
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendPrivateReply(ctx context.Context, commentID, text string) error {
	args := m.Called(ctx, commentID, text)
	return args.Error(0)
}

func (m *MockMessenger) SendPublicReply(ctx context.Context, commentID, text string) error {
	args := m.Called(ctx, commentID, text)
	return args.Error(0)
}

func (m *MockMessenger) SendDirectText(ctx context.Context, recipientID, text string) error {
	args := m.Called(ctx, recipientID, text)
	return args.Error(0)
}

func (m *MockMessenger) SendCarousel(ctx context.Context, recipientID string, elements []ports.GenericElement) error {
	args := m.Called(ctx, recipientID, elements)
	return args.Error(0)
}

// ============================================================================
// Fakes
// ============================================================================

// memoryLedger enforces (rule, commenter) uniqueness like the SQL constraint
type memoryLedger struct {
	mu      sync.Mutex
	records map[[2]string]domain.SendRecord
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{records: make(map[[2]string]domain.SendRecord)}
}

func (l *memoryLedger) HasSent(_ context.Context, ruleID, commenterID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[[2]string{ruleID, commenterID}]
	return ok, nil
}

func (l *memoryLedger) Insert(_ context.Context, rec *domain.SendRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]string{rec.RuleID, rec.CommenterID}
	if _, ok := l.records[key]; ok {
		return ports.ErrDuplicateSend
	}
	l.records[key] = *rec
	return nil
}

func (l *memoryLedger) all() []domain.SendRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.SendRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	return out
}
