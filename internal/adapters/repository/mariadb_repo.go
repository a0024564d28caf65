// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.RuleRepository      = (*MariaDBRepository)(nil)
	_ ports.RuleAdminRepository = (*MariaDBRepository)(nil)
	_ ports.SendLedger          = (*MariaDBRepository)(nil)
	_ ports.WebhookRepository   = (*MariaDBRepository)(nil)
)

// mysqlErrDuplicateEntry is ER_DUP_ENTRY
const mysqlErrDuplicateEntry = 1062

// MariaDBRepository implements persistence operations for MariaDB
type MariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db: db,
	}
}

// Ping checks connectivity
func (r *MariaDBRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ============================================================================
// RuleRepository / RuleAdminRepository Implementation
// ============================================================================

const ruleColumns = `
	id, owner_id, ig_media_id, ig_media_permalink, ig_media_thumb,
	any_keyword, keywords, message_text, links, carousel,
	is_active, created_at, updated_at`

// FindActiveByMedia returns active rules bound to a media id, oldest first
func (r *MariaDBRepository) FindActiveByMedia(ctx context.Context, ownerScope, mediaID string) ([]domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM automations
		WHERE ig_media_id = ? AND is_active = 1 AND (? = '' OR owner_id = ?)
		ORDER BY created_at ASC`

	rules, err := r.queryRules(ctx, query, mediaID, ownerScope, ownerScope)
	if err != nil {
		slog.Error("Failed to find rules by media",
			"error", err,
			"media_id", mediaID,
		)
		return nil, fmt.Errorf("find rules by media: %w", err)
	}
	return rules, nil
}

// FindActiveByPermalink returns active rules bound to a media permalink, oldest first
func (r *MariaDBRepository) FindActiveByPermalink(ctx context.Context, ownerScope, permalink string) ([]domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM automations
		WHERE ig_media_permalink = ? AND is_active = 1 AND (? = '' OR owner_id = ?)
		ORDER BY created_at ASC`

	rules, err := r.queryRules(ctx, query, permalink, ownerScope, ownerScope)
	if err != nil {
		slog.Error("Failed to find rules by permalink",
			"error", err,
			"permalink", permalink,
		)
		return nil, fmt.Errorf("find rules by permalink: %w", err)
	}
	return rules, nil
}

// CreateRule inserts a new rule; ID and timestamps are set by the caller
func (r *MariaDBRepository) CreateRule(ctx context.Context, rule *domain.AutomationRule) error {
	keywords, links, carousel, err := marshalRulePayload(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO automations (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.OwnerID,
		rule.IGMediaID,
		nullString(rule.IGMediaPermalink),
		nullString(rule.IGMediaThumb),
		rule.AnyKeyword,
		keywords,
		rule.MessageText,
		links,
		carousel,
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		slog.Error("Failed to create automation",
			"error", err,
			"owner_id", rule.OwnerID,
			"media_id", rule.IGMediaID,
		)
		return fmt.Errorf("create automation: %w", err)
	}

	slog.Info("Automation created",
		"automation_id", rule.ID,
		"owner_id", rule.OwnerID,
		"media_id", rule.IGMediaID,
	)
	return nil
}

// ListRules returns all rules of an owner, newest first
func (r *MariaDBRepository) ListRules(ctx context.Context, ownerID string) ([]domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM automations
		WHERE owner_id = ?
		ORDER BY created_at DESC`

	rules, err := r.queryRules(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	return rules, nil
}

// GetRule returns one rule of an owner or ports.ErrNotFound
func (r *MariaDBRepository) GetRule(ctx context.Context, ownerID, id string) (*domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM automations
		WHERE id = ? AND owner_id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get automation: %w", err)
	}
	return rule, nil
}

// UpdateRule overwrites the mutable fields of an owner's rule
func (r *MariaDBRepository) UpdateRule(ctx context.Context, rule *domain.AutomationRule) error {
	keywords, links, carousel, err := marshalRulePayload(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE automations
		SET ig_media_id = ?, ig_media_permalink = ?, ig_media_thumb = ?,
			any_keyword = ?, keywords = ?, message_text = ?, links = ?, carousel = ?,
			is_active = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.IGMediaID,
		nullString(rule.IGMediaPermalink),
		nullString(rule.IGMediaThumb),
		rule.AnyKeyword,
		keywords,
		rule.MessageText,
		links,
		carousel,
		rule.IsActive,
		rule.UpdatedAt,
		rule.ID,
		rule.OwnerID,
	)
	if err != nil {
		slog.Error("Failed to update automation",
			"error", err,
			"automation_id", rule.ID,
		)
		return fmt.Errorf("update automation: %w", err)
	}

	// MySQL reports 0 affected rows when nothing changed, so confirm existence
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := r.GetRule(ctx, rule.OwnerID, rule.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRule removes an owner's rule. Send records stay.
func (r *MariaDBRepository) DeleteRule(ctx context.Context, ownerID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete automation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ports.ErrNotFound
	}

	slog.Info("Automation deleted", "automation_id", id, "owner_id", ownerID)
	return nil
}

func (r *MariaDBRepository) queryRules(ctx context.Context, query string, args ...any) ([]domain.AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []domain.AutomationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.AutomationRule, error) {
	var (
		rule                         domain.AutomationRule
		permalink, thumb             sql.NullString
		keywords, links, carouselRaw []byte
	)
	err := row.Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.IGMediaID,
		&permalink,
		&thumb,
		&rule.AnyKeyword,
		&keywords,
		&rule.MessageText,
		&links,
		&carouselRaw,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.IGMediaPermalink = permalink.String
	rule.IGMediaThumb = thumb.String

	if err := unmarshalColumn(keywords, &rule.Keywords); err != nil {
		return nil, fmt.Errorf("automation %s keywords: %w", rule.ID, err)
	}
	if err := unmarshalColumn(links, &rule.Links); err != nil {
		return nil, fmt.Errorf("automation %s links: %w", rule.ID, err)
	}
	if err := unmarshalColumn(carouselRaw, &rule.Carousel); err != nil {
		return nil, fmt.Errorf("automation %s carousel: %w", rule.ID, err)
	}
	// rows written by other tools may carry unnormalized keywords
	rule.Keywords = domain.NormalizeKeywords(rule.Keywords)
	return &rule, nil
}

func unmarshalColumn(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func marshalRulePayload(rule *domain.AutomationRule) (keywords, links, carousel []byte, err error) {
	kw := rule.Keywords
	if kw == nil {
		kw = []string{}
	}
	if keywords, err = json.Marshal(kw); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal keywords: %w", err)
	}

	l := rule.Links
	if l == nil {
		l = []domain.LinkCard{}
	}
	if links, err = json.Marshal(l); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal links: %w", err)
	}

	c := rule.Carousel
	if c == nil {
		c = []domain.CarouselCard{}
	}
	if carousel, err = json.Marshal(c); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal carousel: %w", err)
	}
	return keywords, links, carousel, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ============================================================================
// SendLedger Implementation
// ============================================================================

// HasSent reports whether a send record exists for (rule, commenter)
func (r *MariaDBRepository) HasSent(ctx context.Context, ruleID, commenterID string) (bool, error) {
	query := `SELECT 1 FROM send_logs WHERE automation_id = ? AND commenter_ig_user_id = ? LIMIT 1`

	var exists int
	err := r.db.QueryRowContext(ctx, query, ruleID, commenterID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		slog.Error("Failed to check send record",
			"error", err,
			"automation_id", ruleID,
			"commenter_id", commenterID,
		)
		return false, fmt.Errorf("check send record: %w", err)
	}
	return true, nil
}

// Insert writes a send record. The UNIQUE KEY on (automation_id,
// commenter_ig_user_id) turns a concurrent second insert into ErrDuplicateSend.
func (r *MariaDBRepository) Insert(ctx context.Context, rec *domain.SendRecord) error {
	query := `
		INSERT INTO send_logs (automation_id, commenter_ig_user_id, ig_comment_id, sent_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query, rec.RuleID, rec.CommenterID, rec.IGCommentID, rec.SentAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ports.ErrDuplicateSend
		}
		return fmt.Errorf("insert send record: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}

// ============================================================================
// WebhookRepository Implementation
// ============================================================================

// SaveLog persists a webhook delivery to the audit log
func (r *MariaDBRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) (int64, error) {
	query := `
		INSERT INTO webhook_logs (platform, payload_json, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		log.Platform,
		[]byte(log.PayloadJSON),
		log.Status,
		log.RetryCount,
		log.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save webhook log",
			"error", err,
			"platform", log.Platform,
		)
		return 0, fmt.Errorf("save webhook log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	log.ID = id

	slog.Debug("Webhook log saved",
		"webhook_id", id,
		"status", log.Status,
	)
	return id, nil
}

// UpdateStatus updates the processing status of a webhook log
func (r *MariaDBRepository) UpdateStatus(ctx context.Context, id int64, status string, errorLog *string) error {
	query := `
		UPDATE webhook_logs
		SET status = ?, error_log = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, errorLog, id)
	if err != nil {
		return fmt.Errorf("update webhook status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		slog.Warn("No webhook log found for status update",
			"webhook_id", id,
		)
	}
	return nil
}

// PurgeOlderThan deletes up to limit webhook logs created before cutoff
func (r *MariaDBRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_logs WHERE created_at < ? ORDER BY id LIMIT ?`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("purge webhook logs: %w", err)
	}
	return result.RowsAffected()
}
