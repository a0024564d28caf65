// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ig-autoreply/internal/config"
	"ig-autoreply/internal/core/ports"
)

// Custom errors for specific Graph API failures
var (
	// ErrTokenExpired indicates the page access token is expired or invalid (code 190)
	ErrTokenExpired = errors.New("graph access token expired or invalid")

	// ErrRateLimited indicates Graph rate limit exceeded (code 4, 17, 32, 613)
	ErrRateLimited = errors.New("graph rate limit exceeded")

	// ErrPermissionDenied indicates missing permissions (code 10, 200, 299)
	ErrPermissionDenied = errors.New("graph permission denied")

	// ErrMissingToken is returned before any call when no token is configured
	ErrMissingToken = errors.New("PAGE_ACCESS_TOKEN is missing")

	// errDecodeResponse marks a 2xx body that is not the JSON we asked for
	errDecodeResponse = errors.New("failed to parse response")
)

var (
	_ ports.Messenger     = (*GraphClient)(nil)
	_ ports.MediaLookup   = (*GraphClient)(nil)
	_ ports.CommentLookup = (*GraphClient)(nil)
)

const (
	lookupTimeout = 15 * time.Second
	maxRetries    = 3
	maxBodyBytes  = 1 << 20
)

// APIError is a non-2xx Graph response. It unwraps to one of the
// sentinel errors above when the Graph error code is known.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("graph api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graph api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case 190:
		return ErrTokenExpired
	case 4, 17, 32, 613:
		return ErrRateLimited
	case 10, 200, 299:
		return ErrPermissionDenied
	default:
		return nil
	}
}

// graphError is the error object in a Graph response body
type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

// GraphClient talks to the Instagram Graph API: comment replies, DMs and
// the media/comment lookups used by the matcher and the dispatcher
type GraphClient struct {
	httpClient    *http.Client
	baseURL       string
	apiVersion    string
	token         string
	limiter       *rate.Limiter // nil = unlimited
	sendTimeout   time.Duration
	lookupTimeout time.Duration
	retryBackoff  time.Duration

	pageMu sync.Mutex
	pageID string
}

// NewGraphClient creates a client from the Instagram config
func NewGraphClient(cfg config.InstagramConfig) *GraphClient {
	c := &GraphClient{
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:    cfg.APIVersion,
		token:         cfg.PageAccessToken,
		pageID:        cfg.PageID,
		sendTimeout:   cfg.Timeout,
		lookupTimeout: lookupTimeout,
		retryBackoff:  500 * time.Millisecond,
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = 20 * time.Second
	}
	return c
}

// MediaPermalink resolves a business media id to its permalink
func (c *GraphClient) MediaPermalink(ctx context.Context, mediaID string) (string, error) {
	if mediaID == "" {
		return "", errors.New("media permalink: missing media id")
	}
	var out struct {
		Permalink string `json:"permalink"`
	}
	q := url.Values{"fields": {"permalink"}}
	if err := c.get(ctx, "/"+url.PathEscape(mediaID), q, &out); err != nil {
		return "", fmt.Errorf("media permalink: %w", err)
	}
	return out.Permalink, nil
}

// AccountUsername reads the username of the Instagram business account
func (c *GraphClient) AccountUsername(ctx context.Context, businessID string) (string, error) {
	if businessID == "" {
		return "", errors.New("account username: missing business id")
	}
	var out struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	q := url.Values{"fields": {"username"}}
	if err := c.get(ctx, "/"+url.PathEscape(businessID), q, &out); err != nil {
		return "", fmt.Errorf("account username: %w", err)
	}
	if out.Username == "" {
		return "", errors.New("account username: no username in response")
	}
	return out.Username, nil
}

// CommentParent returns the parent comment id, "" for a top-level comment
func (c *GraphClient) CommentParent(ctx context.Context, commentID string) (string, error) {
	if commentID == "" {
		return "", errors.New("comment parent: missing comment id")
	}
	var out struct {
		ID       string `json:"id"`
		ParentID string `json:"parent_id"`
	}
	q := url.Values{"fields": {"id,parent_id"}}
	if err := c.get(ctx, "/"+url.PathEscape(commentID), q, &out); err != nil {
		return "", fmt.Errorf("comment parent: %w", err)
	}
	return out.ParentID, nil
}

// SendPrivateReply sends a private reply to a comment (one per comment, 7-day window)
func (c *GraphClient) SendPrivateReply(ctx context.Context, commentID, text string) error {
	if commentID == "" {
		return errors.New("private reply: missing comment id")
	}
	body := map[string]string{"message": text}
	if err := c.post(ctx, "/"+url.PathEscape(commentID)+"/private_replies", body); err != nil {
		return fmt.Errorf("private reply: %w", err)
	}
	slog.Info("Private reply sent", "comment_id", commentID, "text_length", len(text))
	return nil
}

// SendPublicReply posts a reply under the comment
func (c *GraphClient) SendPublicReply(ctx context.Context, commentID, text string) error {
	if commentID == "" {
		return errors.New("public reply: missing comment id")
	}
	body := map[string]string{"message": text}
	if err := c.post(ctx, "/"+url.PathEscape(commentID)+"/replies", body); err != nil {
		return fmt.Errorf("public reply: %w", err)
	}
	slog.Info("Public reply sent", "comment_id", commentID, "text_length", len(text))
	return nil
}

// dmRequest is the Instagram messaging Send API payload
type dmRequest struct {
	MessagingProduct string    `json:"messaging_product"`
	Recipient        recipient `json:"recipient"`
	Message          dmMessage `json:"message"`
}

type recipient struct {
	ID string `json:"id"` // IGSID
}

type dmMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

type attachment struct {
	Type    string          `json:"type"`
	Payload templatePayload `json:"payload"`
}

type templatePayload struct {
	TemplateType string                 `json:"template_type"`
	Elements     []ports.GenericElement `json:"elements"`
}

// SendDirectText sends a plain DM to an IGSID
func (c *GraphClient) SendDirectText(ctx context.Context, recipientID, text string) error {
	if recipientID == "" {
		return errors.New("direct text: missing recipient id")
	}
	err := c.sendDM(ctx, dmRequest{
		MessagingProduct: "instagram",
		Recipient:        recipient{ID: recipientID},
		Message:          dmMessage{Text: text},
	})
	if err != nil {
		return fmt.Errorf("direct text: %w", err)
	}
	slog.Info("Direct message sent", "recipient_id", recipientID, "text_length", len(text))
	return nil
}

// SendCarousel sends a generic template DM (max 10 cards)
func (c *GraphClient) SendCarousel(ctx context.Context, recipientID string, elements []ports.GenericElement) error {
	if recipientID == "" {
		return errors.New("carousel: missing recipient id")
	}
	if len(elements) == 0 {
		return errors.New("carousel: elements must be non-empty")
	}
	err := c.sendDM(ctx, dmRequest{
		MessagingProduct: "instagram",
		Recipient:        recipient{ID: recipientID},
		Message: dmMessage{Attachment: &attachment{
			Type:    "template",
			Payload: templatePayload{TemplateType: "generic", Elements: elements},
		}},
	})
	if err != nil {
		return fmt.Errorf("carousel: %w", err)
	}
	slog.Info("Carousel sent", "recipient_id", recipientID, "cards", len(elements))
	return nil
}

func (c *GraphClient) sendDM(ctx context.Context, req dmRequest) error {
	pageID, err := c.resolvePageID(ctx)
	if err != nil {
		return err
	}
	return c.post(ctx, "/"+url.PathEscape(pageID)+"/messages", req)
}

// resolvePageID returns the configured page id or resolves and caches it via /me
func (c *GraphClient) resolvePageID(ctx context.Context) (string, error) {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	if c.pageID != "" {
		return c.pageID, nil
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, "/me", nil, &out); err != nil {
		return "", fmt.Errorf("resolve page id: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("resolve page id: no id in /me response")
	}
	c.pageID = out.ID
	return c.pageID, nil
}

// get performs a read-only call with retries on transient failures
func (c *GraphClient) get(ctx context.Context, path string, q url.Values, out any) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = c.do(ctx, http.MethodGet, path, q, nil, out, c.lookupTimeout)
		if err == nil || !retryable(err) || attempt == maxRetries {
			return err
		}

		backoff := time.Duration(attempt) * c.retryBackoff
		slog.Warn("Retrying Graph API call",
			"path", path,
			"attempt", attempt,
			"max_retries", maxRetries,
			"backoff_ms", backoff.Milliseconds(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// post performs a send. Sends are never retried here; the dispatcher's
// fallback chain decides what happens next.
func (c *GraphClient) post(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, nil, c.sendTimeout)
}

// retryable reports whether a failure is worth another attempt: network
// errors and 5xx, but not token/permission/rate errors or other 4xx.
// Local failures (no token, undecodable body) repeat identically.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingToken) || errors.Is(err, errDecodeResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 && apiErr.Unwrap() == nil
	}
	return true
}

func (c *GraphClient) do(ctx context.Context, method, path string, q url.Values, body, out any, timeout time.Duration) error {
	if c.token == "" {
		return ErrMissingToken
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + c.apiVersion + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, data)
		slog.Error("Graph API error",
			"method", method,
			"path", path,
			"status_code", apiErr.StatusCode,
			"error_code", apiErr.Code,
			"error_subcode", apiErr.Subcode,
			"error_message", apiErr.Message,
			"fbtrace_id", apiErr.TraceID,
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", errDecodeResponse, err)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	var wrapper struct {
		Error graphError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &APIError{StatusCode: status, Message: msg}
	}
	return &APIError{
		StatusCode: status,
		Code:       wrapper.Error.Code,
		Subcode:    wrapper.Error.ErrorSubcode,
		Message:    wrapper.Error.Message,
		TraceID:    wrapper.Error.FBTraceID,
	}
}
