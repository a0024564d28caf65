// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"ig-autoreply/internal/core/services"
)

// maxWebhookBody caps a single delivery
const maxWebhookBody = 5 << 20

// EventProcessor runs the webhook pipeline for one verified delivery
type EventProcessor interface {
	ProcessWebhook(ctx context.Context, payload []byte) services.Summary
}

// WebhookHandler handles Instagram webhook verification and events.
// Deliveries are acknowledged before processing.
type WebhookHandler struct {
	processor   EventProcessor
	appSecret   string // For HMAC signature validation
	verifyToken string // For webhook verification

	// inflight tracks background processing so shutdown can drain it
	inflight sync.WaitGroup
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor EventProcessor, appSecret, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		processor:   processor,
		appSecret:   strings.TrimSpace(appSecret),
		verifyToken: verifyToken,
	}
}

// ============================================================================
// GET /webhook - Webhook Verification
// ============================================================================

// HandleVerify answers the subscription handshake
// Ref: https://developers.facebook.com/docs/graph-api/webhooks/getting-started#verification-requests
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		slog.Info("Webhook verification successful")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	slog.Warn("Webhook verification failed",
		"mode", mode,
		"token_matches", token == h.verifyToken,
	)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// ============================================================================
// POST /webhook - Webhook Events
// ============================================================================

// HandleEvent validates the signature over the raw body, replies 200 and
// processes the delivery in the background
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Webhook body too large", "limit", tooLarge.Limit)
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature")
	}

	if h.appSecret == "" || !services.VerifySignature(body, signature, h.appSecret) {
		slog.Warn("Invalid or missing signature on webhook POST",
			"has_signature", signature != "",
			"secret_configured", h.appSecret != "",
			"content_length", len(body),
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// ACK first; the platform retries slow endpoints
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("PANIC in webhook processing goroutine", "panic", rec)
			}
		}()

		// the request context ends with the response
		h.processor.ProcessWebhook(context.Background(), body)
	}()

	slog.Debug("Webhook received and queued for processing",
		"content_length", len(body),
	)
}

// Wait blocks until background processing finishes or ctx is done
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
