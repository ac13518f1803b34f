// Package handler provides HTTP handlers for the gateway.
package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/shoptalk-ai/webhook-gateway/internal/service"
	"github.com/shoptalk-ai/webhook-gateway/internal/webhook"
	"github.com/shoptalk-ai/webhook-gateway/pkg/logger"
)

// maxBodySize bounds webhook delivery bodies. Platform batches are small;
// anything larger is not a legitimate delivery.
const maxBodySize = 1 << 20

// WebhookHandler handles the platform's verification and delivery endpoints.
type WebhookHandler struct {
	ingest      *service.IngestService
	appSecret   string
	verifyToken string
	logger      *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(ingest *service.IngestService, appSecret, verifyToken string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingest:      ingest,
		appSecret:   appSecret,
		verifyToken: verifyToken,
		logger:      log,
	}
}

// Verify handles GET /webhook, the platform's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	h.logger.Warn("webhook verification rejected", zap.String("mode", q.Get("hub.mode")))
	writeError(w, http.StatusForbidden, "verification failed")
}

// Deliver handles POST /webhook. The signature is checked over the raw body
// before any parsing; everything past that point answers 200 so the platform
// does not retry traffic that was handled, even when handled by dropping it.
func (h *WebhookHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !webhook.VerifySignature(body, r.Header.Get(webhook.SignatureHeader), h.appSecret) {
		h.logger.Warn("invalid webhook signature", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	events, err := webhook.ParsePayload(body)
	if err != nil {
		h.logger.Warn("malformed payload dropped", zap.Error(err))
		h.acknowledge(w)
		return
	}

	for i := range events {
		outcome, err := h.ingest.HandleEvent(r.Context(), &events[i])
		if err != nil {
			h.logger.Error("event processing failed",
				zap.Error(err),
				zap.String("key", events[i].IdempotencyKey()),
			)
			continue
		}
		h.logger.Debug("event handled", zap.String("outcome", string(outcome)))
	}

	h.acknowledge(w)
}

func (h *WebhookHandler) acknowledge(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}
