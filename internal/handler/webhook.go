package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"purchase-settlement-api/internal/metrics"
	"purchase-settlement-api/internal/middleware"
	"purchase-settlement-api/internal/service"
	"purchase-settlement-api/pkg/response"
)

// Submitter accepts deliveries for background processing.
type Submitter interface {
	Submit(d service.Delivery) bool
}

// WebhookHandler receives provider notifications. It acknowledges every
// delivery with 200 before any processing happens.
type WebhookHandler struct {
	submitter      Submitter
	signatureParam string
	maxBodyBytes   int64
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(submitter Submitter, signatureParam string, maxBodyBytes int64) *WebhookHandler {
	if signatureParam == "" {
		signatureParam = "payloadHash"
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{
		submitter:      submitter,
		signatureParam: signatureParam,
		maxBodyBytes:   maxBodyBytes,
	}
}

// Receive handles POST /webhooks/nmkr
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	metrics.WebhooksReceivedTotal.WithLabelValues(r.Method).Inc()
	requestID := middleware.GetRequestID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Printf("[Webhook] req=%s: body over %d bytes, dropping", requestID, h.maxBodyBytes)
		} else {
			log.Printf("[Webhook] req=%s: failed to read body: %v", requestID, err)
		}
		response.Received(w)
		return
	}

	accepted := h.submitter.Submit(service.Delivery{
		Body:       body,
		Signature:  r.URL.Query().Get(h.signatureParam),
		RequestID:  requestID,
		ReceivedAt: time.Now().UTC(),
	})
	if !accepted {
		// Shutting down. The ledger has nothing for this tx, so a redelivery will settle it.
		log.Printf("[Webhook] req=%s: dispatcher not accepting, delivery dropped", requestID)
	}

	response.Received(w)
}

// Probe handles GET and OPTIONS /webhooks/nmkr, used by the provider to test connectivity.
func (h *WebhookHandler) Probe(w http.ResponseWriter, r *http.Request) {
	metrics.WebhooksReceivedTotal.WithLabelValues(r.Method).Inc()
	response.Received(w)
}
