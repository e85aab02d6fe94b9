package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"purchase-settlement-api/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu         sync.Mutex
	deliveries []service.Delivery
	closed     bool
}

func (s *recordingSubmitter) Submit(d service.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.deliveries = append(s.deliveries, d)
	return true
}

func assertAck(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Received bool `json:"received"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.Data.Received)
}

func TestWebhookAcknowledgesAndSubmits(t *testing.T) {
	sub := &recordingSubmitter{}
	h := NewWebhookHandler(sub, "payloadHash", 1024)

	payload := `{"EventType":"transactionfinished","TxHash":"tx-001"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/nmkr?payloadHash=abc123", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assertAck(t, rec)
	require.Len(t, sub.deliveries, 1)
	assert.Equal(t, payload, string(sub.deliveries[0].Body))
	assert.Equal(t, "abc123", sub.deliveries[0].Signature)
	assert.False(t, sub.deliveries[0].Trusted)
	assert.False(t, sub.deliveries[0].ReceivedAt.IsZero())
}

func TestWebhookAcknowledgesGarbage(t *testing.T) {
	sub := &recordingSubmitter{}
	h := NewWebhookHandler(sub, "", 0)

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/nmkr", strings.NewReader("not json")))

	// Parsing happens in the pipeline; the transport always acks.
	assertAck(t, rec)
	assert.Len(t, sub.deliveries, 1)
}

func TestWebhookDropsOversizedBody(t *testing.T) {
	sub := &recordingSubmitter{}
	h := NewWebhookHandler(sub, "payloadHash", 16)

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/nmkr", bytes.NewReader(make([]byte, 64))))

	assertAck(t, rec)
	assert.Empty(t, sub.deliveries)
}

func TestWebhookAcknowledgesWhileShuttingDown(t *testing.T) {
	sub := &recordingSubmitter{closed: true}
	h := NewWebhookHandler(sub, "payloadHash", 1024)

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/nmkr", strings.NewReader("{}")))
	assertAck(t, rec)
}

func TestWebhookProbes(t *testing.T) {
	sub := &recordingSubmitter{}
	h := NewWebhookHandler(sub, "payloadHash", 1024)

	for _, method := range []string{http.MethodGet, http.MethodOptions} {
		rec := httptest.NewRecorder()
		h.Probe(rec, httptest.NewRequest(method, "/webhooks/nmkr", nil))
		assertAck(t, rec)
	}
	assert.Empty(t, sub.deliveries)
}

func TestDisplayAmount(t *testing.T) {
	assert.Equal(t, "25", DisplayAmount(25000000, 6))
	assert.Equal(t, "1.5", DisplayAmount(1500000, 6))
	assert.Equal(t, "0.000001", DisplayAmount(1, 6))
	assert.Equal(t, "42", DisplayAmount(42, 0))
}
