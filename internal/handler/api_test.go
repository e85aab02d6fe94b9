package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"purchase-settlement-api/internal/cache"
	"purchase-settlement-api/internal/handler"
	"purchase-settlement-api/internal/middleware"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
	"purchase-settlement-api/internal/router"
	"purchase-settlement-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminKey = "test-admin-key"

type apiEnv struct {
	store  *repository.SQLStore
	router *chi.Mux
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()

	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	classifier, err := service.NewEventClassifier()
	require.NoError(t, err)

	pipeline, err := service.NewPipeline(service.PipelineDeps{
		Verifier:       service.NewSignatureVerifier("s3cret", true),
		Classifier:     classifier,
		Ledger:         service.NewIdempotencyLedger(store, c, time.Hour),
		Matcher:        service.NewReservationMatcher(store),
		Applier:        service.NewSettlementApplier(store, store),
		Claims:         service.NewClaimRecorder(store),
		Anomalies:      service.NewAnomalySink(store),
		PurchaseStatus: store,
	})
	require.NoError(t, err)

	r := router.New(router.Config{
		Handler:            handler.New("test", map[string]handler.Pinger{"store": store}),
		PurchaseHandler:    handler.NewPurchaseHandler(store, store, 6),
		ReservationHandler: handler.NewReservationHandler(service.NewReservationService(store, time.Minute)),
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			Stats:       store,
			Anomalies:   store,
			Cache:       c,
			Inventory:   service.NewInventoryService(store, store, c),
			Reprocessor: pipeline,
			Backend:     "sqlite",
			AnomalySink: "store",
		}),
		AdminMiddleware: middleware.NewAdminKeyMiddleware(adminKey),
		MetricsHandler:  http.NotFoundHandler(),
	})

	return &apiEnv{store: store, router: r}
}

func (e *apiEnv) do(t *testing.T, method, path, body string, admin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(middleware.AdminKeyHeader, adminKey)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestReservationEndpoints(t *testing.T) {
	env := setupAPI(t)

	rec, body := env.do(t, http.MethodPost, "/api/v1/reservations", `{"buyer_identity":"stake1abc","product_id":"edition-1"}`, false)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := body["data"].(map[string]interface{})
	id := data["id"].(string)
	assert.Equal(t, float64(1), data["sequence_number"])

	rec, _ = env.do(t, http.MethodPost, "/api/v1/reservations", `{"buyer_identity":"stake1abc","product_id":"edition-1"}`, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/v1/reservations/"+id, "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ReservationReserved, body["data"].(map[string]interface{})["status"])

	rec, _ = env.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/fail", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/fail", "", false)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, _ = env.do(t, http.MethodPost, "/api/v1/reservations", `{"buyer_identity":""}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/reservations", `{"unexpected":1}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresKey(t *testing.T) {
	env := setupAPI(t)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/admin/stats", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/v1/admin/stats", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "sqlite", data["store_backend"])
	assert.Contains(t, data, "cache")
}

func TestReprocessSettlesAndReportsPurchase(t *testing.T) {
	env := setupAPI(t)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/admin/inventory", `{"units":[{"id":"nft-42","product_id":"edition-1","name":"Edition 42"}]}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	payload := `{"EventType":"transactionfinished","TxHash":"tx-001","Price":25000000,
		"ReceiverStakeAddress":"stake1abc","NotificationSaleNfts":[{"NftUid":"nft-42","NftName":"Edition 42","AssetId":"asset-42"}]}`

	// Unsigned, but operators are trusted.
	rec, body := env.do(t, http.MethodPost, "/api/v1/admin/reprocess", payload, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "settled", body["data"].(map[string]interface{})["outcome"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/admin/reprocess", payload, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", body["data"].(map[string]interface{})["outcome"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/purchases/tx-001", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	purchase := body["data"].(map[string]interface{})
	assert.Equal(t, model.PurchaseCompleted, purchase["status"])
	assert.Equal(t, "25", purchase["display_amount"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/claims/stake1abc", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	claims := body["data"].(map[string]interface{})["claims"].([]interface{})
	assert.Len(t, claims, 1)

	rec, body = env.do(t, http.MethodGet, "/api/v1/admin/inventory/nft-42", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.UnitSold, body["data"].(map[string]interface{})["status"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/purchases/tx-unknown", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAnomaliesPaginates(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	for _, unit := range []string{"u1", "u2", "u3"} {
		require.NoError(t, env.store.RecordAnomaly(ctx, &model.Anomaly{
			Kind:     model.AnomalyUnitNotFound,
			Severity: model.SeverityMedium,
			TxID:     "tx-001",
			Subject:  unit,
			Detail:   "unit not found",
		}))
	}

	rec, body := env.do(t, http.MethodGet, "/api/v1/admin/anomalies?limit=2&offset=1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]interface{}), 2)
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, float64(3), meta["total"])
	assert.Equal(t, float64(1), meta["offset"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/admin/anomalies?limit=0", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllowListEndpoint(t *testing.T) {
	env := setupAPI(t)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/admin/allowlist", `{"buyer_identity":"stake1abc","note":"early supporter"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	ok, err := env.store.CheckEligibility(context.Background(), "stake1abc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHealthAndReady(t *testing.T) {
	env := setupAPI(t)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/v1/ready", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["data"].(map[string]interface{})["ready"])

	env.store.Close()
	rec, _ = env.do(t, http.MethodGet, "/api/v1/ready", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
