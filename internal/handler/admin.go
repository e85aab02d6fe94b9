package handler

import (
	"context"
	"io"
	"net/http"
	"runtime"
	"time"

	"purchase-settlement-api/internal/cache"
	"purchase-settlement-api/internal/middleware"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
	"purchase-settlement-api/internal/service"
	"purchase-settlement-api/pkg/apierror"
	"purchase-settlement-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// StatsSource reports table counts for the dashboard.
type StatsSource interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// AdminConfig holds the collaborators of the operator endpoints.
type AdminConfig struct {
	Stats        StatsSource
	Anomalies    repository.AnomalyRepository
	Cache        cache.Cache
	Inventory    *service.InventoryService
	Reprocessor  service.Processor
	Backend      string
	AnomalySink  string
	MaxBodyBytes int64
}

// AdminHandler handles operator requests: stats, anomaly review, inventory
// seeding and manual reprocessing.
type AdminHandler struct {
	cfg       AdminConfig
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &AdminHandler{cfg: cfg, startTime: time.Now()}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_backend"] = h.cfg.Backend
	stats["anomaly_sink"] = h.cfg.AnomalySink

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.cfg.Stats != nil {
		storeStats, err := h.cfg.Stats.GetStats(ctx)
		if err == nil {
			storeStats["status"] = "connected"
			stats["store"] = storeStats
		} else {
			stats["store"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	if reporter, ok := h.cfg.Cache.(cache.StatsReporter); ok {
		stats["cache"] = reporter.Stats(ctx)
	} else {
		stats["cache"] = map[string]interface{}{"status": "not_configured"}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// ListAnomalies handles GET /api/v1/admin/anomalies
func (h *AdminHandler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1, 500)
	if err != nil {
		response.Error(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		response.Error(w, err)
		return
	}

	anomalies, total, err := h.cfg.Anomalies.ListAnomalies(r.Context(), limit, offset)
	if err != nil {
		response.Error(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []model.Anomaly{}
	}

	response.Paginated(w, anomalies, limit, offset, total)
}

// SeedInventoryRequest is the body of POST /api/v1/admin/inventory.
type SeedInventoryRequest struct {
	Units []model.InventoryUnit `json:"units"`
}

// SeedInventory handles POST /api/v1/admin/inventory
func (h *AdminHandler) SeedInventory(w http.ResponseWriter, r *http.Request) {
	var req SeedInventoryRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := response.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	if err := h.cfg.Inventory.SeedUnits(r.Context(), req.Units); err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, map[string]interface{}{
		"seeded": len(req.Units),
	})
}

// GetInventoryUnit handles GET /api/v1/admin/inventory/{id}
func (h *AdminHandler) GetInventoryUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := h.cfg.Inventory.GetUnit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, unit)
}

// AllowListRequest is the body of POST /api/v1/admin/allowlist.
type AllowListRequest struct {
	BuyerIdentity string `json:"buyer_identity"`
	Note          string `json:"note"`
}

// AddEligibleBuyer handles POST /api/v1/admin/allowlist
func (h *AdminHandler) AddEligibleBuyer(w http.ResponseWriter, r *http.Request) {
	var req AllowListRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	if err := h.cfg.Inventory.AddEligibleBuyer(r.Context(), req.BuyerIdentity, req.Note); err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]interface{}{
		"buyer_identity": req.BuyerIdentity,
		"eligible":       true,
	})
}

// Reprocess handles POST /api/v1/admin/reprocess. The body is a raw provider
// payload; it runs through the pipeline synchronously and the outcome is
// returned. Already-settled transactions come back as duplicates.
func (h *AdminHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		response.Error(w, apierror.PayloadTooLarge(""))
		return
	}
	if len(body) == 0 {
		response.Error(w, apierror.BadRequest("request body must be a notification payload"))
		return
	}

	result := h.cfg.Reprocessor.Process(context.WithoutCancel(r.Context()), service.Delivery{
		Body:       body,
		RequestID:  middleware.GetRequestID(r.Context()),
		ReceivedAt: time.Now().UTC(),
		Trusted:    true,
	})

	response.OK(w, result)
}
