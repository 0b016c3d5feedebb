package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidrelay/vidrelay/internal/guard"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/telemetry"
)

// TransferLister exposes the in-flight transfer set.
type TransferLister interface {
	Active() []guard.ActiveTransfer
}

// CacheInspector exposes read-only cache stats.
type CacheInspector interface {
	Entries() (int64, error)
}

type activeTransferView struct {
	Fingerprint string    `json:"fingerprint"`
	StartedAt   time.Time `json:"started_at"`
	Elapsed     string    `json:"elapsed"`
}

type statusResponse struct {
	ActiveTransfers []activeTransferView `json:"active_transfers"`
	CacheEntries    int64                `json:"cache_entries"`
}

// OpsHandler serves the operational endpoints: health, status and
// metrics.
type OpsHandler struct {
	transfers TransferLister
	cache     CacheInspector
	telemetry *telemetry.Telemetry
}

func NewOpsHandler(transfers TransferLister, cache CacheInspector, tel *telemetry.Telemetry) *OpsHandler {
	return &OpsHandler{
		transfers: transfers,
		cache:     cache,
		telemetry: tel,
	}
}

func (h *OpsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.Health)
	r.Get("/status", h.Status)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	entries, err := h.cache.Entries()
	if err != nil {
		logger.Error("failed to count cache entries", "error", err)
		http.Error(w, "failed to read cache stats", http.StatusInternalServerError)

		return
	}

	active := h.transfers.Active()
	views := make([]activeTransferView, 0, len(active))
	for _, transfer := range active {
		views = append(views, activeTransferView{
			Fingerprint: transfer.Fingerprint,
			StartedAt:   transfer.StartedAt,
			Elapsed:     time.Since(transfer.StartedAt).Round(time.Second).String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(statusResponse{
		ActiveTransfers: views,
		CacheEntries:    entries,
	}); err != nil {
		logger.Error("failed to encode status response", "error", err)
	}
}
