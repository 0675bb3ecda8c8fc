/**
 * @description
 * HTTP handlers for the billing-sync-service API: contract detail with
 * on-demand reconciliation, contract listing with categories, explicit
 * resync, and gateway diagnostics.
 *
 * @notes
 * - The detail and resync paths are rate limited per caller through Redis so
 *   no single consumer can exhaust the upstream quota.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/contratohub/billing-sync-service/internal/app"
	"github.com/contratohub/billing-sync-service/internal/store"
	"github.com/contratohub/billing-sync-service/pkg/gateway"
)

// BillingService is the slice of the application service the handlers need.
type BillingService interface {
	ContractDetail(ctx context.Context, contractID uuid.UUID) (*app.ContractView, error)
	ListContracts(ctx context.Context, limit, offset int) ([]app.ContractView, error)
	SyncContract(ctx context.Context, contractID uuid.UUID) (*app.ContractView, error)
	GatewayStats() gateway.Stats
}

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	service            BillingService
	limiter            *app.SyncRateLimiter
	syncLimitPerMinute int
	logger             *slog.Logger
}

// NewHandlers creates the handler set. limiter may be nil, which disables
// per-caller rate limiting.
func NewHandlers(service BillingService, limiter *app.SyncRateLimiter, syncLimitPerMinute int, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:            service,
		limiter:            limiter,
		syncLimitPerMinute: syncLimitPerMinute,
		logger:             logger,
	}
}

// GetContractHandler serves one contract with reconciled installments and its
// category.
func (h *Handlers) GetContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid contract id")
		return
	}

	if !h.allowSync(w, r, "contract_detail") {
		return
	}

	view, err := h.service.ContractDetail(r.Context(), contractID)
	if err != nil {
		if errors.Is(err, store.ErrContractNotFound) {
			respondError(w, http.StatusNotFound, "contract not found")
			return
		}
		h.logger.Error("contract detail failed", "contract_id", contractID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to load contract")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// ListContractsHandler serves a page of contracts with categories.
func (h *Handlers) ListContractsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	views, err := h.service.ListContracts(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("contract listing failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list contracts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":   views,
		"limit":  limit,
		"offset": offset,
	})
}

// SyncContractHandler runs an explicit resync of one contract.
func (h *Handlers) SyncContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid contract id")
		return
	}

	if !h.allowSync(w, r, "contract_sync") {
		return
	}

	view, err := h.service.SyncContract(r.Context(), contractID)
	if err != nil {
		if errors.Is(err, store.ErrContractNotFound) {
			respondError(w, http.StatusNotFound, "contract not found")
			return
		}
		h.logger.Error("contract sync failed", "contract_id", contractID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to sync contract")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// GatewayDiagnosticsHandler exposes the gateway counters for health
// dashboards.
func (h *Handlers) GatewayDiagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.GatewayStats())
}

// allowSync applies the per-caller Redis rate limit. It writes the 429
// response itself and returns false when the caller is over the limit.
// Limiter errors fail open: upstream protection is the gateway's job.
func (h *Handlers) allowSync(w http.ResponseWriter, r *http.Request, scope string) bool {
	if h.limiter == nil || h.syncLimitPerMinute <= 0 {
		return true
	}

	count, retryAfter, err := h.limiter.Consume(r.Context(), scope, callerKey(r), h.syncLimitPerMinute, time.Minute)
	if err != nil {
		h.logger.Warn("sync rate limiter unavailable, failing open", "scope", scope, "err", err)
		return true
	}
	if count > h.syncLimitPerMinute {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondError(w, http.StatusTooManyRequests, "sync rate limit exceeded")
		return false
	}
	return true
}

// callerKey identifies the caller for rate limiting: the internal caller
// header when present, the remote address otherwise.
func callerKey(r *http.Request) string {
	if caller := r.Header.Get("X-Internal-Caller"); caller != "" {
		return caller
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
