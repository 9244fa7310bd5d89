package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	apperrors "github.com/afwm/CCBP-pub/internal/errors"
	"github.com/afwm/CCBP-pub/internal/infrastructure"
	"github.com/afwm/CCBP-pub/internal/license"
)

// LicenseHandler exposes license verification and cached status.
type LicenseHandler struct {
	auth    *license.Authenticator
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewLicenseHandler wires the handler. The rate limiter throttles
// verification attempts: each one is a network round trip to the
// license endpoint, and hammering it helps nobody.
func NewLicenseHandler(auth *license.Authenticator, limiter *rate.Limiter, logger *slog.Logger) *LicenseHandler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(2*time.Second), 3)
	}
	return &LicenseHandler{
		auth:    auth,
		limiter: limiter,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/verify", h.Verify)
	r.Get("/status", h.Status)
	return r
}

// VerifyRequest is the GUI's verification payload.
type VerifyRequest struct {
	LicenseKey string `json:"license_key"`
}

func (v *VerifyRequest) Bind(r *http.Request) error {
	if v.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	return nil
}

// VerifyResponse reports a completed authentication. A denial is a
// verdict, not a transport failure, so it still returns 200.
type VerifyResponse struct {
	Authenticated bool      `json:"authenticated"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	Message       string    `json:"message"`
	Offline       bool      `json:"offline"`
	TraceID       string    `json:"trace_id"`
}

// Verify handles POST /api/license/verify.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.limiter.Allow() {
		h.logger.WarnContext(ctx, "verification rate limit hit")
		render.Render(w, r, apperrors.ErrRateLimited)
		return
	}

	req := &VerifyRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	result := h.auth.Authenticate(ctx, req.LicenseKey)
	h.logger.InfoContext(ctx, "verification completed",
		slog.String("key", license.MaskKey(req.LicenseKey)),
		slog.String("state", string(result.State)),
		slog.Bool("offline", result.Offline))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifyResponse{
		Authenticated: result.Authenticated(),
		State:         string(result.State),
		Status:        string(result.Status),
		ExpiresAt:     result.ExpiresAt,
		Message:       result.Message,
		Offline:       result.Offline,
		TraceID:       infrastructure.GetTraceID(ctx),
	})
}

// StatusResponse describes the cached license record, key masked.
type StatusResponse struct {
	HasRecord     bool      `json:"has_record"`
	MaskedKey     string    `json:"masked_key,omitempty"`
	Status        string    `json:"status,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// Status handles GET /api/license/status. It only reads the offline
// cache; no network traffic is generated.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	record, ok := h.auth.CachedRecord()
	if !ok {
		render.JSON(w, r, StatusResponse{HasRecord: false})
		return
	}
	render.JSON(w, r, StatusResponse{
		HasRecord:     true,
		MaskedKey:     license.MaskKey(record.Key),
		Status:        string(record.Status),
		ExpiresAt:     record.ExpiresAt,
		LastCheckedAt: record.LastCheckedAt,
		Message:       record.LastMessage,
	})
}
