package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/afwm/CCBP-pub/internal/config"
	apperrors "github.com/afwm/CCBP-pub/internal/errors"
	"github.com/afwm/CCBP-pub/internal/infrastructure"
)

// State identifies a step of the verification state machine.
type State string

const (
	StateUnchecked       State = "unchecked"
	StateOnlineChecking  State = "online_checking"
	StateOnlineFailed    State = "online_failed"
	StateOfflineChecking State = "offline_checking"
	StateAuthenticated   State = "authenticated"
	StateDenied          State = "denied"
)

// AuthResult is the terminal outcome of an authentication attempt. No
// error ever crosses the Authenticate boundary; every failure mode is
// folded into a Denied result with a message.
type AuthResult struct {
	State     State     `json:"state"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Message   string    `json:"message"`
	// Offline reports whether the verdict came from the cached record
	// rather than a live server response.
	Offline bool `json:"offline"`
}

// Authenticated reports whether the result grants access.
func (r AuthResult) Authenticated() bool {
	return r.State == StateAuthenticated
}

// verifyResponse is the license endpoint's JSON response payload.
type verifyResponse struct {
	Status              string `json:"status"`
	ExpiresAt           string `json:"expires_at"`
	Timestamp           string `json:"timestamp"`
	ResponseSignature   string `json:"response_signature"`
	PersistentSignature string `json:"persistent_signature"`
}

// verifyRequest is the license endpoint's JSON request payload.
type verifyRequest struct {
	LicenseKey string `json:"license_key"`
}

// Authenticator orchestrates the online check, cache write and offline
// fallback. It is stateless across calls apart from the configuration it
// holds and the on-disk cache it maintains.
type Authenticator struct {
	cfg    config.LicenseConfig
	store  *CacheStore
	client *http.Client
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAuthenticator builds an authenticator from the license configuration.
func NewAuthenticator(cfg config.LicenseConfig, logger *slog.Logger) (*Authenticator, error) {
	key, err := cfg.DecodedCacheKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfig, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "license_authenticator"))

	store, err := NewCacheStore(cfg.CachePath, key, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfig, err)
	}

	return &Authenticator{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Authenticate verifies the candidate license key. The online path is
// attempted first; network errors, malformed responses and signature
// mismatches all fall through to the offline path. An explicit denial
// from the server is terminal and skips the offline path entirely, so a
// cached "valid" record can never override a server rejection.
func (a *Authenticator) Authenticate(ctx context.Context, licenseKey string) AuthResult {
	tracer := otel.Tracer("license-authenticator")
	ctx, span := tracer.Start(ctx, "license.authenticate",
		trace.WithAttributes(
			attribute.String("license.key_masked", MaskKey(licenseKey)),
		),
	)
	defer span.End()

	logger := infrastructure.LoggerFromContext(ctx).With(
		slog.String("component", "license_authenticator"),
		slog.String("license_key_masked", MaskKey(licenseKey)),
	)

	if licenseKey == "" {
		return AuthResult{
			State:   StateDenied,
			Status:  StatusUnknown,
			Message: "no license key provided",
		}
	}

	logger.InfoContext(ctx, "starting online license check",
		slog.String("state", string(StateOnlineChecking)),
	)

	result, err := a.checkOnline(ctx, licenseKey)
	if err == nil {
		span.SetAttributes(attribute.String("license.state", string(result.State)))
		return result
	}

	// Server denials are terminal: no offline fallback.
	var denied *deniedError
	if errors.As(err, &denied) {
		logger.WarnContext(ctx, "license rejected by server",
			slog.String("status", string(denied.status)),
		)
		span.SetAttributes(attribute.String("license.state", string(StateDenied)))
		return AuthResult{
			State:     StateDenied,
			Status:    denied.status,
			ExpiresAt: denied.expiresAt,
			Message:   denied.message,
		}
	}

	logger.WarnContext(ctx, "online check failed, falling back to offline check",
		slog.String("state", string(StateOnlineFailed)),
		slog.String("error", err.Error()),
	)

	result = a.checkOffline(ctx, licenseKey)
	span.SetAttributes(
		attribute.String("license.state", string(result.State)),
		attribute.Bool("license.offline", true),
	)
	return result
}

// deniedError carries an explicit server rejection through the online
// check so Authenticate can distinguish it from recoverable failures.
type deniedError struct {
	status    Status
	expiresAt time.Time
	message   string
}

func (e *deniedError) Error() string { return e.message }

// checkOnline performs the network call and response verification.
// Recoverable failures (network, malformed response, bad signature)
// come back as plain errors; an explicit rejection comes back as a
// *deniedError.
func (a *Authenticator) checkOnline(ctx context.Context, licenseKey string) (AuthResult, error) {
	body, err := json.Marshal(verifyRequest{LicenseKey: licenseKey})
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AuthResult{}, fmt.Errorf("%w: unexpected status %d", apperrors.ErrNetwork, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return AuthResult{}, fmt.Errorf("%w: malformed response body", apperrors.ErrNetwork)
	}

	// A response with a bad signature must never be trusted, not even its
	// denial verdict. Recovery is identical to a network failure.
	if !VerifyResponse(a.cfg.SecretKey, licenseKey, vr.Status, vr.ExpiresAt, vr.Timestamp, vr.ResponseSignature) {
		return AuthResult{}, apperrors.ErrSignatureMismatch
	}

	expiresAt, err := time.Parse(time.RFC3339, vr.ExpiresAt)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: invalid expires_at %q", apperrors.ErrNetwork, vr.ExpiresAt)
	}

	now := a.now().UTC()
	status := Status(vr.Status)

	if status != StatusValid {
		return AuthResult{}, &deniedError{
			status:    status,
			expiresAt: expiresAt,
			message:   fmt.Sprintf("license rejected by server: %s", vr.Status),
		}
	}
	if !expiresAt.After(now) {
		return AuthResult{}, &deniedError{
			status:    StatusExpired,
			expiresAt: expiresAt,
			message:   fmt.Sprintf("license expired on %s", expiresAt.Format("2006-01-02")),
		}
	}

	message := fmt.Sprintf("license valid until %s", expiresAt.Format("2006-01-02"))

	record := Record{
		Key:                 licenseKey,
		Status:              StatusValid,
		ExpiresAt:           expiresAt,
		LastCheckedAt:       now,
		LastMessage:         message,
		PersistentSignature: vr.PersistentSignature,
	}
	if err := a.store.Save(record); err != nil {
		// A failed cache write does not invalidate a verified online
		// check; the next offline run just won't have a record.
		a.logger.WarnContext(ctx, "failed to persist license record",
			slog.String("error", err.Error()),
		)
	}

	return AuthResult{
		State:     StateAuthenticated,
		Status:    StatusValid,
		ExpiresAt: expiresAt,
		Message:   message,
	}, nil
}

// checkOffline validates the candidate key against the cached record.
// Three checks must all hold: the cached key matches, the license has not
// expired, and the last successful online check is within the grace
// window. The stored persistent signature is not re-verified here; the
// record was only ever written after a verified online check and the
// blob itself is authenticated by the cache cipher.
func (a *Authenticator) checkOffline(ctx context.Context, licenseKey string) AuthResult {
	logger := infrastructure.LoggerFromContext(ctx).With(
		slog.String("component", "license_authenticator"),
		slog.String("state", string(StateOfflineChecking)),
	)

	record, err := a.store.Load()
	if err != nil {
		// Corrupt and missing blobs are identical here.
		logger.InfoContext(ctx, "offline check failed: no usable cached record")
		return AuthResult{
			State:   StateDenied,
			Status:  StatusUnknown,
			Message: "license server unreachable and no offline record exists",
			Offline: true,
		}
	}

	if record.Key != licenseKey {
		logger.WarnContext(ctx, "offline check failed: cached record is for a different key")
		return AuthResult{
			State:   StateDenied,
			Status:  StatusUnknown,
			Message: "license server unreachable and no offline record exists for this key",
			Offline: true,
		}
	}

	now := a.now().UTC()
	if !record.ExpiresAt.After(now) {
		logger.WarnContext(ctx, "offline check failed: cached license expired",
			slog.Time("expires_at", record.ExpiresAt),
		)
		return AuthResult{
			State:     StateDenied,
			Status:    StatusExpired,
			ExpiresAt: record.ExpiresAt,
			Message:   fmt.Sprintf("license expired on %s", record.ExpiresAt.Format("2006-01-02")),
			Offline:   true,
		}
	}

	grace := a.cfg.OfflineGracePeriod()
	if now.Sub(record.LastCheckedAt) > grace {
		logger.WarnContext(ctx, "offline check failed: grace period exceeded",
			slog.Time("last_checked_at", record.LastCheckedAt),
			slog.Duration("grace_period", grace),
		)
		return AuthResult{
			State:     StateDenied,
			Status:    StatusUnknown,
			ExpiresAt: record.ExpiresAt,
			Message:   fmt.Sprintf("offline grace period of %d days exceeded; connect to the internet to re-verify", a.cfg.OfflineGraceDays),
			Offline:   true,
		}
	}

	logger.InfoContext(ctx, "offline check succeeded",
		slog.Time("expires_at", record.ExpiresAt),
		slog.Time("last_checked_at", record.LastCheckedAt),
	)
	return AuthResult{
		State:     StateAuthenticated,
		Status:    StatusValid,
		ExpiresAt: record.ExpiresAt,
		Message:   fmt.Sprintf("license valid until %s (offline, last verified %s)", record.ExpiresAt.Format("2006-01-02"), record.LastCheckedAt.Format("2006-01-02")),
		Offline:   true,
	}
}

// CachedRecord exposes the current cached record for status displays.
// The same absence policy applies: any unreadable blob is reported as
// absent via ok=false.
func (a *Authenticator) CachedRecord() (Record, bool) {
	record, err := a.store.Load()
	if err != nil {
		return Record{}, false
	}
	return record, true
}
