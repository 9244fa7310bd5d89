package http

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/afwm/CCBP-pub/internal/batch"
	"github.com/afwm/CCBP-pub/internal/config"
	"github.com/afwm/CCBP-pub/internal/engine"
	"github.com/afwm/CCBP-pub/internal/license"
	"github.com/afwm/CCBP-pub/internal/project"
	"github.com/afwm/CCBP-pub/internal/rules"
)

const testSecret = "transport-test-secret"

func signedLicenseServer(t *testing.T, status string, expiresAt time.Time) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LicenseKey string `json:"license_key"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		exp := expiresAt.UTC().Format(time.RFC3339)
		ts := time.Now().UTC().Format(time.RFC3339)
		json.NewEncoder(w).Encode(map[string]string{
			"status":               status,
			"expires_at":           exp,
			"timestamp":            ts,
			"response_signature":   license.SignResponse(testSecret, req.LicenseKey, status, exp, ts),
			"persistent_signature": license.SignPersistent(testSecret, req.LicenseKey, exp, status),
		})
	}))
}

func newTestAuth(t *testing.T, apiURL string) *license.Authenticator {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	auth, err := license.NewAuthenticator(config.LicenseConfig{
		APIURL:           apiURL,
		SecretKey:        testSecret,
		CacheKey:         base64.StdEncoding.EncodeToString(key),
		CachePath:        filepath.Join(t.TempDir(), "license.dat"),
		OfflineGraceDays: 14,
		RequestTimeout:   2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return auth
}

func newTestServer(t *testing.T, apiURL string) *Server {
	t.Helper()
	rs, err := rules.Parse([]byte(`{"version":"1.0"}`))
	require.NoError(t, err)
	runner := batch.NewRunner(newTestAuth(t, apiURL), engine.New(rs), 1, slog.Default())
	hub := NewHub(slog.Default())
	go hub.Run()
	t.Cleanup(hub.Stop)
	// Generous limits: the rate-limit behavior has its own test.
	cfg := config.ServerConfig{VerifyRPS: 1000, VerifyBurst: 1000}
	return NewServer(cfg, newTestAuth(t, apiURL), runner, hub, slog.Default())
}

func TestVerifyEndpoint(t *testing.T) {
	srv := signedLicenseServer(t, "valid", time.Now().AddDate(1, 0, 0))
	defer srv.Close()

	api := httptest.NewServer(newTestServer(t, srv.URL).Router())
	defer api.Close()

	body := bytes.NewBufferString(`{"license_key": "KEY-1234"}`)
	resp, err := http.Post(api.URL+"/api/license/verify", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Authenticated)
	assert.Equal(t, "authenticated", out.State)
	assert.NotEmpty(t, out.TraceID)
}

func TestVerifyEndpointDenied(t *testing.T) {
	srv := signedLicenseServer(t, "expired", time.Now().AddDate(-1, 0, 0))
	defer srv.Close()

	api := httptest.NewServer(newTestServer(t, srv.URL).Router())
	defer api.Close()

	resp, err := http.Post(api.URL+"/api/license/verify", "application/json",
		bytes.NewBufferString(`{"license_key": "KEY-1234"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// A denial is a completed verification, not an HTTP failure.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Authenticated)
	assert.Equal(t, "denied", out.State)
}

func TestVerifyEndpointRejectsEmptyKey(t *testing.T) {
	api := httptest.NewServer(newTestServer(t, "http://127.0.0.1:0").Router())
	defer api.Close()

	resp, err := http.Post(api.URL+"/api/license/verify", "application/json",
		bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerifyRateLimit(t *testing.T) {
	srv := signedLicenseServer(t, "valid", time.Now().AddDate(1, 0, 0))
	defer srv.Close()

	auth := newTestAuth(t, srv.URL)
	// One-token limiter with a long refill: the second call must bounce.
	handler := NewLicenseHandler(auth, rate.NewLimiter(rate.Every(time.Hour), 1), slog.Default())

	router := handler.Routes()
	first := httptest.NewRecorder()
	firstReq := httptest.NewRequest(http.MethodPost, "/verify",
		bytes.NewBufferString(`{"license_key": "KEY-1"}`))
	firstReq.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(first, firstReq)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	secondReq := httptest.NewRequest(http.MethodPost, "/verify",
		bytes.NewBufferString(`{"license_key": "KEY-1"}`))
	secondReq.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(second, secondReq)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv := signedLicenseServer(t, "valid", time.Now().AddDate(1, 0, 0))
	defer srv.Close()

	server := newTestServer(t, srv.URL)
	api := httptest.NewServer(server.Router())
	defer api.Close()

	// Before any verification there is no cached record.
	resp, err := http.Get(api.URL + "/api/license/status")
	require.NoError(t, err)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.False(t, status.HasRecord)

	// Verify once, then the status reflects the cache with the key masked.
	_, err = http.Post(api.URL+"/api/license/verify", "application/json",
		bytes.NewBufferString(`{"license_key": "KEY-1234-5678"}`))
	require.NoError(t, err)

	resp, err = http.Get(api.URL + "/api/license/status")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.True(t, status.HasRecord)
	assert.Equal(t, "KEY-****5678", status.MaskedKey)
	assert.Equal(t, "valid", status.Status)
}

func TestJobSubmitValidation(t *testing.T) {
	api := httptest.NewServer(newTestServer(t, "http://127.0.0.1:0").Router())
	defer api.Close()

	resp, err := http.Post(api.URL+"/api/jobs", "application/json",
		bytes.NewBufferString(`{"license_key": "K"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobSubmitAndPoll(t *testing.T) {
	srv := signedLicenseServer(t, "valid", time.Now().AddDate(1, 0, 0))
	defer srv.Close()

	root := t.TempDir()
	template := filepath.Join(root, "template_x")
	require.NoError(t, os.MkdirAll(template, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(template, project.MetaInfoFile),
		[]byte(`{"draft_name": "template_x", "draft_fold_path": "C:/x/template_x", "draft_materials": []}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(template, project.DraftInfoFile), []byte(`{"tracks": []}`), 0644))
	csvPath := filepath.Join(root, "in.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,ProjectName\n1,P1\n"), 0644))

	api := httptest.NewServer(newTestServer(t, srv.URL).Router())
	defer api.Close()

	submit := map[string]string{
		"license_key":          "KEY-1",
		"csv_path":             csvPath,
		"template_project_dir": template,
		"output_projects_dir":  filepath.Join(root, "out"),
	}
	payload, err := json.Marshal(submit)
	require.NoError(t, err)

	resp, err := http.Post(api.URL+"/api/jobs", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var entry jobEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
	resp.Body.Close()
	require.NotEmpty(t, entry.ID)

	// Poll until the background job lands.
	require.Eventually(t, func() bool {
		resp, err := http.Get(api.URL + "/api/jobs/" + entry.ID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var got jobEntry
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			return false
		}
		return got.Status == JobDone && got.Report != nil && got.Report.Processed == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestJobGetUnknown(t *testing.T) {
	api := httptest.NewServer(newTestServer(t, "http://127.0.0.1:0").Router())
	defer api.Close()

	resp, err := http.Get(api.URL + "/api/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	api := httptest.NewServer(newTestServer(t, "http://127.0.0.1:0").Router())
	defer api.Close()

	resp, err := http.Get(api.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(api.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
