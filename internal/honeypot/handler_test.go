package honeypot

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/security"
)

type captureDetector struct {
	seen []security.RequestData
}

func (c *captureDetector) Name() string  { return "capture" }
func (c *captureDetector) Enabled() bool { return true }
func (c *captureDetector) DetectRequest(data security.RequestData) []security.DetectionResult {
	c.seen = append(c.seen, data)
	return nil
}
func (c *captureDetector) DetectResponse(security.ResponseData) []security.DetectionResult { return nil }

func TestHandlerServesFakeDataAndReportsToSecurityEngine(t *testing.T) {
	engine := security.New(config.SecurityConfig{}, nil)
	cap := &captureDetector{}
	engine.RegisterSync(cap)

	h := New(engine, nil)
	r := chi.NewRouter()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Admin panel access granted")

	require.Len(t, cap.seen, 1)
	assert.Equal(t, "honeypot", cap.seen[0].Model)
	assert.Contains(t, cap.seen[0].ToolDefs, "admin")
}

func TestHandlerRedirectsWordpressDecoy(t *testing.T) {
	engine := security.New(config.SecurityConfig{}, nil)
	h := New(engine, nil)
	r := chi.NewRouter()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodGet, "/wp-admin", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/wp-login.php", rec.Header().Get("Location"))
}

func TestHandlerTracksRepeatOffenderAcrossHits(t *testing.T) {
	engine := security.New(config.SecurityConfig{}, nil)
	h := New(engine, nil)
	r := chi.NewRouter()
	h.Mount(r)

	for _, path := range []string{"/admin", "/.env", "/debug"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "9.9.9.9:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
	}

	stats := h.Stats()
	assert.Equal(t, 1, stats.TotalProfiles)
	assert.Equal(t, 3, stats.TotalHoneypotHits)
}
