package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parkgate/internal/config"
	"parkgate/internal/service"
)

// The handler rejects malformed requests before the service touches the
// engine or the database, so a service wired to nothing is sufficient here.
func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := service.NewGateService(nil, nil, nil, zerolog.Nop())
	h := NewHandler(svc, &config.Config{}, zerolog.Nop())

	r := gin.New()
	h.Register(r, JWTAuth(""))
	return r
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	r := testRouter(t)
	cases := []struct {
		name string
		body string
	}{
		{"not json", "plate=BA12PA3456"},
		{"missing camera", `{"plate_text":"BA12PA3456","confidence":0.9}`},
		{"confidence out of range", `{"camera_id":"cam-1","plate_text":"BA12PA3456","confidence":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestListIdentitiesRequiresPlate(t *testing.T) {
	t.Parallel()

	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIdentityStatusRejectsBadID(t *testing.T) {
	t.Parallel()

	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/identities/not-a-uuid/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListSessionsRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?status=PAUSED", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAdminEndpointsAreGuarded(t *testing.T) {
	t.Parallel()

	r := testRouter(t)
	for _, path := range []string{"/api/v1/admin/sweep", "/api/v1/admin/retry/drain"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s status = %d, want %d", path, w.Code, http.StatusForbidden)
		}
	}
}
