package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	httpH "github.com/yungbote/famlink-backend/internal/http/handlers"
	httpMW "github.com/yungbote/famlink-backend/internal/http/middleware"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.DB(t)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	authSvc := services.NewAuthService(db, log,
		repos.NewUserRepo(db, log),
		repos.NewUserTokenRepo(db, log),
		services.AuthConfig{JWTSecretKey: "router-test-secret", AccessTTL: 15 * time.Minute, RefreshTTL: 720 * time.Hour},
	)

	return NewRouter(RouterConfig{
		Log:            log,
		AuthHandler:    httpH.NewAuthHandler(authSvc),
		AuthMiddleware: httpMW.NewAuthMiddleware(log, authSvc),
		FamilyHandler:  httpH.NewFamilyHandler(log, nil),
		MessageHandler: httpH.NewMessageHandler(log, nil),
		CheckInHandler: httpH.NewCheckInHandler(log, nil),
		ReportHandler:  httpH.NewReportHandler(log, nil, nil),
		HealthHandler:  httpH.NewHealthHandler(),
	})
}

func request(t *testing.T, r *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouterExposesAPISurface(t *testing.T) {
	r := newTestRouter(t)

	want := []struct{ method, path string }{
		{http.MethodGet, "/healthcheck"},
		{http.MethodPost, "/register"},
		{http.MethodPost, "/login"},
		{http.MethodPost, "/refresh"},
		{http.MethodPost, "/api/logout"},
		{http.MethodPost, "/api/families"},
		{http.MethodGet, "/api/families"},
		{http.MethodGet, "/api/families/:id"},
		{http.MethodPatch, "/api/families/:id/settings"},
		{http.MethodPost, "/api/families/:id/subscription"},
		{http.MethodPost, "/api/families/:id/parents"},
		{http.MethodPost, "/api/families/:id/children"},
		{http.MethodDelete, "/api/families/:id/children/:childId"},
		{http.MethodGet, "/api/families/:id/translations"},
		{http.MethodPost, "/api/translations/:id/feedback"},
		{http.MethodPost, "/api/messages"},
		{http.MethodGet, "/api/families/:id/checkins"},
		{http.MethodPost, "/api/checkins/:id/answers"},
		{http.MethodPost, "/api/checkins/:id/cancel"},
		{http.MethodGet, "/api/families/:id/reports"},
		{http.MethodPost, "/api/families/:id/reports"},
		{http.MethodGet, "/api/reports/:id/chart.png"},
	}

	routes := map[string]bool{}
	for _, ri := range r.Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}
	for _, w := range want {
		if !routes[w.method+" "+w.path] {
			t.Errorf("route missing: %s %s", w.method, w.path)
		}
	}
}

func TestRouterAuthBoundary(t *testing.T) {
	r := newTestRouter(t)

	// Health is public.
	rec := request(t, r, http.MethodGet, "/healthcheck", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthcheck status: got=%d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("trace middleware not wired: X-Request-Id missing")
	}

	// Protected routes reject missing and garbage tokens.
	rec = request(t, r, http.MethodPost, "/api/logout", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status: got=%d", rec.Code)
	}
	rec = request(t, r, http.MethodPost, "/api/logout", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status: got=%d", rec.Code)
	}
}

func TestRouterAuthRoundTrip(t *testing.T) {
	r := newTestRouter(t)

	email := fmt.Sprintf("pat+%d@example.com", time.Now().UnixNano())
	rec := request(t, r, http.MethodPost, "/register", "", gin.H{
		"email": email, "password": "correct-horse-battery", "first_name": "Pat",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status: got=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = request(t, r, http.MethodPost, "/login", "", gin.H{"email": email, "password": "correct-horse-battery"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status: got=%d body=%s", rec.Code, rec.Body.String())
	}
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("token pair incomplete: %+v", pair)
	}

	// The refresh endpoint works without an access token.
	rec = request(t, r, http.MethodPost, "/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status: got=%d body=%s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}

	rec = request(t, r, http.MethodPost, "/api/logout", pair.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated logout status: got=%d body=%s", rec.Code, rec.Body.String())
	}
}
