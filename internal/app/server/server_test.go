package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sifan077/TempLogin/config"
	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
	"github.com/sifan077/TempLogin/internal/app/service"
	"github.com/sifan077/TempLogin/internal/app/token"
	"github.com/sifan077/TempLogin/internal/http/middleware"
	"github.com/sifan077/TempLogin/internal/infra/postgres"
	"github.com/sifan077/TempLogin/internal/infra/sqlite"
)

const adminKey = "admin-key"

func newTestServer(t *testing.T, key string) *Server {
	t.Helper()

	db, err := sqlite.NewGorm(sqlite.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, postgres.AutoMigrate(context.Background(), db, &model.Link{}, &model.AccessLogEntry{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	links := repository.NewLinkRepository(db)
	logs := repository.NewAccessLogRepository(db)
	codec := token.NewCodec()

	return New(Dependencies{
		Config: config.ServerConfig{
			AdminKey:          key,
			ConfirmTTL:        time.Minute,
			RateLimitRequests: 5,
			RateLimitWindow:   time.Minute,
		},
		DB: db,
		Links: service.NewLinkService(service.LinkServiceDeps{
			Links:    links,
			Codec:    codec,
			Defaults: service.IssuanceDefaults{Duration: time.Hour, MaxAccesses: 1},
		}),
		Access: service.NewAccessService(service.AccessServiceDeps{
			Links:     links,
			Codec:     codec,
			AccessLog: service.NewRepositoryAccessLog(logs),
		}),
		AccessLogs: logs,
		Secret:     []byte("secret"),
	})
}

func send(t *testing.T, s *Server, req *http.Request) (*http.Response, string) {
	t.Helper()

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func issueRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(`{"subject_identity":"alice"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+key)
	}
	return req
}

func TestServer_AdminAPIRequiresKey(t *testing.T) {
	s := newTestServer(t, adminKey)

	resp, _ := send(t, s, issueRequest(""))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = send(t, s, issueRequest("wrong"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := send(t, s, issueRequest(adminKey))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	var issued struct {
		Token     string `json:"token"`
		LoginPath string `json:"login_path"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &issued))
	assert.True(t, strings.HasPrefix(issued.LoginPath, "/login/"))

	// The login page is public.
	resp, _ = send(t, s, httptest.NewRequest(http.MethodGet, issued.LoginPath, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_AdminAPIDisabledWithoutKey(t *testing.T) {
	s := newTestServer(t, "")

	resp, _ := send(t, s, issueRequest("anything"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, adminKey)

	resp, body := send(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "ok", out.Checks["database"])
	assert.NotContains(t, out.Checks, "redis")
}

func TestServer_UnknownRouteIsJSON(t *testing.T) {
	s := newTestServer(t, adminKey)

	resp, body := send(t, s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON)
	assert.Contains(t, body, `"error"`)
}
