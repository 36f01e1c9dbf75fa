package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vibetunnel-go/vibetunneld/internal/config"
	"github.com/vibetunnel-go/vibetunneld/internal/ptysvc"
	"github.com/vibetunnel-go/vibetunneld/internal/session"
	"github.com/vibetunnel-go/vibetunneld/internal/streamwatch"
)

func newTestRouter(t *testing.T, password string) (*gin.Engine, *session.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	sup := ptysvc.NewSupervisor(store, session.NewBus())

	cfg := &config.Config{
		Password:    password,
		DefaultCols: 80,
		DefaultRows: 24,
	}

	router := NewRouter(Deps{
		Config:     cfg,
		Supervisor: sup,
		Streams:    streamwatch.NewManager(),
	})
	return router, store
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	router, _ := newTestRouter(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionsRouteRejectsMissingBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateListGetTerminateSessionLifecycle(t *testing.T) {
	router, store := newTestRouter(t, "")

	body, err := json.Marshal(createSessionRequest{
		Command: []string{"/bin/sleep", "30"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	listReq := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	termReq := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+created.ID, nil)
	termRec := httptest.NewRecorder()
	router.ServeHTTP(termRec, termReq)
	require.Equal(t, http.StatusOK, termRec.Code)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := store.Get(created.ID)
		require.NoError(t, err)
		if info.Status == session.StatusExited {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s did not exit after terminate", created.ID)
}
