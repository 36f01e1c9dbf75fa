package federation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func healthyRemoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	srv := healthyRemoteServer(t)
	r := NewRegistry()

	require.NoError(t, r.Register(&Remote{ID: "r1", Name: "office", URL: srv.URL}))
	err := r.Register(&Remote{ID: "r2", Name: "office", URL: srv.URL})
	require.ErrorIs(t, err, ErrDuplicateName)

	remote, ok := r.GetByName("office")
	require.True(t, ok)
	require.Equal(t, "r1", remote.ID)
}

func TestUnregisterClearsSessionMappings(t *testing.T) {
	srv := healthyRemoteServer(t)
	r := NewRegistry()
	require.NoError(t, r.Register(&Remote{ID: "r1", Name: "laptop", URL: srv.URL}))

	r.UpdateSessions("r1", []string{"s1", "s2"})
	_, ok := r.GetBySessionID("s1")
	require.True(t, ok)

	r.Unregister("r1")

	_, ok = r.GetBySessionID("s1")
	require.False(t, ok)
	_, ok = r.GetBySessionID("s2")
	require.False(t, ok)
	_, ok = r.GetByName("laptop")
	require.False(t, ok)
}

func TestAddSessionIsIncremental(t *testing.T) {
	srv := healthyRemoteServer(t)
	r := NewRegistry()
	require.NoError(t, r.Register(&Remote{ID: "r1", Name: "desktop", URL: srv.URL}))

	r.UpdateSessions("r1", []string{"s1"})
	r.AddSession("r1", "s2")

	owner1, ok := r.GetBySessionID("s1")
	require.True(t, ok)
	require.Equal(t, "r1", owner1.ID)
	owner2, ok := r.GetBySessionID("s2")
	require.True(t, ok)
	require.Equal(t, "r1", owner2.ID)
}

func TestRegisterFailsInitialHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRegistry()
	err := r.Register(&Remote{ID: "r1", Name: "flaky", URL: srv.URL})
	require.Error(t, err)

	_, ok := r.GetByName("flaky")
	require.False(t, ok)
}
