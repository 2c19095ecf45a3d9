package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkfly/pangolin-operator/internal/pangolin"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

func TestPingChecker(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	require.NoError(t, PingChecker(stubPinger{})(req))

	err := PingChecker(stubPinger{err: errBoom})(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "pangolin API unhealthy")
}

func TestPingChecker_PangolinClient(t *testing.T) {
	t.Parallel()

	var status atomic.Int32

	status.Store(http.StatusOK)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/org/home/resources", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(server.Close)

	client := pangolin.NewClient(pangolin.Options{BaseURL: server.URL, OrgID: "home", RateLimit: -1})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	require.NoError(t, PingChecker(client)(req))

	status.Store(http.StatusForbidden)

	require.Error(t, PingChecker(client)(req))
}
