package certclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/certificates", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, client.CheckHealth(context.Background()))
}

func TestCheckHealthNon200(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	require.Error(t, client.CheckHealth(context.Background()))
}

func TestInstallNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "11222333000181", payload["cnpj"])
		w.WriteHeader(http.StatusNotFound)
	})
	err := client.Install(context.Background(), "11222333000181")
	require.ErrorIs(t, err, ErrIdentityUnavailable)
}

func TestClearAndInstall(t *testing.T) {
	t.Parallel()

	var calls []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	ctx := context.Background()
	require.NoError(t, client.Clear(ctx))
	require.NoError(t, client.Install(ctx, "11222333000181"))
	assert.Equal(t, []string{"/certificates/clear", "/certificates/install"}, calls)
}

func TestOperationsAreCounted(t *testing.T) {
	metrics.Init()

	okClient := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	failClient := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	require.NoError(t, okClient.Organize(ctx))
	require.Error(t, failClient.Organize(ctx))

	// No other test calls Organize, so these series belong to this test alone.
	assert.Equal(t, 1.0, certificateOpCount(t, "organize", "ok"))
	assert.Equal(t, 1.0, certificateOpCount(t, "organize", "error"))
}

func certificateOpCount(t *testing.T, op, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "harvest_certificate_ops_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["op"] == op && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestList(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Certificate{{RegistrationID: "11222333000181"}})
	})
	certs, err := client.List(context.Background(), 2, 5)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "11222333000181", certs[0].RegistrationID)
}
