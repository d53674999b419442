package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsChainAndRegistry(t *testing.T) {
	m := NewMetrics()

	m.RecordChain("client", "secure_request", "send_success", 10*time.Millisecond)
	m.RecordChain("client", "secure_request", "send_success", 5*time.Millisecond)
	m.RecordContextBuild("client", nil)
	m.RecordContextBuild("client", errors.New("load failed"))
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordRegistryReload(3, nil)
	m.RecordRegistryReload(0, errors.New("bad file"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chainsTotal.WithLabelValues("client", "secure_request", "send_success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.contextBuilds.WithLabelValues("client", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registryReloads.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.registryEpoch))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "authchain_chain_operations_total"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordChain("server", "validate_request", "success", time.Millisecond)
	m.RecordContextBuild("server", nil)
	m.RecordCacheLookup(false)
	m.RecordRegistryReload(1, nil)
}
