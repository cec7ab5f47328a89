package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findStat(t *testing.T, method, path, status string) int64 {
	t.Helper()
	stats, err := Summary()
	require.NoError(t, err)
	for _, s := range stats {
		if s.Method == method && s.Path == path && s.Status == status {
			return s.Count
		}
	}
	return 0
}

func TestRecordRequest(t *testing.T) {
	before := findStat(t, "GET", "/metrics-test/items", "200")

	RecordRequest("get", "/metrics-test/items?product_id=7", 200, 20*time.Millisecond)
	RecordRequest("GET", "metrics-test/items", 200, 0)
	RecordRequest("GET", "/metrics-test/items", 0, time.Second)

	assert.Equal(t, before+2, findStat(t, "GET", "/metrics-test/items", "200"))
	assert.Equal(t, int64(1), findStat(t, "GET", "/metrics-test/items", StatusTransport))
}

func TestSummarySorted(t *testing.T) {
	RecordRequest("POST", "/metrics-sort/b", 201, time.Millisecond)
	RecordRequest("GET", "/metrics-sort/a", 200, time.Millisecond)

	stats, err := Summary()
	require.NoError(t, err)
	for i := 1; i < len(stats); i++ {
		assert.LessOrEqual(t, stats[i-1].Path, stats[i].Path)
	}
}

func TestForcedLogouts(t *testing.T) {
	before := ForcedLogouts()
	RecordForcedLogout()
	assert.Equal(t, before+1, ForcedLogouts())
}

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/", canonicalPath(""))
	assert.Equal(t, "/cart/get_cart", canonicalPath("cart/get_cart"))
	assert.Equal(t, "/feedback/get_all", canonicalPath("/feedback/get_all?product_id=3"))
}

func TestHandler(t *testing.T) {
	RecordPersist("cart", true)
	RecordPersist("cart", false)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "kotoshop_gateway_requests_total")
	assert.Contains(t, body, `kotoshop_persist_writes_total{key="cart",result="error"}`)
}

func TestServer(t *testing.T) {
	s := NewServer(0)
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}
