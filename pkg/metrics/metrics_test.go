package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBusinessCounters(t *testing.T) {
	before := testutil.ToFloat64(paymentsExpired)
	PaymentsExpired(2)
	require.Equal(t, before+2, testutil.ToFloat64(paymentsExpired))

	before = testutil.ToFloat64(paymentsCompleted.WithLabelValues("btc"))
	PaymentCompleted("btc")
	require.Equal(t, before+1, testutil.ToFloat64(paymentsCompleted.WithLabelValues("btc")))

	before = testutil.ToFloat64(trades.WithLabelValues("failed", "contact"))
	Trade("failed", "contact")
	require.Equal(t, before+1, testutil.ToFloat64(trades.WithLabelValues("failed", "contact")))
}

func TestPrometheusMiddleware_CountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	p := NewPrometheus(NewPrometheusOptions{
		ReqCntURLLabelMappingFn: func(c *gin.Context) string { return c.FullPath() },
	})
	p.Use(r)
	r.GET("/things/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things/"+string(rune('a'+i)), nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	require.GreaterOrEqual(t, testutil.ToFloat64(p.reqCnt.WithLabelValues("200", http.MethodGet, "/things/:id", "")), float64(2))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "req_total")
}
