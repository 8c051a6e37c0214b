package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(draws.WithLabelValues("win"))
	RecordDraw("win")
	assert.Equal(t, before+1, testutil.ToFloat64(draws.WithLabelValues("win")))

	before = testutil.ToFloat64(drawRejections.WithLabelValues("already_claimed"))
	RecordDrawRejection("already_claimed")
	assert.Equal(t, before+1, testutil.ToFloat64(drawRejections.WithLabelValues("already_claimed")))

	before = testutil.ToFloat64(drawConflicts)
	RecordDrawConflict()
	assert.Equal(t, before+1, testutil.ToFloat64(drawConflicts))

	before = testutil.ToFloat64(inventoryDrift)
	RecordInventoryDrift()
	assert.Equal(t, before+1, testutil.ToFloat64(inventoryDrift))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/lotteries/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := httpRequests.WithLabelValues(http.MethodGet, "/lotteries/:id", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lotteries/"+id, nil))
	}
	assert.Equal(t, before+2, testutil.ToFloat64(counter))

	unmatched := httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404")
	before = testutil.ToFloat64(unmatched)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(unmatched))
}
