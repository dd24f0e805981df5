package resources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	middleware, stop, err := RateLimiter(context.Background(), &Settings{RateLimit: "2-M"})
	require.NoError(t, err)

	defer func() { _ = stop(context.Background()) }()

	router := gin.New()
	router.Use(middleware)
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)

	for range 3 {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_BadFormat(t *testing.T) {
	t.Parallel()

	_, _, err := RateLimiter(context.Background(), &Settings{RateLimit: "lots"})
	require.Error(t, err)
}
