package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisLimited allows one request per caller per hour, so a run never
// straddles two windows in practice.
func redisLimited(t *testing.T) (*gin.Engine, *mr.Miniredis) {
	t.Helper()
	m := mr.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(ContextUserKey, &models.User{ID: id})
		}
		c.Next()
	})
	r.Use(RedisRateLimitMiddleware(client, 0, 1, time.Hour))
	r.GET("/r", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r, m
}

func get(r *gin.Engine, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/r", nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRedisRateLimit_RejectsWithCode(t *testing.T) {
	r, _ := redisLimited(t)

	require.Equal(t, http.StatusOK, get(r, "").Code)

	w := get(r, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Code)
}

func TestRedisRateLimit_SeparateBucketPerUser(t *testing.T) {
	r, m := redisLimited(t)

	require.Equal(t, http.StatusOK, get(r, "alice").Code)
	require.Equal(t, http.StatusOK, get(r, "bob").Code)
	require.Equal(t, http.StatusTooManyRequests, get(r, "alice").Code)
	require.Equal(t, http.StatusTooManyRequests, get(r, "bob").Code)

	// anonymous callers are keyed by IP, independent of the users
	require.Equal(t, http.StatusOK, get(r, "").Code)

	var userKeys int
	for _, k := range m.Keys() {
		if strings.HasPrefix(k, "rl:user:") {
			userKeys++
			assert.Greater(t, m.TTL(k), time.Duration(0), k)
		}
	}
	assert.Equal(t, 2, userKeys)
}

func TestRedisRateLimit_FailsOpen(t *testing.T) {
	r, m := redisLimited(t)
	require.Equal(t, http.StatusOK, get(r, "alice").Code)

	m.Close()
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(r, "alice").Code)
	}
}

func TestRedisRateLimit_NilClientFallsBackToMemory(t *testing.T) {
	r := gin.New()
	r.Use(RedisRateLimitMiddleware(nil, 0.001, 1, time.Second))
	r.GET("/r", func(c *gin.Context) { c.Status(http.StatusOK) })

	require.Equal(t, http.StatusOK, get(r, "").Code)
	require.Equal(t, http.StatusTooManyRequests, get(r, "").Code)
}
