package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessHandler(t *testing.T) {
	checker := NewChecker()

	rec := httptest.NewRecorder()
	checker.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
}

func TestReadinessAllHealthy(t *testing.T) {
	checker := NewChecker()
	checker.Register("always", func(context.Context) Check {
		return Check{Status: StatusHealthy}
	})

	rec := httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, StatusHealthy, body.Checks["always"].Status)
}

func TestReadinessFailingCheck(t *testing.T) {
	checker := NewChecker()
	checker.Register("ok", func(context.Context) Check {
		return Check{Status: StatusHealthy}
	})
	checker.Register("broken", func(context.Context) Check {
		return Check{Status: StatusUnhealthy, Message: "dependency down"}
	})

	rec := httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, "dependency down", body.Checks["broken"].Message)
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	check := RedisCheck(client)
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	mr.Close()
	assert.Equal(t, StatusUnhealthy, check(context.Background()).Status)
}

func TestBusCheck(t *testing.T) {
	running := make(chan struct{})
	check := BusCheck(running)

	assert.Equal(t, StatusUnhealthy, check(context.Background()).Status)

	close(running)
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)
}
