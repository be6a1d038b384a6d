package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/resilience"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

func testProxy() *resilience.Proxy {
	cfg := resilience.Config{
		MaxRetries:           2,
		BackoffBase:          time.Millisecond,
		BackoffMultiplier:    2,
		BackoffMax:           2 * time.Millisecond,
		FailureRateThreshold: 50,
		Window:               time.Minute,
		WindowBuckets:        6,
		MinimumCalls:         10,
		OpenStateCooldown:    time.Minute,
		HalfOpenMaxCalls:     1,
		CallTimeout:          time.Second,
	}
	return resilience.NewProxy(cfg, resilience.NewRegistry(cfg, nil), nil, nil)
}

// registryServer serves canned registry answers until healthy is set to false.
func registryServer(t *testing.T) (*httptest.Server, *atomic.Bool, *atomic.Int32) {
	t.Helper()

	var healthy atomic.Bool
	var hits atomic.Int32
	healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events/ON_PRODUCT_CREATED/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id":1,"target_url":"http://a.example.com","secret":"s1","active":true,"event_names":["ON_PRODUCT_CREATED"]},
			{"id":2,"target_url":"http://b.example.com","secret":"","active":false,"event_names":["ON_PRODUCT_CREATED"]}
		]}`))
	})
	mux.HandleFunc("GET /v1/subscriptions/1", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(
			`{"id":1,"target_url":"http://a.example.com","secret":"s1","active":true,"event_names":["ON_PRODUCT_CREATED"]}`,
		))
	})
	mux.HandleFunc("GET /v1/subscriptions/404", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &healthy, &hits
}

func TestRESTSubscriptionRegistry_ListActiveSubscriptionsFor(t *testing.T) {
	server, healthy, hits := registryServer(t)
	registry := NewRESTSubscriptionRegistry(server.URL, server.Client(), testProxy(), time.Minute, nil)
	ctx := context.Background()

	subs, err := registry.ListActiveSubscriptionsFor(ctx, domain.EventProductCreated)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(1), subs[0].ID)
	assert.Equal(t, "s1", subs[0].Secret)
	assert.Equal(t, []domain.EventName{domain.EventProductCreated}, subs[0].EventNames)

	t.Run("FallbackServesCachedAnswer", func(t *testing.T) {
		healthy.Store(false)
		hits.Store(0)

		cached, err := registry.ListActiveSubscriptionsFor(ctx, domain.EventProductCreated)
		require.NoError(t, err)
		assert.Equal(t, subs, cached)
		assert.Equal(t, int32(2), hits.Load(), "both attempts should reach the registry")
	})

	t.Run("FallbackExpiredCache", func(t *testing.T) {
		healthy.Store(false)
		registry.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		defer func() { registry.now = time.Now }()

		_, err := registry.ListActiveSubscriptionsFor(ctx, domain.EventProductCreated)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrUnavailable))
	})
}

func TestRESTSubscriptionRegistry_Get(t *testing.T) {
	server, healthy, hits := registryServer(t)
	registry := NewRESTSubscriptionRegistry(server.URL, server.Client(), testProxy(), time.Minute, nil)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		sub, err := registry.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "http://a.example.com", sub.TargetURL)
		assert.True(t, sub.Active)
	})

	t.Run("NotFoundIsNotRetried", func(t *testing.T) {
		hits.Store(0)
		_, err := registry.Get(ctx, 404)
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("FallbackServesCachedAnswer", func(t *testing.T) {
		healthy.Store(false)
		sub, err := registry.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), sub.ID)
	})

	t.Run("UnknownSubscription", func(t *testing.T) {
		_, err := registry.Get(ctx, 7)
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	})
}
