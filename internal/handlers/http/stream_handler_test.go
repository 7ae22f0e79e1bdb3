package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/internal/core/services"
	"aircast/internal/infrastructure/middleware"
	"aircast/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type handlerFixture struct {
	router    *gin.Engine
	store     ports.StreamStore
	lifecycle *services.LifecycleService
	tokens    ports.TokenService
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	return newHandlerFixtureWith(t, memory.NewMemoryStreamStore())
}

func newHandlerFixtureWith(t *testing.T, store ports.StreamStore) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t).Sugar()
	lifecycle := services.NewLifecycleService(store, nil, logger)
	tokens := services.NewTokenService("test-secret", time.Hour)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	NewStreamHandler(store, lifecycle, tokens).SetupRoutes(router)

	return &handlerFixture{
		router:    router,
		store:     store,
		lifecycle: lifecycle,
		tokens:    tokens,
	}
}

func (f *handlerFixture) seedStream(t *testing.T, stream *domain.Stream) {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), stream))
}

func (f *handlerFixture) do(method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func TestListLiveStreams(t *testing.T) {
	f := newHandlerFixture(t)
	now := time.Now()
	f.seedStream(t, &domain.Stream{ID: 1, OwnerID: 42, Title: "live one", IsLive: true, StartedAt: &now})
	f.seedStream(t, &domain.Stream{ID: 2, OwnerID: 42, Title: "offline"})

	w := f.do(http.MethodGet, "/api/v1/streams/live", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Streams []domain.Stream `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Streams, 1)
	assert.Equal(t, domain.StreamID(1), body.Streams[0].ID)
	assert.True(t, body.Streams[0].IsLive)
}

// downStore delegates to a working store but fails every listing.
type downStore struct {
	ports.StreamStore
}

func (downStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	return nil, errors.New("redis: connection refused")
}

func TestListLiveStreamsStoreDown(t *testing.T) {
	f := newHandlerFixtureWith(t, downStore{memory.NewMemoryStreamStore()})

	w := f.do(http.MethodGet, "/api/v1/streams/live", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["error"])
}

func TestGetStreamStatus(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("invalid id", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/v1/streams/abc/status", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown stream", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/v1/streams/999/status", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("falls back to the stored record", func(t *testing.T) {
		now := time.Now()
		f.seedStream(t, &domain.Stream{ID: 3, OwnerID: 42, IsLive: true, ViewerCount: 5, PeakViewerCount: 9, StartedAt: &now})

		w := f.do(http.MethodGet, "/api/v1/streams/3/status", "")
		require.Equal(t, http.StatusOK, w.Code)

		var status domain.StreamStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, domain.StreamID(3), status.StreamID)
		assert.True(t, status.IsLive)
		assert.Equal(t, 5, status.ViewerCount)
		assert.Equal(t, 9, status.PeakViewerCount)
	})

	t.Run("prefers the coordinator session", func(t *testing.T) {
		f.seedStream(t, &domain.Stream{ID: 4, OwnerID: 42})
		require.NoError(t, f.lifecycle.StreamLive(context.Background(), 4))
		f.lifecycle.ViewerCountChanged(context.Background(), 4, 2)

		w := f.do(http.MethodGet, "/api/v1/streams/4/status", "")
		require.Equal(t, http.StatusOK, w.Code)

		var status domain.StreamStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.True(t, status.IsLive)
		assert.Equal(t, 2, status.ViewerCount)
		assert.NotNil(t, status.StartedAt)
	})
}

func TestEndStream(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedStream(t, &domain.Stream{ID: 5, OwnerID: 42, IsLive: true})
	require.NoError(t, f.lifecycle.StreamLive(context.Background(), 5))

	ownerToken, err := f.tokens.GenerateToken(42, "owner")
	require.NoError(t, err)
	strangerToken, err := f.tokens.GenerateToken(99, "stranger")
	require.NoError(t, err)

	t.Run("requires a token", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/streams/5/end", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects garbage tokens", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/streams/5/end", "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects non-owners", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/streams/5/end", strangerToken)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown stream", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/streams/999/end", ownerToken)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("owner ends the stream, repeat succeeds", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/streams/5/end", ownerToken)
		assert.Equal(t, http.StatusOK, w.Code)

		require.Eventually(t, func() bool {
			stream, err := f.store.GetByID(context.Background(), 5)
			return err == nil && !stream.IsLive && stream.EndedAt != nil
		}, 2*time.Second, 10*time.Millisecond)

		w = f.do(http.MethodPost, "/api/v1/streams/5/end", ownerToken)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
