package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/shared"
)

func loginServer(t *testing.T, logins *int32, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			http.NotFound(w, r)
			return
		}
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := atomic.AddInt32(logins, 1)
		time.Sleep(delay)
		_ = json.NewEncoder(w).Encode(loginResponse{Token: "tok-" + string(rune('0'+n)), ExpiresIn: 3600})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCredentialsDigestHidesPassword(t *testing.T) {
	a := Credentials{BaseURL: "https://x", Username: "u", Password: "p1"}
	b := Credentials{BaseURL: "https://x", Username: "u", Password: "p2"}
	assert.Len(t, a.Digest(), 64)
	assert.NotEqual(t, a.Digest(), b.Digest())
	assert.NotContains(t, a.Digest(), "p1")
}

func TestMemorySessionCacheExpires(t *testing.T) {
	cache := NewMemorySessionCache()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", Session{Token: "abc", ExpiresAt: now.Add(time.Hour)}))
	s, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.Token)

	now = now.Add(time.Hour)
	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSessionMiss)
}

func TestRedisSessionCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisSessionCache(client)
	ctx := context.Background()

	_, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSessionMiss)

	require.NoError(t, cache.Set(ctx, "k", Session{Token: "abc", ExpiresAt: time.Now().Add(time.Hour)}))
	s, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.Token)
	assert.True(t, mr.TTL("pampa:session:k") > 0)

	require.NoError(t, cache.Delete(ctx, "k"))
	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSessionMiss)
}

func TestSessionProviderLogsInOnceForConcurrentCallers(t *testing.T) {
	var logins int32
	srv := loginServer(t, &logins, 50*time.Millisecond)
	provider := NewSessionProvider(Credentials{BaseURL: srv.URL, Username: "u", Password: "secret"}, NewMemorySessionCache(), srv.Client())

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := provider.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&logins))
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}

	require.NoError(t, provider.Invalidate(context.Background()))
	tok, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestSessionProviderRejectedCredentials(t *testing.T) {
	var logins int32
	srv := loginServer(t, &logins, 0)
	provider := NewSessionProvider(Credentials{BaseURL: srv.URL, Username: "u", Password: "wrong"}, nil, srv.Client())

	_, err := provider.Token(context.Background())
	var ext *shared.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, http.StatusUnauthorized, ext.StatusCode)
	assert.False(t, ext.Retryable)
}

type brokenCache struct{ sets int32 }

func (c *brokenCache) Get(context.Context, string) (Session, error) { return Session{}, ErrSessionMiss }
func (c *brokenCache) Set(context.Context, string, Session) error {
	atomic.AddInt32(&c.sets, 1)
	return errors.New("redis: connection pool timeout")
}
func (c *brokenCache) Delete(context.Context, string) error { return nil }

func TestSessionProviderLogsCacheWriteFailure(t *testing.T) {
	var logins int32
	srv := loginServer(t, &logins, 0)
	var buf bytes.Buffer
	cache := &brokenCache{}
	provider := NewSessionProvider(Credentials{BaseURL: srv.URL, Username: "u", Password: "secret"}, cache, srv.Client()).
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	tok, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&cache.sets))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "connection pool timeout")

	tok, err = provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}
