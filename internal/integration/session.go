package integration

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/pampa-erp/pampa/internal/shared"
)

// ErrSessionMiss is returned by a SessionCache when no live token is stored.
var ErrSessionMiss = errors.New("integration: session not cached")

// Credentials authenticate against the external accounting platform.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// Digest identifies the credential set without exposing the password.
func (c Credentials) Digest() string {
	sum := blake2b.Sum256([]byte(c.BaseURL + "\x00" + c.Username + "\x00" + c.Password))
	return hex.EncodeToString(sum[:])
}

// Session is a bearer token with its expiry.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the token is still usable at now, leaving a small margin.
func (s Session) Live(now time.Time) bool {
	return s.Token != "" && now.Add(sessionSkew).Before(s.ExpiresAt)
}

const sessionSkew = 30 * time.Second

// SessionCache stores sessions keyed by credential digest.
type SessionCache interface {
	Get(ctx context.Context, key string) (Session, error)
	Set(ctx context.Context, key string, session Session) error
	Delete(ctx context.Context, key string) error
}

// MemorySessionCache keeps sessions in process.
type MemorySessionCache struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{sessions: make(map[string]Session), now: time.Now}
}

func (c *MemorySessionCache) Get(_ context.Context, key string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok || !s.Live(c.now()) {
		delete(c.sessions, key)
		return Session{}, ErrSessionMiss
	}
	return s, nil
}

func (c *MemorySessionCache) Set(_ context.Context, key string, session Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[key] = session
	return nil
}

func (c *MemorySessionCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, key)
	return nil
}

// RedisSessionCache shares sessions between the API and the worker.
type RedisSessionCache struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionCache(client *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{client: client, prefix: "pampa:session:"}
}

func (c *RedisSessionCache) Get(ctx context.Context, key string) (Session, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionMiss
		}
		return Session{}, fmt.Errorf("integration: read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, ErrSessionMiss
	}
	if !s.Live(time.Now()) {
		return Session{}, ErrSessionMiss
	}
	return s, nil
}

func (c *RedisSessionCache) Set(ctx context.Context, key string, session Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

func (c *RedisSessionCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// SessionProvider hands out bearer tokens, logging in at most once per
// credential set when several callers miss the cache together.
type SessionProvider struct {
	creds  Credentials
	cache  SessionCache
	http   *http.Client
	group  singleflight.Group
	now    func() time.Time
	digest string
	logger *slog.Logger
}

func NewSessionProvider(creds Credentials, cache SessionCache, client *http.Client) *SessionProvider {
	if cache == nil {
		cache = NewMemorySessionCache()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SessionProvider{creds: creds, cache: cache, http: client, now: time.Now, digest: creds.Digest(), logger: slog.Default()}
}

// WithLogger sets the logger used to report cache failures.
func (p *SessionProvider) WithLogger(l *slog.Logger) *SessionProvider {
	if l != nil {
		p.logger = l
	}
	return p
}

// Token returns a cached token or logs in for a fresh one.
func (p *SessionProvider) Token(ctx context.Context) (string, error) {
	if s, err := p.cache.Get(ctx, p.digest); err == nil {
		return s.Token, nil
	}
	ch := p.group.DoChan(p.digest, func() (any, error) {
		s, err := p.login(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if err := p.cache.Set(context.WithoutCancel(ctx), p.digest, s); err != nil {
			p.logger.Warn("platform session not cached, next caller logs in again", slog.Any("error", err))
		}
		return s.Token, nil
	})
	select {
	case <-ctx.Done():
		return "", &shared.ExternalServiceError{Service: "platform", Op: "login", Retryable: true, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token after the platform rejected it.
func (p *SessionProvider) Invalidate(ctx context.Context) error {
	return p.cache.Delete(ctx, p.digest)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func (p *SessionProvider) login(ctx context.Context) (Session, error) {
	body, err := json.Marshal(loginRequest{Username: p.creds.Username, Password: p.creds.Password})
	if err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.BaseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return Session{}, &shared.ExternalServiceError{Service: "platform", Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return Session{}, &shared.ExternalServiceError{Service: "platform", Op: "login", Retryable: true, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return Session{}, statusError("platform", "login", resp)
	}
	var out loginResponse
	if err := json.NewDecoder(limitBody(resp)).Decode(&out); err != nil {
		return Session{}, &shared.ExternalServiceError{Service: "platform", Op: "login", Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Token == "" {
		return Session{}, &shared.ExternalServiceError{Service: "platform", Op: "login", Err: errors.New("empty token")}
	}
	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return Session{Token: out.Token, ExpiresAt: p.now().Add(ttl)}, nil
}
