package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pampa-erp/pampa/internal/shared"
)

// Record is one document pulled from the external accounting platform.
type Record struct {
	ExternalID string          `json:"id"`
	Resource   string          `json:"-"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Payload    json.RawMessage `json:"-"`
}

type pageResponse struct {
	Data     []json.RawMessage `json:"data"`
	NextPage int               `json:"next_page"`
}

// PlatformClient reads documents from the external accounting platform.
type PlatformClient struct {
	baseURL     string
	http        *http.Client
	sessions    *SessionProvider
	maxAttempts int
	backoff     time.Duration
	pageSize    int
	logger      *slog.Logger
}

// PlatformOption tweaks a PlatformClient.
type PlatformOption func(*PlatformClient)

// WithRetry sets the attempt budget per page and the base backoff.
func WithRetry(attempts int, backoff time.Duration) PlatformOption {
	return func(c *PlatformClient) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		c.backoff = backoff
	}
}

// WithPageSize sets the page size requested from the platform.
func WithPageSize(n int) PlatformOption {
	return func(c *PlatformClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) PlatformOption {
	return func(c *PlatformClient) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewPlatformClient(baseURL string, sessions *SessionProvider, client *http.Client, opts ...PlatformOption) *PlatformClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	c := &PlatformClient{
		baseURL:     baseURL,
		http:        client,
		sessions:    sessions,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		pageSize:    100,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSince returns every record of resource updated at or after since,
// walking all pages.
func (c *PlatformClient) ListSince(ctx context.Context, resource string, since time.Time) ([]Record, error) {
	var out []Record
	page := 1
	for page > 0 {
		resp, err := c.fetchPage(ctx, resource, since, page)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Data {
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, &shared.ExternalServiceError{Service: "platform", Op: "list " + resource, Err: fmt.Errorf("decode record: %w", err)}
			}
			if rec.ExternalID == "" {
				return nil, &shared.ExternalServiceError{Service: "platform", Op: "list " + resource, Err: errors.New("record without id")}
			}
			rec.Resource = resource
			rec.Payload = raw
			out = append(out, rec)
		}
		if resp.NextPage <= page {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

func (c *PlatformClient) fetchPage(ctx context.Context, resource string, since time.Time, page int) (pageResponse, error) {
	var (
		lastErr  error
		relogged bool
		attempts int
	)
	for attempts < c.maxAttempts {
		attempts++
		resp, err := c.doPage(ctx, resource, since, page)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var ext *shared.ExternalServiceError
		if !errors.As(err, &ext) {
			return pageResponse{}, err
		}
		if ext.StatusCode == http.StatusUnauthorized && !relogged {
			relogged = true
			attempts--
			c.logger.Warn("platform session rejected, logging in again", slog.String("resource", resource))
			_ = c.sessions.Invalidate(ctx)
			continue
		}
		if !ext.Retryable {
			return pageResponse{}, err
		}
		if attempts < c.maxAttempts {
			c.logger.Warn("platform page retry",
				slog.String("resource", resource),
				slog.Int("page", page),
				slog.Int("attempt", attempts),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
				return pageResponse{}, &shared.ExternalServiceError{Service: "platform", Op: "list " + resource, Retryable: true, Err: ctx.Err()}
			case <-time.After(c.backoff * time.Duration(1<<(attempts-1))):
			}
		}
	}
	return pageResponse{}, lastErr
}

func (c *PlatformClient) doPage(ctx context.Context, resource string, since time.Time, page int) (pageResponse, error) {
	op := "list " + resource
	token, err := c.sessions.Token(ctx)
	if err != nil {
		return pageResponse{}, err
	}
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.pageSize))
	endpoint := fmt.Sprintf("%s/api/%s?%s", c.baseURL, url.PathEscape(resource), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pageResponse{}, &shared.ExternalServiceError{Service: "platform", Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return pageResponse{}, &shared.ExternalServiceError{Service: "platform", Op: op, Retryable: true, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return pageResponse{}, statusError("platform", op, resp)
	}
	var out pageResponse
	if err := json.NewDecoder(limitBody(resp)).Decode(&out); err != nil {
		return pageResponse{}, &shared.ExternalServiceError{Service: "platform", Op: op, Err: fmt.Errorf("decode page: %w", err)}
	}
	return out, nil
}
