// Package recordstore is a typed CRUD client over the HTTP record collection
// API, with a bounded-TTL read-through cache and retry/backoff for transient
// failures.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"asistencia/internal/metrics"
)

// Filter narrows a List call to records whose fields equal the given values.
type Filter map[string]string

// Client talks to the record store. Construct one per process and share it;
// all collections go through the same cache and retry policy.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// BackoffBase is the first retry delay; doubled per attempt.
	BackoffBase time.Duration

	retries int
	cache   *ttlCache
	log     *zap.Logger

	Entities   *Collection[Entity]
	Monitors   *Collection[Monitor]
	Courses    *Collection[Course]
	Students   *Collection[Student]
	Workshops  *Collection[Workshop]
	Sessions   *Collection[CheckinSession]
	Attendance *Collection[Attendance]
	Visits     *Collection[GestorVisit]
	Users      *Collection[User]
}

// New creates a client. Slowly-changing collections read through the TTL
// cache; students, sessions and attendance always hit the store.
func New(baseURL string, timeout time.Duration, retries int, cacheTTL time.Duration, log *zap.Logger) *Client {
	c := &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: timeout},
		BackoffBase: time.Second,
		retries:     retries,
		cache:       newTTLCache(cacheTTL),
		log:         log,
	}
	c.Entities = &Collection[Entity]{c: c, path: "entities", cached: true}
	c.Monitors = &Collection[Monitor]{c: c, path: "monitors", cached: true}
	c.Courses = &Collection[Course]{c: c, path: "courses", cached: true}
	c.Students = &Collection[Student]{c: c, path: "students"}
	c.Workshops = &Collection[Workshop]{c: c, path: "workshops", cached: true}
	c.Sessions = &Collection[CheckinSession]{c: c, path: "checkin-sessions"}
	c.Attendance = &Collection[Attendance]{c: c, path: "attendance"}
	c.Visits = &Collection[GestorVisit]{c: c, path: "gestor-visits", cached: true}
	c.Users = &Collection[User]{c: c, path: "users", cached: true}
	return c
}

// InvalidateCache drops every cached read. Called after any mutation.
func (c *Client) InvalidateCache() { c.cache.clear() }

// CacheSize reports the number of live cache entries.
func (c *Client) CacheSize() int { return c.cache.size() }

// do performs one request with retries on 5xx and transport errors. 4xx is
// surfaced immediately; 429 is decoded into RateLimitedError for the caller's
// own backoff.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	u := c.BaseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			metrics.StoreRetries.Inc()
			delay := c.BackoffBase << (attempt - 1)
			c.log.Warn("record store retry",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("record store request failed: %w", err)
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("record store error %s: %s", resp.Status, strings.TrimSpace(string(data)))
			continue
		case resp.StatusCode == http.StatusTooManyRequests:
			var hint struct {
				Error      string `json:"error"`
				RetryAfter int    `json:"retryAfter"`
			}
			_ = json.Unmarshal(data, &hint)
			return nil, &RateLimitedError{RetryAfter: hint.RetryAfter}
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		case resp.StatusCode >= 400:
			return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}

		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

// Collection is the typed CRUD surface for one record kind.
type Collection[T any] struct {
	c      *Client
	path   string
	cached bool
}

func (col *Collection[T]) cacheKey(query url.Values) string {
	if len(query) == 0 {
		return col.path
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(col.path)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + query.Get(k))
	}
	return b.String()
}

// List returns records matching the filter.
func (col *Collection[T]) List(ctx context.Context, filter Filter) ([]T, error) {
	query := url.Values{}
	for k, v := range filter {
		query.Set(k, v)
	}

	key := col.cacheKey(query)
	if col.cached {
		if data, ok := col.c.cache.get(key); ok {
			var out []T
			if err := json.Unmarshal(data, &out); err == nil {
				return out, nil
			}
		}
	}

	data, err := col.c.do(ctx, http.MethodGet, col.path, query, nil)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", col.path, err)
	}
	if col.cached {
		col.c.cache.set(key, data)
	}
	return out, nil
}

// Get returns a single record or ErrNotFound.
func (col *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	key := col.cacheKey(url.Values{"id": {id}})
	if col.cached {
		if data, ok := col.c.cache.get(key); ok {
			if err := json.Unmarshal(data, &out); err == nil {
				return out, nil
			}
		}
	}

	data, err := col.c.do(ctx, http.MethodGet, col.path+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", col.path, id, err)
	}
	if col.cached {
		col.c.cache.set(key, data)
	}
	return out, nil
}

// Create persists a new record and returns it with the store-assigned id.
func (col *Collection[T]) Create(ctx context.Context, v T) (T, error) {
	var out T
	data, err := col.c.do(ctx, http.MethodPost, col.path, nil, v)
	if err != nil {
		return out, err
	}
	col.c.cache.clear()
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode created %s: %w", col.path, err)
	}
	return out, nil
}

// Update applies a partial patch and returns the updated record.
func (col *Collection[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	var out T
	data, err := col.c.do(ctx, http.MethodPatch, col.path+"/"+url.PathEscape(id), nil, patch)
	if err != nil {
		return out, err
	}
	col.c.cache.clear()
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode updated %s/%s: %w", col.path, id, err)
	}
	return out, nil
}

// Delete removes a record. Removal is immediate and irreversible; the store's
// 404 for an already-absent record is surfaced as ErrNotFound.
func (col *Collection[T]) Delete(ctx context.Context, id string) error {
	_, err := col.c.do(ctx, http.MethodDelete, col.path+"/"+url.PathEscape(id), nil, nil)
	col.c.cache.clear()
	return err
}
