// Package httptransport implements the RemoteClient over a per-kind REST
// API:
//
//	POST   {base}/{kind}           create
//	PUT    {base}/{kind}/{id}      partial update
//	DELETE {base}/{kind}/{id}      delete
//	GET    {base}/{kind}?scope=s   list a scope's collection
//
// Network errors and 5xx responses are retried with exponential backoff up
// to the configured attempt limit; 4xx responses are never retried.
package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
	syncErrors "github.com/tillsync/tillsync/errors"
	"github.com/tillsync/tillsync/logging"
)

const component = "transport/httptransport"

// Client is the HTTP implementation of tillsync.RemoteClient.
type Client struct {
	baseURL string
	http    *http.Client
	options *Options
	logger  *logging.Logger
}

var _ tillsync.RemoteClient = (*Client)(nil)

// NewClient creates an HTTP remote client with functional options.
func NewClient(baseURL string, opts ...Option) *Client {
	options := applyOptions(opts...)

	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.RequestTimeout}
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.WithComponent(logging.Component("http-client"))
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		options: options,
		logger:  logger,
	}
}

// Create submits a new entity and returns the server-assigned copy.
func (c *Client) Create(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	payload, err := entity.Encode(e)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpCreate, component, err)
	}

	body, err := c.do(ctx, syncErrors.OpCreate, http.MethodPost, c.kindURL(e.Kind()), payload)
	if err != nil {
		return nil, err
	}

	confirmed, err := entity.Decode(e.Kind(), body)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpCreate, component, fmt.Errorf("failed to decode response: %w", err))
	}
	return confirmed, nil
}

// Update applies a partial patch by id and returns the updated entity.
func (c *Client) Update(ctx context.Context, kind entity.Kind, id string, patch json.RawMessage) (entity.Entity, error) {
	body, err := c.do(ctx, syncErrors.OpUpdate, http.MethodPut, c.entityURL(kind, id), patch)
	if err != nil {
		return nil, err
	}

	updated, err := entity.Decode(kind, body)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpUpdate, component, fmt.Errorf("failed to decode response: %w", err))
	}
	return updated, nil
}

// Delete removes an entity by id. A 404 counts as success so that replaying
// a delete of an already-deleted record does not wedge the queue.
func (c *Client) Delete(ctx context.Context, kind entity.Kind, id string) error {
	_, err := c.do(ctx, syncErrors.OpDelete, http.MethodDelete, c.entityURL(kind, id), nil)
	if syncErrors.IsNotFound(err) {
		return nil
	}
	return err
}

// List returns the full current collection for a kind and scope.
func (c *Client) List(ctx context.Context, kind entity.Kind, scopeID string) ([]entity.Entity, error) {
	listURL := c.kindURL(kind) + "?scope=" + url.QueryEscape(scopeID)
	body, err := c.do(ctx, syncErrors.OpRefetch, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpRefetch, component, fmt.Errorf("failed to decode response: %w", err))
	}

	entities := make([]entity.Entity, 0, len(raw))
	for _, data := range raw {
		e, err := entity.Decode(kind, data)
		if err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpRefetch, component, err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Close does nothing; the underlying http.Client needs no teardown.
func (c *Client) Close() error {
	return nil
}

func (c *Client) kindURL(kind entity.Kind) string {
	return c.baseURL + "/" + kind.String() + "s"
}

func (c *Client) entityURL(kind entity.Kind, id string) string {
	return c.kindURL(kind) + "/" + url.PathEscape(id)
}

// do runs one request with retries and returns the response body. Retries
// cover network errors and 5xx responses only.
func (c *Client) do(ctx context.Context, op syncErrors.Operation, method, requestURL string, payload []byte) ([]byte, error) {
	var lastErr error
	wait := c.options.RetryWaitMin

	for attempt := 0; attempt <= c.options.RetryMax; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.String("method", method),
				slog.String("url", requestURL),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return nil, syncErrors.NewNetworkError(op, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
			if wait > c.options.RetryWaitMax {
				wait = c.options.RetryWaitMax
			}
		}

		body, retryable, err := c.attempt(ctx, op, method, requestURL, payload)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// attempt runs a single request. The bool result reports whether the failure
// may be retried.
func (c *Client) attempt(ctx context.Context, op syncErrors.Operation, method, requestURL string, payload []byte) ([]byte, bool, error) {
	attemptCtx := ctx
	if c.options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
		defer cancel()
	}

	var body io.Reader
	compressed := false
	if len(payload) > 0 {
		if c.options.CompressionEnabled && len(payload) > c.options.GzipMinBytes {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			if _, err := gw.Write(payload); err != nil {
				return nil, false, syncErrors.NewWithComponent(op, component, fmt.Errorf("failed to compress request: %w", err))
			}
			if err := gw.Close(); err != nil {
				return nil, false, syncErrors.NewWithComponent(op, component, fmt.Errorf("failed to close gzip writer: %w", err))
			}
			body = &buf
			compressed = true
		} else {
			body = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, requestURL, body)
	if err != nil {
		return nil, false, syncErrors.NewWithComponent(op, component, fmt.Errorf("failed to create request: %w", err))
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, syncErrors.NewNetworkError(op, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := c.readBody(resp)
	if err != nil {
		return nil, false, syncErrors.NewWithComponent(op, component, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, syncErrors.NewNotFoundError(op, fmt.Errorf("server returned 404: %s", strings.TrimSpace(string(respBody))))
	case resp.StatusCode >= 500:
		return nil, true, syncErrors.NewNetworkError(op, fmt.Errorf("server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	default:
		return nil, false, syncErrors.NewWithComponent(op, component, fmt.Errorf("request rejected (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
}

// readBody reads the response body up to the configured size limit.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	limit := c.options.MaxResponseSize
	if limit <= 0 {
		limit = DefaultOptions().MaxResponseSize
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d byte limit", limit)
	}
	return data, nil
}
