package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kubently/kubently/internal/models"
)

// Sentinel errors the agent branches on.
var (
	// ErrAuthRejected means the fabric refused the cluster id / token pair.
	// Not retryable; the process exits so the operator notices.
	ErrAuthRejected = errors.New("credentials rejected by the fabric")
	// ErrResultDiscarded means the fabric did not know the command id. The
	// dispatcher gave up long ago; the result is dropped.
	ErrResultDiscarded = errors.New("result discarded: command id unknown to the fabric")
	// ErrNoCapabilityRecord means a heartbeat found nothing to refresh and the
	// capabilities must be re-reported.
	ErrNoCapabilityRecord = errors.New("no capability record on the fabric")
)

// postTimeout bounds every non-streaming call to the fabric.
const postTimeout = 10 * time.Second

// Client talks to the fabric's executor surface. All calls present the
// bearer token and cluster id; the stream call has no client-side timeout.
type Client struct {
	baseURL   string
	token     string
	clusterID string
	http      *http.Client
}

// NewClient builds the fabric client from the agent configuration.
func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		token:     cfg.Token,
		clusterID: cfg.ClusterID,
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Stream is one open SSE connection.
type Stream struct {
	body   io.ReadCloser
	events *eventScanner
}

// Next returns the next parsed frame.
func (s *Stream) Next() (*models.StreamEvent, error) {
	return s.events.Next()
}

// Close releases the connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// OpenStream connects to GET /executor/stream. The returned stream stays open
// until the context is canceled, the server closes it, or Close is called.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/executor/stream", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		drain(resp.Body)
		return nil, ErrAuthRejected
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return nil, fmt.Errorf("stream rejected with status %d", resp.StatusCode)
	}
	return &Stream{body: resp.Body, events: newEventScanner(resp.Body)}, nil
}

// PostResult delivers one result. Best-effort-once: the caller logs failures
// and never retries.
func (c *Client) PostResult(ctx context.Context, result *models.Result) error {
	status, err := c.post(ctx, "/executor/results", result)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthRejected
	case http.StatusNotFound:
		return ErrResultDiscarded
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("result for %s exceeds the fabric output cap", result.CommandID)
	default:
		return fmt.Errorf("result delivery failed with status %d", status)
	}
}

// PostCapabilities advertises the local allow-list and mode.
func (c *Client) PostCapabilities(ctx context.Context, rec *models.CapabilityRecord) error {
	status, err := c.post(ctx, "/executor/capabilities", rec)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthRejected
	default:
		return fmt.Errorf("capability report failed with status %d", status)
	}
}

// Heartbeat refreshes the capability record TTL.
func (c *Client) Heartbeat(ctx context.Context) error {
	status, err := c.post(ctx, "/executor/heartbeat", nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthRejected
	case http.StatusNotFound:
		return ErrNoCapabilityRecord
	default:
		return fmt.Errorf("heartbeat failed with status %d", status)
	}
}

// post sends one bounded request and returns the response status. The body is
// drained here so the connection can be reused.
func (c *Client) post(ctx context.Context, path string, payload any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	pctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("POST %s failed: %w", path, err)
	}
	drain(resp.Body)
	return resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Cluster-ID", c.clusterID)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
