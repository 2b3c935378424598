// Package upstream provides a typed client for the containerized crawl
// service the proxy fronts: health, job submission, task status and
// results retrieval, authenticated with a bearer token.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// maxBodyBytes caps how much of an upstream response is read into memory.
const maxBodyBytes = 64 << 10

// Health is the payload of the crawl API's GET /health endpoint.
type Health struct {
	Status         string  `json:"status"`
	AvailableSlots int     `json:"available_slots"`
	MemoryUsage    float64 `json:"memory_usage"`
	CPUUsage       float64 `json:"cpu_usage"`
}

// TaskRef identifies a submitted crawl job.
type TaskRef struct {
	TaskID string `json:"task_id"`
}

// TaskStatus reports the state of a crawl job.
type TaskStatus struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// Config controls Client behavior.
type Config struct {
	BaseURL            string
	BearerToken        string
	Timeout            time.Duration
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
}

// Client talks to the crawl API. Calls share a circuit breaker so a dead
// upstream fails fast instead of tying up proxy goroutines on timeouts.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse upstream base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	failures := uint32(cfg.BreakerFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "crawl-api",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Client{
		base:    base,
		token:   cfg.BearerToken,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Health fetches GET /health. The endpoint is unauthenticated so operators
// can probe a deployment before wiring credentials.
func (c *Client) Health(ctx context.Context) (Health, error) {
	body, err := c.get(ctx, "/health", false)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := json.Unmarshal(body, &h); err != nil {
		return Health{}, fmt.Errorf("decode health payload: %w", err)
	}
	return h, nil
}

// SubmitCrawl posts a job to POST /crawl. The service requires a "urls"
// array; a singular "url" field earns a validation error, so an empty list
// is rejected client-side before a round trip is wasted.
func (c *Client) SubmitCrawl(ctx context.Context, urls []string) (TaskRef, error) {
	if len(urls) == 0 {
		return TaskRef{}, errors.New("at least one URL required")
	}
	payload, err := json.Marshal(struct {
		URLs []string `json:"urls"`
	}{URLs: urls})
	if err != nil {
		return TaskRef{}, fmt.Errorf("encode crawl request: %w", err)
	}
	body, err := c.post(ctx, "/crawl", payload)
	if err != nil {
		return TaskRef{}, err
	}
	var ref TaskRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return TaskRef{}, fmt.Errorf("decode crawl response: %w", err)
	}
	return ref, nil
}

// TaskStatus fetches GET /task/{taskId}.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	if taskID == "" {
		return TaskStatus{}, errors.New("task ID required")
	}
	body, err := c.get(ctx, "/task/"+url.PathEscape(taskID), true)
	if err != nil {
		return TaskStatus{}, err
	}
	var st TaskStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return TaskStatus{}, fmt.Errorf("decode task status: %w", err)
	}
	return st, nil
}

// Results fetches GET /results/{taskId}. The result document shape depends
// on the submitted job, so it is returned raw.
func (c *Client) Results(ctx context.Context, taskID string) (json.RawMessage, error) {
	if taskID == "" {
		return nil, errors.New("task ID required")
	}
	body, err := c.get(ctx, "/results/"+url.PathEscape(taskID), true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) get(ctx context.Context, path string, authed bool) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, authed, nil)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, true, payload)
}

type response struct {
	status int
	body   []byte
}

// do executes one API call inside the breaker. Only transport failures and
// 5xx responses count against the breaker; 4xx responses are operator
// configuration problems the breaker should not mask.
func (c *Client) do(ctx context.Context, method, path string, authed bool, payload []byte) ([]byte, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authed && c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				c.logger.Warn("close response body failed", zap.Error(cerr))
			}
		}()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return response{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("upstream unavailable: %w", err)
		}
		return nil, err
	}
	r, ok := res.(response)
	if !ok {
		return nil, errors.New("unexpected breaker result type")
	}
	// Anything outside 2xx is an error: the client follows redirects, so a
	// 3xx surfacing here means the upstream answered something unusable.
	if r.status >= 300 {
		return nil, decodeError(r.status, r.body)
	}
	return r.body, nil
}
