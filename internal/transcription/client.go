package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/asr-session-client/internal/metrics"
)

const userAgent = "ASR-Session-Client/1.0"

// Client provides HTTP client functionality for the transcription service.
// It holds no session state; every call receives the Session it acts on.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	semaphore  chan struct{} // Limits concurrent requests

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	BaseURL       string
	Headers       map[string]string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MaxConcurrent int

	// Transport replaces the default HTTP transport when set
	Transport http.RoundTripper
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription service client. logger and m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	transport := config.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		logger:    logger,
		metrics:   m,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// BaseURL returns the service root the client talks to
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// get issues a GET call for session and decodes the reply into out
func (c *Client) get(ctx context.Context, endpoint string, session Session, out any) error {
	return c.call(ctx, http.MethodGet, endpoint, session, nil, out)
}

// post issues a POST call with a JSON payload and decodes the reply into out
func (c *Client) post(ctx context.Context, endpoint string, session Session, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", endpoint, err)
	}
	return c.call(ctx, http.MethodPost, endpoint, session, body, out)
}

// call performs one logical request: acquire a slot, retry transport
// failures with a fixed delay, then classify the response.
func (c *Client) call(ctx context.Context, method, endpoint string, session Session, body []byte, out any) error {
	if err := session.Validate(); err != nil {
		return err
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	resp, respBody, err := c.doWithRetry(ctx, method, endpoint, session, body)
	if err != nil {
		c.finish(endpoint, metrics.OutcomeTransportError, startTime, false)
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       respBody,
		}
		// The service still sends its JSON envelope on errors
		var ack Ack
		if json.Unmarshal(respBody, &ack) == nil {
			statusErr.Message = ack.Message
		}

		c.logger.Warn("Transcription service returned error status",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.String("session_id", session.ID),
			slog.Int("status_code", resp.StatusCode),
			slog.String("message", statusErr.Message),
		)
		c.finish(endpoint, metrics.OutcomeStatusError, startTime, false)
		return statusErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			c.finish(endpoint, metrics.OutcomeDecodeError, startTime, false)
			return &DecodeError{Endpoint: endpoint, Body: respBody, Err: err}
		}
	}

	c.finish(endpoint, metrics.OutcomeSuccess, startTime, true)
	return nil
}

// doWithRetry sends the request up to MaxRetries+1 times. Only transport
// failures are retried; any HTTP response ends the loop.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, session Session, body []byte) (*http.Response, []byte, error) {
	url := c.config.BaseURL + endpoint + "?" + session.query().Encode()

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordClientRetry(endpoint)

			c.logger.Debug("Retrying transcription service request",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", c.config.RetryDelay),
				slog.String("error", lastErr.Error()),
			)

			timer := time.NewTimer(c.config.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			}
		}

		attempts++
		resp, respBody, err := c.doRequest(ctx, method, url, body)
		if err == nil {
			return resp, respBody, nil
		}

		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		lastErr = err
	}

	c.logger.Error("Transcription service unreachable",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Int("attempts", attempts),
		slog.String("error", lastErr.Error()),
	)

	return nil, nil, &TransportError{
		Method:   method,
		Endpoint: endpoint,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// doRequest performs a single HTTP exchange and reads the whole body
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.config.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp, respBody, nil
}

func (c *Client) finish(endpoint, outcome string, startTime time.Time, ok bool) {
	elapsed := time.Since(startTime)
	if ok {
		c.incrementSuccessRequests()
		c.updateAvgResponseTime(elapsed)
	} else {
		c.incrementFailedRequests()
	}
	c.metrics.RecordClientRequest(endpoint, outcome, elapsed.Seconds())
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for active requests to complete
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
