package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	gerrors "gridcore/pkg/errors"
)

// Response is the measured client's result shape: status, body, and the
// outcome class actually recorded.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client wraps a plain *http.Client with an op-scoped deadline policy,
// retry pipeline, and metrics. When Enabled is false, every Request call
// is a single pass-through attempt: no retries, no metric updates, and
// the caller's timeoutMs is honored verbatim.
type Client struct {
	http     *http.Client
	policy   DeadlinePolicy
	enabled  bool
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	reqCounter   metric.Int64Counter
	retryCounter metric.Int64Counter
	failCounter  metric.Int64Counter
	latencyHist  metric.Float64Histogram
}

// Config configures a new measured client.
type Config struct {
	Enabled    bool
	Policy     DeadlinePolicy
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewClient constructs a measured HTTP client.
func NewClient(cfg Config) *Client {
	meter := otel.GetMeterProvider().Meter("gridcore/httpx")
	reqCounter, _ := meter.Int64Counter("grinder_http_requests_total")
	retryCounter, _ := meter.Int64Counter("grinder_http_retries_total")
	failCounter, _ := meter.Int64Counter("grinder_http_fails_total")
	latencyHist, _ := meter.Float64Histogram("grinder_http_latency_ms")

	return &Client{
		http:         &http.Client{},
		policy:       cfg.Policy,
		enabled:      cfg.Enabled,
		maxRetries:   cfg.MaxRetries,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		reqCounter:   reqCounter,
		retryCounter: retryCounter,
		failCounter:  failCounter,
		latencyHist:  latencyHist,
	}
}

// Request performs one measured HTTP call. op must be a KnownOps member;
// an empty op always forces pass-through mode regardless of Enabled.
func (c *Client) Request(ctx context.Context, method, rawURL string, params map[string]string, headers map[string]string, timeoutMs int64, op Op) (*Response, error) {
	if !c.enabled || op == "" {
		return c.doOnce(ctx, method, rawURL, params, headers, time.Duration(timeoutMs)*time.Millisecond)
	}

	deadline := c.policy.DeadlineFor(op, time.Duration(timeoutMs)*time.Millisecond)

	retryPolicy := retrypolicy.NewBuilder[*Response]().
		HandleIf(func(resp *Response, err error) bool {
			return isRetryable(resp, err)
		}).
		WithBackoff(c.baseDelay, c.maxDelay).
		WithMaxRetries(c.maxRetries).
		OnRetry(func(e failsafe.ExecutionEvent[*Response]) {
			c.retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op))))
		}).
		Build()

	start := time.Now()
	pipeline := failsafe.With[*Response](retryPolicy)
	resp, err := pipeline.GetWithExecution(func(exec failsafe.Execution[*Response]) (*Response, error) {
		return c.doOnce(ctx, method, rawURL, params, headers, deadline)
	})
	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

	outcome := outcomeClass(resp, err)
	c.reqCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op)), attribute.String("outcome_class", outcome)))
	c.latencyHist.Record(ctx, elapsedMs, metric.WithAttributes(attribute.String("op", string(op))))
	if err != nil {
		c.failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op)), attribute.String("class", outcome)))
	}
	return resp, err
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, params, headers map[string]string, timeout time.Duration) (*Response, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, gerrors.NewConnectorNonRetryableError("parse_url", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), bytes.NewReader(nil))
	if err != nil {
		return nil, gerrors.NewConnectorNonRetryableError("new_request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, gerrors.NewConnectorTimeoutError("do", err)
		}
		return nil, gerrors.NewConnectorTransientError("do", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gerrors.NewConnectorTransientError("read_body", err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Body: body}
	if httpResp.StatusCode >= 400 && httpResp.StatusCode != 429 && httpResp.StatusCode < 500 {
		return resp, gerrors.NewConnectorNonRetryableError("status", fmt.Errorf("http %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode >= 500 || httpResp.StatusCode == 429 {
		return resp, gerrors.NewConnectorTransientError("status", fmt.Errorf("http %d", httpResp.StatusCode))
	}
	return resp, nil
}

func isRetryable(resp *Response, err error) bool {
	if err != nil {
		var ce *gerrors.ConnectorError
		if asConnectorError(err, &ce) {
			return ce.IsRetryable()
		}
		return true
	}
	return resp != nil && (resp.StatusCode >= 500 || resp.StatusCode == 429)
}

func asConnectorError(err error, target **gerrors.ConnectorError) bool {
	for err != nil {
		if ce, ok := err.(*gerrors.ConnectorError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func outcomeClass(resp *Response, err error) string {
	if err != nil {
		var ce *gerrors.ConnectorError
		if asConnectorError(err, &ce) && ce.Kind == gerrors.KindTimeout {
			return "timeout"
		}
		return "error"
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return "2xx"
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return "3xx"
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
