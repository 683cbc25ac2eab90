package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/ratelimit"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"go.uber.org/zap"
)

var (
	ErrWebhookRejected = errors.New("webhook rejected the message")
	ErrWebhookTimeout  = errors.New("timeout while posting to webhook")
	ErrRateLimited     = errors.New("webhook rate limit exceeded")
)

// RateLimitError reports a delivery refused before any request was made.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v, retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Delivery describes one webhook post, retries included.
type Delivery struct {
	StatusCode int
	Attempts   int
	Duration   time.Duration
}

// Sender posts cards to webhooks with the shared retry policy. Each
// webhook URL has its own rate budget.
type Sender struct {
	client  *http.Client
	policy  retry.Policy
	limiter ratelimit.Limiter
	timeout time.Duration
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

type SenderOptions struct {
	Client  *http.Client
	Policy  retry.Policy
	Limiter ratelimit.Limiter
	Timeout time.Duration
	Metrics *obsmetrics.Metrics
	Log     *zap.Logger
}

func NewSender(opts SenderOptions) *Sender {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		client:  client,
		policy:  opts.Policy,
		limiter: opts.Limiter,
		timeout: timeout,
		metrics: opts.Metrics,
		log:     log.Named("sender"),
	}
}

// Send posts card to url. Failures are ErrRateLimited, ErrWebhookTimeout
// or ErrWebhookRejected. A rejection still wraps the upstream
// *retry.HTTPStatusError when there was a response.
func (s *Sender) Send(ctx context.Context, source, url string, card any) (Delivery, error) {
	start := time.Now()
	if err := s.allow(ctx, url); err != nil {
		s.metrics.RecordRateLimitDenied(ctx, source)
		s.metrics.RecordDelivery(ctx, source, "rate_limited")
		return Delivery{}, err
	}

	body, err := json.Marshal(card)
	if err != nil {
		return Delivery{}, err
	}

	policy := s.policy
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		s.log.Warn("webhook.retry",
			zap.String("webhook", WebhookKey(url)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	var status int
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		code, err := s.post(ctx, url, body)
		status = code
		return err
	})
	d := Delivery{StatusCode: status, Attempts: attempts, Duration: time.Since(start)}
	if err == nil {
		s.metrics.RecordDelivery(ctx, source, "delivered")
		return d, nil
	}
	if ctx.Err() != nil {
		return d, ctx.Err()
	}

	outcome, err := classify(err)
	s.metrics.RecordDelivery(ctx, source, outcome)
	s.log.Error("webhook.failed",
		zap.String("webhook", WebhookKey(url)),
		zap.Int("status_code", status),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return d, err
}

func (s *Sender) allow(ctx context.Context, url string) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Allow(ctx, WebhookKey(url))
	if err != nil {
		s.log.Warn("webhook.rate_limit_unavailable", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return &RateLimitError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *Sender) post(ctx context.Context, url string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
}

func classify(err error) (string, error) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout", fmt.Errorf("%w: %v", ErrWebhookTimeout, err)
	}
	return "rejected", fmt.Errorf("%w: %w", ErrWebhookRejected, err)
}

// WebhookKey identifies a webhook in logs and limiter keys without
// exposing its secret path.
func WebhookKey(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:8])
}
