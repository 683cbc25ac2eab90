package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/cloudcost/internal/ratelimit"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC)

// webhook is a fake Teams endpoint. It answers with statuses in order and
// repeats the last one.
type webhook struct {
	*httptest.Server

	mu       sync.Mutex
	statuses []int
	cards    []MessageCard
}

func newWebhook(t *testing.T, statuses ...int) *webhook {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	w := &webhook{statuses: statuses}
	w.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var card MessageCard
		_ = json.NewDecoder(r.Body).Decode(&card)

		w.mu.Lock()
		w.cards = append(w.cards, card)
		status := w.statuses[0]
		if len(w.statuses) > 1 {
			w.statuses = w.statuses[1:]
		}
		w.mu.Unlock()

		rw.WriteHeader(status)
		_, _ = rw.Write([]byte("1"))
	}))
	t.Cleanup(w.Close)
	return w
}

func (w *webhook) URL() string { return w.Server.URL + "/webhookb2/tenant/IncomingWebhook/abcd1234" }

func (w *webhook) Received() []MessageCard {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]MessageCard(nil), w.cards...)
}

// lastCode pulls the verification code out of the most recent card.
func (w *webhook) lastCode(t *testing.T) string {
	t.Helper()
	cards := w.Received()
	require.NotEmpty(t, cards)
	for _, s := range cards[len(cards)-1].Sections {
		for _, f := range s.Facts {
			if f.Name == "Verification Code" {
				return strings.Trim(f.Value, "*")
			}
		}
	}
	t.Fatal("no verification code in card")
	return ""
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Jitter:      func(time.Duration) time.Duration { return 0 },
	}
}

type denyLimiter struct{ retryAfter time.Duration }

func (d denyLimiter) Allow(context.Context, string) (*ratelimit.RateLimitResult, error) {
	return &ratelimit.RateLimitResult{Allowed: false, RetryAfter: d.retryAfter}, nil
}

func newTestSender(limiter ratelimit.Limiter) *Sender {
	return NewSender(SenderOptions{Policy: testPolicy(), Limiter: limiter, Timeout: 2 * time.Second})
}
