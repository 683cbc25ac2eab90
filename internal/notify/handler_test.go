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

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/cloudcost/internal/audit/domain"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pubsub"
	"github.com/smallbiznis/cloudcost/internal/ratelimit"
	"github.com/smallbiznis/cloudcost/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditdomain.Entry
}

func (a *recordingAudit) AuditLog(_ context.Context, e auditdomain.Entry) (auditdomain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return auditdomain.Record{Action: e.Action}, nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type handlerFixture struct {
	engine   *gin.Engine
	store    *docstore.Memory
	channels *Channels
	audit    *recordingAudit
}

func newHandlerFixture(t *testing.T, limiter ratelimit.Limiter) handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := docstore.NewMemory()
	channels := NewChannels(store, "teams-notification-channels")
	sender := newTestSender(limiter)
	clk := clock.NewFakeClock(testNow)
	audit := &recordingAudit{}
	h := NewHandler(HandlerParams{
		Channels: channels,
		Sender:   sender,
		Verification: NewVerification(channels, sender, ratelimit.NewLocker(nil), clk, VerificationOptions{
			BcryptCost: bcrypt.MinCost,
		}, nil),
		Audit: audit,
		Clock: clk,
	})
	engine := server.NewEngine(server.EngineParams{Log: zap.NewNop(), Routes: []server.Routes{h}})
	return handlerFixture{engine: engine, store: store, channels: channels, audit: audit}
}

func (f handlerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	switch b := body.(type) {
	case nil:
		reader = strings.NewReader("")
	case string:
		reader = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = strings.NewReader(string(data))
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	f.engine.ServeHTTP(w, req)
	return w
}

func (f handlerFixture) saveChannel(t *testing.T, url string, verified bool) {
	t.Helper()
	require.NoError(t, f.channels.Save(context.Background(), Channel{
		AppCode:    "APP1",
		AlertType:  "cost",
		WebhookURL: url,
		Verified:   verified,
		CreatedAt:  testNow,
	}))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func pushBody(t *testing.T, payload any) string {
	t.Helper()
	env, err := pubsub.Encode("m-1", payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return string(data)
}

func TestHealth(t *testing.T) {
	f := newHandlerFixture(t, nil)
	w := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, testNow.Format(time.RFC3339), body["timestamp"])
}

func TestPostMessageDelivers(t *testing.T) {
	f := newHandlerFixture(t, nil)
	hook := newWebhook(t)

	w := f.do(http.MethodPost, "/api/v1/messages", map[string]any{
		"webhook_url": hook.URL(),
		"message":     "Daily spend is up 40%",
		"title":       "Spend alert",
		"color":       "error",
		"facts":       map[string]string{"Project": "proj-a"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body["webhook_url"], "IncomingWebhook")
	assert.True(t, strings.HasSuffix(body["webhook_url"].(string), "/****1234"))

	cards := hook.Received()
	require.Len(t, cards, 1)
	assert.Equal(t, ColorError, cards[0].ThemeColor)
	assert.Equal(t, "Spend alert", cards[0].Title)
	assert.Equal(t, []string{"notification.delivered"}, f.audit.actions())
	assert.Equal(t, hook.URL(), f.audit.entries[0].Secrets["webhook_url"])
}

func TestPostMessageValidation(t *testing.T) {
	f := newHandlerFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/messages", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "webhook_url")

	w = f.do(http.MethodPost, "/api/v1/messages", map[string]any{
		"webhook_url": "https://example.com/hook",
		"message":     "hi",
		"color":       "mauve",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_color")
}

func TestPostMessageUpstreamFailures(t *testing.T) {
	f := newHandlerFixture(t, nil)

	rejected := newWebhook(t, http.StatusBadRequest)
	w := f.do(http.MethodPost, "/api/v1/messages", map[string]any{"webhook_url": rejected.URL(), "message": "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "400")
	assert.Equal(t, []string{"notification.failed"}, f.audit.actions())

	limited := newHandlerFixture(t, denyLimiter{retryAfter: 1500 * time.Millisecond})
	w = limited.do(http.MethodPost, "/api/v1/messages", map[string]any{"webhook_url": rejected.URL(), "message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestSaveChannelResetsVerificationOnNewURL(t *testing.T) {
	f := newHandlerFixture(t, nil)
	body := map[string]any{"app_code": "APP1", "alert_type": "cost", "webhook_url": "https://example.com/hook/one1"}

	w := f.do(http.MethodPost, "/api/v1/channels", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ch := decode(t, w)["channel"].(map[string]any)
	assert.Equal(t, "https://example.com/****one1", ch["webhook_url"])
	assert.Equal(t, false, ch["verified"])

	f.saveChannel(t, "https://example.com/hook/one1", true)
	w = f.do(http.MethodPost, "/api/v1/channels", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["channel"].(map[string]any)["verified"])

	body["webhook_url"] = "https://example.com/hook/two2"
	w = f.do(http.MethodPost, "/api/v1/channels", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["channel"].(map[string]any)["verified"])

	w = f.do(http.MethodPost, "/api/v1/channels", map[string]any{"app_code": "APP-1", "alert_type": "cost", "webhook_url": "https://example.com/h"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_channel_key")
}

func TestChannelReadAndDelete(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.saveChannel(t, "https://example.com/hook/zzzz", false)

	w := f.do(http.MethodGet, "/api/v1/channels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = f.do(http.MethodGet, "/api/v1/channels/APP1/cost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "/hook/")

	w = f.do(http.MethodDelete, "/api/v1/channels/APP1/cost", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(http.MethodGet, "/api/v1/channels/APP1/cost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(http.MethodDelete, "/api/v1/channels/APP1/cost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyThenNotify(t *testing.T) {
	f := newHandlerFixture(t, nil)
	hook := newWebhook(t)
	f.saveChannel(t, hook.URL(), false)

	notify := map[string]any{"app_code": "APP1", "alert_type": "cost", "message": "spike"}
	w := f.do(http.MethodPost, "/api/v1/notify", notify)
	require.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/v1/channels/APP1/cost/verify", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	code := hook.lastCode(t)
	assert.NotContains(t, w.Body.String(), code)

	w = f.do(http.MethodPost, "/api/v1/channels/APP1/cost/confirm", map[string]any{"verification_code": "12ab56"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/channels/APP1/cost/confirm", map[string]any{"verification_code": code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["channel"].(map[string]any)["verified"])

	w = f.do(http.MethodPost, "/api/v1/channels/APP1/cost/confirm", map[string]any{"verification_code": code})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/v1/notify", notify)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "APP1-cost", decode(t, w)["channel_id"])
	assert.Equal(t, "spike", hook.Received()[len(hook.Received())-1].Text)
}

func TestPubSubPushOutcomes(t *testing.T) {
	msg := map[string]any{"app_code": "APP1", "alert_type": "cost", "message": "spike"}

	t.Run("unknown channel is acknowledged", func(t *testing.T) {
		f := newHandlerFixture(t, nil)
		w := f.do(http.MethodPost, "/pubsub/push", pushBody(t, msg))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "skipped", decode(t, w)["status"])
		assert.Contains(t, f.audit.actions(), "notification.skipped")
	})

	t.Run("delivered", func(t *testing.T) {
		f := newHandlerFixture(t, nil)
		hook := newWebhook(t)
		f.saveChannel(t, hook.URL(), true)
		w := f.do(http.MethodPost, "/pubsub/push", pushBody(t, msg))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "delivered", decode(t, w)["status"])
		assert.Len(t, hook.Received(), 1)
	})

	t.Run("permanent rejection is acknowledged", func(t *testing.T) {
		f := newHandlerFixture(t, nil)
		hook := newWebhook(t, http.StatusBadRequest)
		f.saveChannel(t, hook.URL(), true)
		w := f.do(http.MethodPost, "/pubsub/push", pushBody(t, msg))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "failed", decode(t, w)["status"])
	})

	t.Run("exhausted retries are redelivered", func(t *testing.T) {
		f := newHandlerFixture(t, nil)
		hook := newWebhook(t, http.StatusServiceUnavailable)
		f.saveChannel(t, hook.URL(), true)
		w := f.do(http.MethodPost, "/pubsub/push", pushBody(t, msg))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Len(t, hook.Received(), 3)
	})

	t.Run("malformed payload", func(t *testing.T) {
		f := newHandlerFixture(t, nil)
		w := f.do(http.MethodPost, "/pubsub/push", `{"message":{"data":"%%%"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = f.do(http.MethodPost, "/pubsub/push", pushBody(t, map[string]any{"app_code": "APP1"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
