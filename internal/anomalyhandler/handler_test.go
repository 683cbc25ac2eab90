package anomalyhandler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC)

type fixture struct {
	engine *gin.Engine
	store  *docstore.Memory
	meta   *docstore.Memory
	cache  *pipeline.EnrichmentCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	meta := docstore.NewMemory()
	require.NoError(t, meta.Set(context.Background(), "projects", "p1", map[string]any{
		"project_id": "proj-a", "appcode": "APP1", "lob": "retail",
	}, false))

	cfg := Config{
		Database:       "cost-db",
		Collection:     "cost_anomalies",
		HandlerVersion: DefaultHandlerVersion,
		Enrichment: config.EnrichmentConfig{
			Database:       "dashboard",
			Collection:     "projects",
			ProjectIDField: "project_id",
			Fields:         []string{"appcode", "lob"},
		},
	}
	cache := pipeline.NewEnrichmentCache(meta, pipeline.EnrichmentCacheConfig{
		Collection:     "projects",
		ProjectIDField: "project_id",
		Fields:         cfg.Enrichment.Fields,
	}, zap.NewNop())
	_, err := cache.Load(context.Background())
	require.NoError(t, err)

	store := docstore.NewMemory()
	h := NewHandler(cfg, store, cache, clock.NewFakeClock(testNow), zap.NewNop())
	engine := server.NewEngine(server.EngineParams{Log: zap.NewNop(), Routes: []server.Routes{h}})
	return fixture{engine: engine, store: store, meta: meta, cache: cache}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	f.engine.ServeHTTP(w, req)
	return w
}

func pushBody(t *testing.T, anomaly map[string]any) string {
	t.Helper()
	data, err := json.Marshal(anomaly)
	require.NoError(t, err)
	envelope := map[string]any{
		"message": map[string]any{
			"data":        base64.StdEncoding.EncodeToString(data),
			"messageId":   "m-1",
			"publishTime": "2025-10-30T01:59:00Z",
		},
		"subscription": "projects/cost-proj/subscriptions/anomalies",
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return string(body)
}

func TestPubSubPushEnrichesAndMerges(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), "cost_anomalies", "an-1", map[string]any{
		"comment": "known spike",
	}, false))

	w := f.do(http.MethodPost, "/pubsub/push", pushBody(t, map[string]any{
		"anomaly_id": "billingAccounts/012345/anomalies/an-1",
		"projectId":  "proj-a",
		"cost":       412.5,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "an-1", resp["document_id"])

	doc := f.store.Snapshot("cost_anomalies")["an-1"]
	require.NotNil(t, doc)
	assert.Equal(t, "APP1", doc["appcode"])
	assert.Equal(t, "retail", doc["lob"])
	assert.Equal(t, "known spike", doc["comment"])
	assert.Equal(t, DefaultHandlerVersion, doc["handler_version"])
	assert.Equal(t, testNow.Format(time.RFC3339Nano), doc["processed_at"])
}

func TestPubSubPushRejectsMalformedMessages(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"no message":   `{"subscription":"s"}`,
		"no data":      `{"message":{"messageId":"m"}}`,
		"not base64":   `{"message":{"data":"%%%"}}`,
		"not json":     `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte("nope")) + `"}}`,
		"bad envelope": `[]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/pubsub/push", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, f.store.Len("cost_anomalies"))
}

func TestPubSubPushWriteFailureRequestsRedelivery(t *testing.T) {
	f := newFixture(t)
	f.store.CommitHook = func([]docstore.Write) error { return errors.New("unavailable") }

	w := f.do(http.MethodPost, "/pubsub/push", pushBody(t, map[string]any{"anomaly_id": "an-2"}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateAnomalyGeneratesIDAndNullsMissingFields(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/anomaly", `{"project_id":"proj-unknown","cost":10}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	docID, _ := resp["document_id"].(string)
	parsed, err := ulid.ParseStrict(docID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(testNow), parsed.Time())

	doc := f.store.Snapshot("cost_anomalies")[docID]
	require.NotNil(t, doc)
	assert.Contains(t, doc, "appcode")
	assert.Nil(t, doc["appcode"])
	assert.Nil(t, doc["lob"])
}

func TestReloadEnrichmentAndHealth(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.meta.Set(context.Background(), "projects", "p2", map[string]any{
		"project_id": "proj-b", "appcode": "APP2",
	}, false))

	w := f.do(http.MethodPost, "/reload-enrichment", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp["projects_loaded"])

	for _, path := range []string{"/", "/health"} {
		w = f.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ServiceName, resp["service"])
		assert.Equal(t, true, resp["cache_loaded"])
		assert.EqualValues(t, 2, resp["projects_count"])
	}
}
