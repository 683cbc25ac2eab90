// Package anomalyhandler receives cost anomaly notifications pushed by
// Pub/Sub, joins them with project metadata and stores them.
package anomalyhandler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/pubsub"
	"github.com/smallbiznis/cloudcost/internal/server"
	"go.uber.org/zap"
)

var errEmptyPayload = errors.New("empty anomaly payload")

// Cache is the enrichment table as the handler uses it.
type Cache interface {
	pipeline.Lookup
	Reload(ctx context.Context) (int, error)
	Fields() []string
	Loaded() bool
	Len() int
}

type Handler struct {
	cfg   Config
	store docstore.Store
	cache Cache
	clock clock.Clock
	log   *zap.Logger
}

func NewHandler(cfg Config, store docstore.Store, cache Cache, clk clock.Clock, log *zap.Logger) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{cfg: cfg, store: store, cache: cache, clock: clk, log: log.Named("anomaly_handler")}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.Status)
	r.GET("/health", h.Status)
	r.POST("/pubsub/push", h.PubSubPush)
	r.POST("/anomaly", h.CreateAnomaly)
	r.POST("/reload-enrichment", h.ReloadEnrichment)
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        ServiceName,
		"version":        h.cfg.HandlerVersion,
		"cache_loaded":   h.cache.Loaded(),
		"projects_count": h.cache.Len(),
	})
}

// PubSubPush answers 4xx only for messages that can never succeed; write
// failures return 500 so Pub/Sub redelivers.
func (h *Handler) PubSubPush(c *gin.Context) {
	var envelope pubsub.PushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		server.AbortWithError(c, server.InvalidRequest())
		return
	}
	var anomaly map[string]any
	if err := envelope.Decode(&anomaly); err != nil || anomaly == nil {
		h.log.Warn("anomaly.rejected", zap.String("message_id", envelope.MessageID()), zap.Error(err))
		server.AbortWithError(c, server.NewValidationError("message", "invalid_message", rejectReason(err)))
		return
	}
	messageID := envelope.MessageID()

	docID, err := h.Process(c.Request.Context(), anomaly)
	if err != nil {
		h.log.Error("anomaly.save_failed", zap.String("message_id", messageID), zap.Error(err))
		server.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"document_id": docID,
		"message":     "Anomaly processed and saved",
	})
}

func (h *Handler) CreateAnomaly(c *gin.Context) {
	var anomaly map[string]any
	if err := c.ShouldBindJSON(&anomaly); err != nil || anomaly == nil {
		server.AbortWithError(c, server.InvalidRequest())
		return
	}
	docID, err := h.Process(c.Request.Context(), anomaly)
	if err != nil {
		h.log.Error("anomaly.save_failed", zap.Error(err))
		server.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"document_id": docID,
		"message":     "Anomaly created successfully",
	})
}

func (h *Handler) ReloadEnrichment(c *gin.Context) {
	n, err := h.cache.Reload(c.Request.Context())
	if err != nil {
		h.log.Error("enrichment.reload_failed", zap.Error(err))
		server.AbortWithError(c, fmt.Errorf("%w: %v", server.ErrServiceUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"projects_loaded": n,
		"message":         "Enrichment cache reloaded",
	})
}

// Process enriches one anomaly and merges it into the collection. It
// returns the document id used.
func (h *Handler) Process(ctx context.Context, anomaly map[string]any) (string, error) {
	if len(anomaly) == 0 {
		return "", server.NewValidationError("anomaly", "required", errEmptyPayload.Error())
	}
	now := h.clock.Now().UTC()

	projectID := firstString(anomaly, "project_id", "projectId")
	switch pipeline.ApplyEnrichment(h.cache, projectID, anomaly) {
	case pipeline.JoinMiss:
		h.log.Warn("enrichment.miss", zap.String("project_id", projectID))
		h.fillMissing(anomaly)
	case pipeline.JoinSkipped:
		h.fillMissing(anomaly)
	}
	anomaly["processed_at"] = now.Format(time.RFC3339Nano)
	anomaly["handler_version"] = h.cfg.HandlerVersion

	docID := firstString(anomaly, "anomaly_id", "id")
	if docID == "" {
		docID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	}
	docID = pipeline.LastSegment(docID)

	if err := h.store.Set(ctx, h.cfg.Collection, docID, anomaly, true); err != nil {
		return "", fmt.Errorf("save anomaly %s: %w", docID, err)
	}
	h.log.Info("anomaly.saved",
		zap.String("document_id", docID),
		zap.String("project_id", projectID),
	)
	return docID, nil
}

// fillMissing writes explicit nulls for enrichment fields the record lacks
// so every stored anomaly has the same shape.
func (h *Handler) fillMissing(anomaly map[string]any) {
	for _, field := range h.cache.Fields() {
		if _, ok := anomaly[field]; !ok {
			anomaly[field] = nil
		}
	}
}

func rejectReason(err error) string {
	if err == nil {
		return errEmptyPayload.Error()
	}
	return err.Error()
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
