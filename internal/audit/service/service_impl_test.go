package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/cloudcost/internal/audit/domain"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	obscontext "github.com/smallbiznis/cloudcost/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *docstore.Memory) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := docstore.NewMemory()
	return NewService(Params{
		Store:      store,
		Collection: "notification-events",
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC)),
	}), store
}

func TestAuditLogMasksSecretsAndUsesContextActor(t *testing.T) {
	svc, store := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "user", "ops@example.com")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	rec, err := svc.AuditLog(ctx, auditdomain.Entry{
		Action:     "notification.delivered",
		TargetType: "channel",
		TargetID:   "APP1-cost",
		Outcome:    "delivered",
		Metadata:   map[string]any{"attempts": 2},
		Secrets:    map[string]any{"webhook_url": "https://hooks.example.com/webhook/abcdef123456"},
	})
	require.NoError(t, err)

	doc := store.Snapshot("notification-events")[rec.ID]
	require.NotNil(t, doc)
	assert.Equal(t, "user", doc["actor_type"])
	assert.Equal(t, "ops@example.com", doc["actor_id"])
	assert.Equal(t, "req-1", doc["request_id"])

	meta := doc["metadata"].(map[string]any)
	assert.Equal(t, 2, meta["attempts"])
	assert.Equal(t, "https://hooks.example.com/****3456", meta["webhook_url"])
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc, store := newTestService(t)
	_, err := svc.AuditLog(context.Background(), auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
	assert.Zero(t, store.Len("notification-events"))
}
