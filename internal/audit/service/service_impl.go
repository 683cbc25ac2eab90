package service

import (
	"context"
	"maps"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/cloudcost/internal/audit/domain"
	"github.com/smallbiznis/cloudcost/internal/audit/masking"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	obscontext "github.com/smallbiznis/cloudcost/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Store      docstore.Store `name:"audit"`
	Collection string         `name:"audit_collection"`
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
}

type Service struct {
	store      docstore.Store
	collection string
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		store:      p.Store,
		collection: p.Collection,
		log:        p.Log.Named("audit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
	}
}

// AuditLog appends one event document. Actor and request id fall back to
// the values carried by ctx.
func (s *Service) AuditLog(ctx context.Context, entry auditdomain.Entry) (auditdomain.Record, error) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.Record{}, auditdomain.ErrInvalidAction
	}

	actorType, actorID := strings.TrimSpace(entry.ActorType), strings.TrimSpace(entry.ActorID)
	if actorType == "" {
		actorType, actorID = obscontext.ActorFromContext(ctx)
	}
	if actorType == "" {
		actorType = "anonymous"
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	payload := map[string]any{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	maps.Copy(payload, masking.MaskJSON(entry.Secrets))

	rec := auditdomain.Record{
		ID:         s.genID.Generate().String(),
		Action:     action,
		ActorType:  actorType,
		ActorID:    actorID,
		TargetType: targetType,
		TargetID:   strings.TrimSpace(entry.TargetID),
		Outcome:    strings.TrimSpace(entry.Outcome),
		RequestID:  obscontext.RequestIDFromContext(ctx),
		Metadata:   payload,
		CreatedAt:  s.clock.Now().UTC(),
	}

	if err := s.store.Set(ctx, s.collection, rec.ID, recordFields(rec), false); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return rec, err
	}
	return rec, nil
}

func recordFields(rec auditdomain.Record) map[string]any {
	return map[string]any{
		"id":          rec.ID,
		"action":      rec.Action,
		"actor_type":  rec.ActorType,
		"actor_id":    rec.ActorID,
		"target_type": rec.TargetType,
		"target_id":   rec.TargetID,
		"outcome":     rec.Outcome,
		"request_id":  rec.RequestID,
		"metadata":    rec.Metadata,
		"created_at":  rec.CreatedAt,
	}
}
