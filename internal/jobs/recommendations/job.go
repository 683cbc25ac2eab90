// Package recommendations collects recommender API findings for every
// project, recommender type and location.
package recommendations

import (
	"context"
	"errors"
	"iter"
	"maps"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/recommender/apiv1/recommenderpb"
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const Name = "recommendations"

// Lister lists the recommendations under one recommender parent.
type Lister interface {
	Recommendations(ctx context.Context, parent, filter string) iter.Seq2[*recommenderpb.Recommendation, error]
}

// Projects lists projects and resolves project numbers.
type Projects interface {
	pipeline.ProjectLister
	ProjectNumber(ctx context.Context, projectID string) (string, error)
}

type Job struct {
	env         batch.Env
	projects    Projects
	recommender Lister
}

func New(env batch.Env, projects Projects, recommender Lister) *Job {
	return &Job{env: env, projects: projects, recommender: recommender}
}

func (j *Job) Name() string { return Name }

func (j *Job) Run(ctx context.Context) (*pipeline.Report, error) {
	cfg, err := LoadConfig(j.env.Config)
	if err != nil {
		return nil, err
	}
	log := j.env.Logger(Name)
	store, err := j.env.Stores.Open(ctx, cfg.Database)
	if err != nil {
		return nil, pipeline.RemoteError("open database "+cfg.Database, 1, err)
	}
	cache := j.env.Enrichment(ctx, Name)

	base, err := j.enumerator(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("recommender catalog",
		zap.Int("types", len(cfg.Catalog.Types)),
		zap.Int("locations", len(cfg.Catalog.Locations)),
		zap.String("scope_type", cfg.ScopeType),
		zap.Bool("use_inventory", cfg.UseInventory),
	)

	return j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name: Name,
		Enumerator: pipeline.CrossProduct{
			Base:      base,
			Types:     cfg.Catalog.Types,
			Locations: cfg.Catalog.Locations,
		},
		Fetcher:    j.fetcher(cfg, log),
		Enricher:   pipeline.Enricher{Cache: cache, Key: pipeline.ProviderKey},
		Sink:       store,
		Collection: func(pipeline.Scope) string { return cfg.Collection },
	})
}

func (j *Job) enumerator(ctx context.Context, cfg Config, log *zap.Logger) (pipeline.Enumerator, error) {
	if cfg.UseInventory {
		enrichment := j.env.Config.Enrichment
		inventory, err := j.env.Stores.Open(ctx, enrichment.Database)
		if err != nil {
			return nil, pipeline.RemoteError("open database "+enrichment.Database, 1, err)
		}
		return pipeline.InventoryProjects{
			Store:        inventory,
			Collection:   cfg.InventoryCollection,
			ProjectField: enrichment.ProjectIDField,
			Log:          log,
		}, nil
	}
	switch cfg.ScopeType {
	case ScopeFolder:
		return pipeline.FolderProjects{
			Lister:    j.projects,
			FolderIDs: config.SplitList(cfg.ScopeID),
			Fallback:  cfg.ProjectID,
			Log:       log,
		}, nil
	case ScopeOrganization:
		return pipeline.OrganizationProjects{
			Lister:         j.projects,
			OrganizationID: cfg.ScopeID,
			Fallback:       cfg.ProjectID,
			Log:            log,
		}, nil
	default:
		return pipeline.SingleProject{ProjectID: cfg.ScopeID}, nil
	}
}

func (j *Job) fetcher(cfg Config, log *zap.Logger) pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
		return func(yield func(pipeline.RawRecord, error) bool) {
			projectID := scope.Attr(pipeline.AttrProjectID)
			location := scope.Attr(pipeline.AttrLocation)
			recommenderType := scope.Attr(pipeline.AttrRecommenderType)
			number := j.projectNumber(ctx, scope, log)

			now := j.env.Now()
			parent := gcp.RecommenderParent(number, location, recommenderType)
			for rec, err := range j.recommender.Recommendations(ctx, parent, cfg.Filter()) {
				if err != nil {
					if unsupported(err) {
						log.Debug("recommender unavailable", zap.String("parent", parent), zap.Error(err))
						return
					}
					yield(pipeline.RawRecord{}, err)
					return
				}
				fields := recommendationFields(rec)
				fields["project_id"] = projectID
				fields["project_number"] = number
				fields["location"] = location
				fields["recommender_type"] = recommenderType
				fields["collected_at"] = now
				fields["updated_at"] = now
				if !yield(pipeline.RawRecord{NaturalKey: rec.GetName(), Payload: fields, ScopeID: scope.ID}, nil) {
					return
				}
			}
		}
	})
}

// projectNumber prefers the number found during enumeration and falls back to
// the project id when it cannot be resolved.
func (j *Job) projectNumber(ctx context.Context, scope pipeline.Scope, log *zap.Logger) string {
	if n := scope.Attr(pipeline.AttrProjectNumber); n != "" {
		return n
	}
	projectID := scope.Attr(pipeline.AttrProjectID)
	n, err := j.projects.ProjectNumber(ctx, projectID)
	if err != nil || n == "" {
		log.Warn("project number unavailable, using project id", zap.String("project_id", projectID), zap.Error(err))
		return projectID
	}
	return n
}

// unsupported reports errors meaning the recommender does not exist or is not
// enabled for this project and location.
func unsupported(err error) bool {
	var grpcErr interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &grpcErr) {
		return false
	}
	switch grpcErr.GRPCStatus().Code() {
	case codes.NotFound, codes.PermissionDenied, codes.InvalidArgument:
		return true
	}
	return false
}

func recommendationFields(rec *recommenderpb.Recommendation) map[string]any {
	fields := map[string]any{
		"recommendation_id":   pipeline.LastSegment(rec.GetName()),
		"recommendation_name": rec.GetName(),
		"recommender_subtype": rec.GetRecommenderSubtype(),
		"description":         rec.GetDescription(),
		"state":               rec.GetStateInfo().GetState().String(),
		"priority":            rec.GetPriority().String(),
		"etag":                rec.GetEtag(),
		"xor_group_id":        rec.GetXorGroupId(),
	}
	if ts := rec.GetLastRefreshTime(); ts != nil {
		fields["last_refresh_time"] = ts.AsTime().UTC().Format(time.RFC3339)
	}

	if impact := rec.GetPrimaryImpact(); impact != nil {
		fields["primary_impact_category"] = impact.GetCategory().String()
		if projection := impact.GetCostProjection(); projection != nil {
			cost := projection.GetCost()
			fields["primary_impact_cost_projection"] = float64(cost.GetUnits()) + float64(cost.GetNanos())/1e9
			fields["primary_impact_currency"] = cost.GetCurrencyCode()
			if d := projection.GetDuration(); d != nil {
				fields["primary_impact_duration"] = formatSeconds(d.GetSeconds())
			}
		}
	}

	var targets []any
	overview := rec.GetContent().GetOverview().GetFields()
	for _, key := range slices.Sorted(maps.Keys(overview)) {
		if strings.Contains(strings.ToLower(key), "resource") {
			targets = append(targets, stringValue(overview[key].AsInterface()))
		}
	}
	if len(targets) > 0 {
		fields["target_resources"] = targets
	}

	var groups []any
	for _, group := range rec.GetContent().GetOperationGroups() {
		var ops []any
		for _, op := range group.GetOperations() {
			entry := map[string]any{
				"action":        op.GetAction(),
				"resource_type": op.GetResourceType(),
				"resource":      op.GetResource(),
				"path":          op.GetPath(),
			}
			if v := op.GetValue(); v != nil {
				entry["value"] = stringValue(v.AsInterface())
			}
			ops = append(ops, entry)
		}
		groups = append(groups, map[string]any{"operations": ops})
	}
	if len(groups) > 0 {
		fields["operation_groups"] = groups
	}

	var insights []any
	for _, ref := range rec.GetAssociatedInsights() {
		insights = append(insights, ref.GetInsight())
	}
	if len(insights) > 0 {
		fields["associated_insights"] = insights
	}
	return fields
}
