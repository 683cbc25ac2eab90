// Package securitycontrols ingests the security controls of an organization
// or folder: Cloud Asset Inventory policies and rules, Security Health
// Analytics custom modules and the built-in detectors.
package securitycontrols

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

const Name = "security-controls"

// Control sources, one scope each so a failing API does not stop the others.
const (
	SourceAssets        = "assets"
	SourceCustomModules = "sha_custom_modules"
	SourceDetectors     = "sha_detectors"
)

const (
	assetOrgPolicy        = "orgpolicy.googleapis.com/Policy"
	assetAccessLevel      = "accesscontextmanager.googleapis.com/AccessLevel"
	assetServicePerimeter = "accesscontextmanager.googleapis.com/ServicePerimeter"
	assetFirewall         = "compute.googleapis.com/Firewall"
	assetSecurityPolicy   = "compute.googleapis.com/SecurityPolicy"
	assetIAMRole          = "iam.googleapis.com/Role"
)

type assetKind struct {
	label       string
	category    string
	kind        string
	remediation string
}

var assetKinds = map[string]assetKind{
	assetOrgPolicy:        {"Organization Policy", "Organization Policy", "organization_policy", "Review Organization Policy configuration"},
	assetAccessLevel:      {"Access Level", "VPC Service Controls", "access_level", "Review access level conditions"},
	assetServicePerimeter: {"Service Perimeter", "VPC Service Controls", "service_perimeter", "Review perimeter resources and restricted services"},
	assetFirewall:         {"Firewall Rule", "Network", "firewall_rule", "Restrict source ranges and ports"},
	assetSecurityPolicy:   {"Cloud Armor Policy", "Network", "security_policy", "Review Cloud Armor rules"},
	assetIAMRole:          {"IAM Role", "Identity", "iam_role", "Review custom role permissions"},
}

// Lister reads the remote control sources.
type Lister interface {
	SearchAssets(ctx context.Context, scope string, assetTypes []string) iter.Seq2[gcp.Asset, error]
	CustomModules(ctx context.Context, scope string) iter.Seq2[gcp.CustomModule, error]
}

type Job struct {
	env    batch.Env
	source Lister
}

func New(env batch.Env, source Lister) *Job {
	return &Job{env: env, source: source}
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

	var scopes []pipeline.Scope
	if len(cfg.AssetTypes) > 0 {
		scopes = append(scopes, j.scope(SourceAssets, cfg))
	}
	if cfg.CustomModules {
		scopes = append(scopes, j.scope(SourceCustomModules, cfg))
	}
	if cfg.BuiltinDetectors {
		scopes = append(scopes, j.scope(SourceDetectors, cfg))
	}
	log.Info("control sources",
		zap.String("parent", cfg.Parent()),
		zap.Int("sources", len(scopes)),
		zap.Strings("asset_types", cfg.AssetTypes),
	)

	report, err := j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name:       Name,
		Enumerator: pipeline.StaticScopes{Scopes: scopes},
		Fetcher:    j.fetcher(cfg, j.env.Now()),
		Enricher:   pipeline.Enricher{Key: pipeline.FieldKey("control_id")},
		Sink:       store,
		Collection: func(pipeline.Scope) string { return cfg.Collection },
		Merge:      true,
	})
	if err != nil {
		return report, err
	}
	snap := report.Stats.Snapshot()
	log.Info("controls ingested",
		zap.Int64("loaded", snap.RecordsFetched),
		zap.Int64("upserted", snap.RecordsCommitted),
		zap.Strings("failed_sources", snap.FailedScopes),
	)
	return report, nil
}

func (j *Job) scope(source string, cfg Config) pipeline.Scope {
	return pipeline.Scope{
		ID:    source,
		Kind:  pipeline.ScopeControlSource,
		Attrs: map[string]string{"parent": cfg.Parent()},
	}
}

func (j *Job) fetcher(cfg Config, now time.Time) pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
		parent := scope.Attr("parent")
		switch scope.ID {
		case SourceAssets:
			return pipeline.Records(j.source.SearchAssets(ctx, parent, cfg.AssetTypes), scope, func(a gcp.Asset) (pipeline.RawRecord, bool) {
				return control(assetFields(a), parent, now), true
			})
		case SourceCustomModules:
			return pipeline.Records(j.source.CustomModules(ctx, parent), scope, func(m gcp.CustomModule) (pipeline.RawRecord, bool) {
				return control(moduleFields(m), parent, now), true
			})
		default:
			return func(yield func(pipeline.RawRecord, error) bool) {
				for _, d := range builtinDetectors {
					if !yield(control(detectorFields(d), parent, now), nil) {
						return
					}
				}
			}
		}
	})
}

func control(fields map[string]any, parent string, now time.Time) pipeline.RawRecord {
	fields["scope"] = parent
	fields["collected_at"] = now
	name, _ := fields["name"].(string)
	return pipeline.RawRecord{NaturalKey: name, Payload: fields}
}

// controlID turns a resource name into a document id.
func controlID(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "//"), "/", "_")
}

func assetFields(a gcp.Asset) map[string]any {
	k, ok := assetKinds[a.AssetType]
	if !ok {
		k = assetKind{label: pipeline.LastSegment(a.AssetType), category: "Cloud Asset", kind: "cai_asset", remediation: "Review resource configuration"}
	}
	title := a.DisplayName
	if title == "" {
		title = pipeline.LastSegment(a.Name)
	}
	folders := make([]any, 0, len(a.Folders))
	for _, f := range a.Folders {
		folders = append(folders, f)
	}
	return map[string]any{
		"control_id":  controlID(a.Name),
		"name":        a.Name,
		"title":       title,
		"description": k.label + ": " + title,
		"category":    k.category,
		"severity":    "HIGH",
		"remediation": k.remediation,
		"type":        k.kind,
		"source":      SourceAssets,
		"source_data": map[string]any{
			"asset_type":                a.AssetType,
			"project":                   a.Project,
			"folders":                   folders,
			"organization":              a.Organization,
			"parent_full_resource_name": a.ParentFullResourceName,
			"parent_asset_type":         a.ParentAssetType,
		},
	}
}

func moduleFields(m gcp.CustomModule) map[string]any {
	fields := map[string]any{
		"control_id":       controlID(m.Name),
		"name":             m.Name,
		"title":            m.DisplayName,
		"category":         "Security Health Analytics",
		"type":             "sha_custom_module",
		"source":           SourceCustomModules,
		"enablement_state": m.EnablementState,
		"description":      "",
		"severity":         "",
		"remediation":      "",
	}
	if c := m.CustomConfig; c != nil {
		fields["description"] = c.Description
		fields["severity"] = c.Severity
		fields["remediation"] = c.Recommendation
		if c.Predicate != nil {
			fields["predicate"] = c.Predicate.Expression
		}
	}
	return fields
}

func detectorFields(d detector) map[string]any {
	return map[string]any{
		"control_id":  d.ID,
		"name":        d.ID,
		"title":       d.Title,
		"description": d.Description,
		"category":    d.Category,
		"severity":    d.Severity,
		"remediation": d.Remediation,
		"type":        "sha_detector",
		"source":      SourceDetectors,
	}
}
