package batch

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/cloudmetrics"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"github.com/smallbiznis/cloudcost/internal/observability"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"github.com/smallbiznis/cloudcost/internal/runledger"
	"go.uber.org/fx"
)

// Module carries everything a batch job needs except the job itself. Remote
// clients are constructed only when a job asks for them.
var Module = fx.Options(
	config.Module,
	observability.Module,
	clock.Module,
	cloudmetrics.Module,
	runledger.Module,
	fx.Provide(
		RegisterSnowflake,
		NewPolicy,
		NewOrchestrator,
		NewStores,
		NewRegistry,
		NewRunner,
		NewBilling,
		NewProjects,
		NewInsights,
		NewSecurity,
		NewRecommender,
		NewServiceHealth,
		NewWarehouse,
	),
)

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(int64(config.GetenvInt("SNOWFLAKE_NODE", 1)))
}

func NewStores(lc fx.Lifecycle, cfg config.Config) docstore.Opener {
	opener := docstore.NewFirestoreOpener(cfg.ProjectID)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return opener.Close() }})
	return opener
}

func NewBilling(lc fx.Lifecycle, policy retry.Policy) (*gcp.Billing, error) {
	client, err := gcp.NewBilling(context.Background(), policy)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return client, nil
}

func NewProjects(lc fx.Lifecycle, policy retry.Policy) (*gcp.Projects, error) {
	client, err := gcp.NewProjects(context.Background(), policy)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return client, nil
}

func NewInsights(policy retry.Policy) (*gcp.Insights, error) {
	return gcp.NewInsights(context.Background(), config.Getenv("BILLING_API_URL", gcp.DefaultInsightsURL), policy)
}

func NewSecurity(policy retry.Policy) (*gcp.Security, error) {
	return gcp.NewSecurity(context.Background(),
		config.Getenv("CLOUD_ASSET_API_URL", gcp.DefaultAssetURL),
		config.Getenv("SECURITY_CENTER_MANAGEMENT_API_URL", gcp.DefaultSecurityMgmtURL),
		policy,
	)
}

func NewRecommender(lc fx.Lifecycle, policy retry.Policy) (*gcp.Recommender, error) {
	client, err := gcp.NewRecommender(context.Background(), policy)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return client, nil
}

func NewServiceHealth(lc fx.Lifecycle, policy retry.Policy) (*gcp.ServiceHealth, error) {
	client, err := gcp.NewServiceHealth(context.Background(), policy)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return client, nil
}

// NewWarehouse opens BigQuery in the job project; BQ_LOCATION pins where
// query jobs and created datasets live.
func NewWarehouse(lc fx.Lifecycle, cfg config.Config, policy retry.Policy) (*gcp.Warehouse, error) {
	wh, err := gcp.NewWarehouse(context.Background(), cfg.ProjectID, config.Getenv("BQ_LOCATION", "US"), policy)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return wh.Close() }})
	return wh, nil
}
