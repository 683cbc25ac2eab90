package costreports

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
)

var Module = fx.Module("job.cost_reports",
	fx.Provide(batch.AsJob(func(env batch.Env, wh *gcp.Warehouse) *Job {
		return New(env, NewWarehouseSource(wh))
	})),
)
