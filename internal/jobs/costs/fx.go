package costs

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
)

var Module = fx.Module("job.costs",
	fx.Provide(batch.AsJob(provide)),
)

func provide(env batch.Env, billing *gcp.Billing, wh *gcp.Warehouse) *Job {
	return New(env, billing, NewWarehouseSource(wh, env.Logger(Name)))
}
