package costexport

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
)

var Module = fx.Module("job.cost_export",
	fx.Provide(batch.AsJob(provide)),
)

func provide(env batch.Env, billing *gcp.Billing, wh *gcp.Warehouse) *Job {
	w := newWarehouse(wh, env.Logger(Name))
	return New(env, billing, w, w)
}
