package invoices

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
)

var Module = fx.Module("job.invoices",
	fx.Provide(batch.AsJob(provide)),
)

func provide(env batch.Env, billing *gcp.Billing, insights *gcp.Insights, wh *gcp.Warehouse) *Job {
	return New(env, billing, insights, NewWarehouseLineItems(wh, env.Logger(Name)))
}
