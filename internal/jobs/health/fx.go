package health

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
)

var Module = fx.Module("job.health",
	fx.Provide(batch.AsJob(func(env batch.Env, events *gcp.ServiceHealth) *Job {
		return New(env, events)
	})),
)
