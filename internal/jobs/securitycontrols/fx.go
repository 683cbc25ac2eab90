package securitycontrols

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
)

var Module = fx.Module("job.security_controls",
	fx.Provide(batch.AsJob(func(env batch.Env, security *gcp.Security) *Job {
		return New(env, security)
	})),
)
