package recommendations

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
)

var Module = fx.Module("job.recommendations",
	fx.Provide(batch.AsJob(provide)),
)

func provide(env batch.Env, projects *gcp.Projects, recommender *gcp.Recommender) *Job {
	return New(env, projects, recommender)
}
