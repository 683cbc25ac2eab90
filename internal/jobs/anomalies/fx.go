package anomalies

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/currency"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("job.anomalies",
	fx.Provide(
		NewRates,
		batch.AsJob(func(env batch.Env, billing *gcp.Billing, insights *gcp.Insights, rates *currency.Holder) *Job {
			return New(env, billing, insights, rates)
		}),
	),
)

// NewRates serves CURRENCY_RATES_FILE when set, the built-in table otherwise.
func NewRates(log *zap.Logger) (*currency.Holder, error) {
	return currency.NewHolder(config.Getenv("CURRENCY_RATES_FILE", ""), log)
}
