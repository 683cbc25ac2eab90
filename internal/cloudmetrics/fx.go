package cloudmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Module provides the end-of-run pusher. The gatherer is the default registry,
// where the pipeline metrics live.
var Module = fx.Module("cloud.metrics",
	fx.Provide(
		NewPusher,
		func() prometheus.Gatherer { return prometheus.DefaultGatherer },
	),
)
