package notify

import (
	"context"

	auditdomain "github.com/smallbiznis/cloudcost/internal/audit/domain"
	"github.com/smallbiznis/cloudcost/internal/authorization"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	obsmetrics "github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/ratelimit"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"github.com/smallbiznis/cloudcost/internal/server"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(
		LoadConfig,
		newChannels,
		newSender,
		newVerification,
		server.AsRoutes(newHandler),
	),
)

func newChannels(cfg Config, stores docstore.Opener) (*Channels, error) {
	store, err := stores.Open(context.Background(), cfg.Database)
	if err != nil {
		return nil, err
	}
	return NewChannels(store, cfg.ChannelsCollection), nil
}

func newSender(cfg Config, policy retry.Policy, limiter ratelimit.Limiter, m *obsmetrics.Metrics, log *zap.Logger) *Sender {
	return NewSender(SenderOptions{
		Policy:  policy,
		Limiter: limiter,
		Timeout: cfg.WebhookTimeout,
		Metrics: m,
		Log:     log,
	})
}

func newVerification(cfg Config, channels *Channels, sender *Sender, locker *ratelimit.Locker, clk clock.Clock, log *zap.Logger) *Verification {
	return NewVerification(channels, sender, locker, clk, VerificationOptions{
		Expiry:      cfg.CodeExpiry,
		MaxAttempts: cfg.MaxConfirmAttempts,
	}, log)
}

func newHandler(channels *Channels, sender *Sender, verification *Verification, audit auditdomain.Service, guard *authorization.Guard, clk clock.Clock, log *zap.Logger) *Handler {
	return NewHandler(HandlerParams{
		Channels:     channels,
		Sender:       sender,
		Verification: verification,
		Audit:        audit,
		Guard:        guard,
		Clock:        clk,
		Log:          log,
	})
}
