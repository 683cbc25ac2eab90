package authorization

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("authorization",
	fx.Provide(
		LoadConfig,
		newVerifier,
		newEnforcer,
		NewGuard,
	),
)

func newVerifier(cfg Config) Verifier {
	return NewGoogleVerifier(cfg.Audience)
}

func newEnforcer(lc fx.Lifecycle, cfg Config, log *zap.Logger) (Authorizer, error) {
	e, err := NewEnforcer(cfg.PolicyFile, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return e.Watch() },
		OnStop:  func(context.Context) error { return e.Close() },
	})
	return e, nil
}
