package batch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const lifecycleTimeout = 30 * time.Second

// Main runs the named job and exits the process with its exit code.
func Main(name string, jobModule fx.Option) {
	os.Exit(Execute(context.Background(), name, jobModule))
}

// Execute builds the application around jobModule, runs the named job once
// and stops the application. SIGINT and SIGTERM cancel the run; in-flight
// batches still get their final flush.
func Execute(ctx context.Context, name string, jobModule fx.Option) int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, &pipeline.ConfigurationError{Setting: "GCP_PROJECT_ID", Err: err})
		return ExitConfiguration
	}

	var (
		runner   *Runner
		registry *Registry
	)
	app := fx.New(
		Module,
		jobModule,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		fx.Populate(&runner, &registry),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return ExitConfiguration
	}

	startCtx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: start: %v\n", name, err)
		return ExitFailure
	}

	code := ExitFailure
	if job, err := registry.Get(name); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		code = ExitConfiguration
	} else {
		runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		code = runner.Run(runCtx, job)
		stop()
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: stop: %v\n", name, err)
	}
	return code
}
