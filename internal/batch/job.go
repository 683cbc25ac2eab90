// Package batch runs exactly one pipeline job per process and turns its
// report into a process exit code.
package batch

import (
	"context"
	"fmt"
	"slices"

	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/fx"
)

const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitConfiguration = 2
)

// Job is one schedulable unit. Run returns a ConfigurationError before any
// remote I/O when its settings are unusable; every other failure is recorded
// in the report.
type Job interface {
	Name() string
	Run(ctx context.Context) (*pipeline.Report, error)
}

// AsJob annotates a constructor so its result joins the job group.
func AsJob(f any) any {
	return fx.Annotate(f, fx.As(new(Job)), fx.ResultTags(`group:"jobs"`))
}

// Registry holds the jobs provided to the application.
type Registry struct {
	jobs map[string]Job
}

type registryParams struct {
	fx.In
	Jobs []Job `group:"jobs"`
}

func NewRegistry(p registryParams) *Registry {
	r := &Registry{jobs: make(map[string]Job, len(p.Jobs))}
	for _, job := range p.Jobs {
		r.jobs[job.Name()] = job
	}
	return r
}

func (r *Registry) Get(name string) (Job, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %q (registered: %v)", name, r.Names())
	}
	return job, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
