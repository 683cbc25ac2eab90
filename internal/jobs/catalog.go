// Package jobs indexes the batch jobs by name for tools that run any of
// them.
package jobs

import (
	"fmt"
	"slices"

	"github.com/smallbiznis/cloudcost/internal/jobs/anomalies"
	"github.com/smallbiznis/cloudcost/internal/jobs/costexport"
	"github.com/smallbiznis/cloudcost/internal/jobs/costreports"
	"github.com/smallbiznis/cloudcost/internal/jobs/costs"
	"github.com/smallbiznis/cloudcost/internal/jobs/health"
	"github.com/smallbiznis/cloudcost/internal/jobs/invoices"
	"github.com/smallbiznis/cloudcost/internal/jobs/recommendations"
	"github.com/smallbiznis/cloudcost/internal/jobs/securitycontrols"
	"go.uber.org/fx"
)

// Entry pairs a job with the binary that ships it.
type Entry struct {
	Name   string
	Binary string
	Module fx.Option
}

var catalog = []Entry{
	{Name: costs.Name, Binary: "cost-collector", Module: costs.Module},
	{Name: costexport.Name, Binary: "cost-export", Module: costexport.Module},
	{Name: costreports.Name, Binary: "cost-reports", Module: costreports.Module},
	{Name: anomalies.Name, Binary: "anomaly-collector", Module: anomalies.Module},
	{Name: invoices.Name, Binary: "invoice-ingestion", Module: invoices.Module},
	{Name: recommendations.Name, Binary: "recommendation-collector", Module: recommendations.Module},
	{Name: health.Name, Binary: "health-monitor", Module: health.Module},
	{Name: securitycontrols.Name, Binary: "security-controls-ingestion", Module: securitycontrols.Module},
}

// All returns the catalog sorted by job name.
func All() []Entry {
	out := slices.Clone(catalog)
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Lookup accepts a job name or its binary name.
func Lookup(name string) (Entry, error) {
	for _, e := range catalog {
		if e.Name == name || e.Binary == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("unknown job %q", name)
}
