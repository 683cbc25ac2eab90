package costreports

import (
	"context"
	"iter"

	"cloud.google.com/go/bigquery"
	"github.com/smallbiznis/cloudcost/internal/gcp"
)

// Params bind a report query to one run.
type Params struct {
	Source string
	Days   int
	Limit  int
}

// Source runs one report and streams its rows by column name.
type Source interface {
	Rows(ctx context.Context, r Report, p Params) iter.Seq2[map[string]bigquery.Value, error]
}

type warehouseSource struct {
	wh *gcp.Warehouse
}

func NewWarehouseSource(wh *gcp.Warehouse) Source {
	return warehouseSource{wh: wh}
}

func (s warehouseSource) Rows(ctx context.Context, r Report, p Params) iter.Seq2[map[string]bigquery.Value, error] {
	params := []bigquery.QueryParameter{{Name: "days", Value: p.Days}}
	if r.TopN {
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: p.Limit})
	}
	return gcp.Query[map[string]bigquery.Value](ctx, s.wh, "report "+r.Name, r.SQL(p.Source), params...)
}
