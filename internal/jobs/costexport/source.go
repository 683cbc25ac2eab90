package costexport

import (
	"context"
	"fmt"
	"iter"

	"cloud.google.com/go/bigquery"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

// Row is one day of one SKU at one location, as read from the export.
type Row struct {
	ProjectID      bigquery.NullString    `bigquery:"project_id"`
	ProjectName    bigquery.NullString    `bigquery:"project_name"`
	Service        bigquery.NullString    `bigquery:"service_description"`
	SKU            bigquery.NullString    `bigquery:"sku_description"`
	UsageStartTime bigquery.NullTimestamp `bigquery:"usage_start_time"`
	UsageEndTime   bigquery.NullTimestamp `bigquery:"usage_end_time"`
	Cost           float64                `bigquery:"cost"`
	Currency       string                 `bigquery:"currency"`
	UsageAmount    bigquery.NullFloat64   `bigquery:"usage_amount"`
	UsageUnit      bigquery.NullString    `bigquery:"usage_unit"`
	Credits        float64                `bigquery:"credits"`
	Region         bigquery.NullString    `bigquery:"location_region"`
	Zone           bigquery.NullString    `bigquery:"location_zone"`
	Labels         bigquery.NullString    `bigquery:"labels"`
}

// Source reads the export rows of one account for one day.
type Source interface {
	Rows(ctx context.Context, tables, account, date string) iter.Seq2[Row, error]
}

// Destination creates the target table on first use and returns its
// streaming insert sink.
type Destination interface {
	Ensure(ctx context.Context, dataset, table string) (pipeline.Sink, error)
}

type warehouse struct {
	wh  *gcp.Warehouse
	log *zap.Logger
}

func newWarehouse(wh *gcp.Warehouse, log *zap.Logger) *warehouse {
	return &warehouse{wh: wh, log: log}
}

const exportSQL = `SELECT
  project.id AS project_id,
  project.name AS project_name,
  service.description AS service_description,
  sku.description AS sku_description,
  MIN(usage_start_time) AS usage_start_time,
  MAX(usage_end_time) AS usage_end_time,
  SUM(cost) AS cost,
  currency,
  SUM(usage.amount) AS usage_amount,
  usage.unit AS usage_unit,
  SUM(IFNULL((SELECT SUM(c.amount) FROM UNNEST(credits) c), 0)) AS credits,
  location.region AS location_region,
  location.zone AS location_zone,
  TO_JSON_STRING(labels) AS labels
FROM ` + "`%s`" + `
WHERE billing_account_id = @account
  AND DATE(usage_start_time) = DATE(@date)
GROUP BY project_id, project_name, service_description, sku_description, currency,
  usage_unit, location_region, location_zone, labels`

func (w *warehouse) Rows(ctx context.Context, tables, account, date string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		rows := gcp.Query[Row](ctx, w.wh, "query billing export", fmt.Sprintf(exportSQL, tables),
			bigquery.QueryParameter{Name: "account", Value: account},
			bigquery.QueryParameter{Name: "date", Value: date},
		)
		for row, err := range rows {
			if err != nil && gcp.IsNotFound(err) {
				w.log.Warn("billing export tables not found", zap.String("tables", tables), zap.String("billing_account_id", account))
				return
			}
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

func (w *warehouse) Ensure(ctx context.Context, dataset, table string) (pipeline.Sink, error) {
	t, err := w.wh.EnsureTable(ctx, dataset, table, Schema, "date")
	if err != nil {
		return nil, err
	}
	return gcp.NewTableSink(t), nil
}

// Schema is the layout of the daily cost table.
var Schema = bigquery.Schema{
	{Name: "billing_account_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "billing_account_name", Type: bigquery.StringFieldType},
	{Name: "date", Type: bigquery.DateFieldType, Required: true},
	{Name: "project_id", Type: bigquery.StringFieldType},
	{Name: "project_name", Type: bigquery.StringFieldType},
	{Name: "service_description", Type: bigquery.StringFieldType},
	{Name: "sku_description", Type: bigquery.StringFieldType},
	{Name: "usage_start_time", Type: bigquery.TimestampFieldType},
	{Name: "usage_end_time", Type: bigquery.TimestampFieldType},
	{Name: "cost", Type: bigquery.FloatFieldType},
	{Name: "currency", Type: bigquery.StringFieldType},
	{Name: "usage_amount", Type: bigquery.FloatFieldType},
	{Name: "usage_unit", Type: bigquery.StringFieldType},
	{Name: "credits", Type: bigquery.FloatFieldType},
	{Name: "location_region", Type: bigquery.StringFieldType},
	{Name: "location_zone", Type: bigquery.StringFieldType},
	{Name: "labels", Type: bigquery.StringFieldType},
	{Name: "collected_at", Type: bigquery.TimestampFieldType, Required: true},
}

func nullTime(t bigquery.NullTimestamp) any {
	if !t.Valid {
		return nil
	}
	return t.Timestamp.UTC()
}

func nullString(s bigquery.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.StringVal
}
