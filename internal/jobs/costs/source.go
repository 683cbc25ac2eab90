package costs

import (
	"context"
	"fmt"
	"iter"

	"cloud.google.com/go/bigquery"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/zap"
)

// Row is one grouped billing export row.
type Row struct {
	Date        string               `bigquery:"date"`
	ProjectID   bigquery.NullString  `bigquery:"project_id"`
	ProjectName bigquery.NullString  `bigquery:"project_name"`
	Service     bigquery.NullString  `bigquery:"service"`
	SKU         bigquery.NullString  `bigquery:"sku"`
	Cost        float64              `bigquery:"cost"`
	Currency    string               `bigquery:"currency"`
	UsageAmount bigquery.NullFloat64 `bigquery:"usage_amount"`
	UsageUnit   bigquery.NullString  `bigquery:"usage_unit"`
}

// Query selects the rows of one export table.
type Query struct {
	Table   string
	Level   string
	Details bool
	Start   string
	End     string
}

// Source streams grouped export rows. Rows of one (date, project, service)
// group arrive next to each other.
type Source interface {
	Rows(ctx context.Context, q Query) iter.Seq2[Row, error]
}

type warehouseSource struct {
	wh  *gcp.Warehouse
	log *zap.Logger
}

// NewWarehouseSource reads the export through BigQuery. A missing export
// table yields no rows.
func NewWarehouseSource(wh *gcp.Warehouse, log *zap.Logger) Source {
	return &warehouseSource{wh: wh, log: log}
}

func (s *warehouseSource) Rows(ctx context.Context, q Query) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		rows := gcp.Query[Row](ctx, s.wh, "query "+q.Table, buildSQL(q),
			bigquery.QueryParameter{Name: "start", Value: q.Start},
			bigquery.QueryParameter{Name: "end", Value: q.End},
		)
		for row, err := range rows {
			if err != nil && gcp.IsNotFound(err) {
				s.log.Warn("billing export table not found, is export enabled for this account?",
					zap.String("table", q.Table))
				return
			}
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

const rangeFilter = `DATE(usage_start_time) BETWEEN DATE(@start) AND DATE(@end)
  AND cost IS NOT NULL
  AND cost > 0`

func buildSQL(q Query) string {
	switch {
	case q.Level == LevelDaily && q.Details:
		return fmt.Sprintf(`SELECT
  FORMAT_DATE('%%F', DATE(usage_start_time)) AS date,
  project.id AS project_id,
  project.name AS project_name,
  service.description AS service,
  sku.description AS sku,
  SUM(cost) AS cost,
  currency,
  SUM(usage.amount) AS usage_amount,
  usage.unit AS usage_unit
FROM `+"`%s`"+`
WHERE %s
GROUP BY date, project_id, project_name, service, sku, currency, usage_unit
ORDER BY date DESC, project_id, service, cost DESC`, q.Table, rangeFilter)
	case q.Level == LevelDaily:
		return fmt.Sprintf(`SELECT
  FORMAT_DATE('%%F', DATE(usage_start_time)) AS date,
  project.id AS project_id,
  project.name AS project_name,
  'All Services' AS service,
  SUM(cost) AS cost,
  currency,
  SUM(usage.amount) AS usage_amount,
  'mixed' AS usage_unit
FROM `+"`%s`"+`
WHERE %s
GROUP BY date, project_id, project_name, currency
ORDER BY date DESC, project_id`, q.Table, rangeFilter)
	case q.Level == LevelProject:
		return fmt.Sprintf(`SELECT
  @start AS date,
  project.id AS project_id,
  project.name AS project_name,
  'All Services' AS service,
  SUM(cost) AS cost,
  currency,
  SUM(usage.amount) AS usage_amount,
  'mixed' AS usage_unit
FROM `+"`%s`"+`
WHERE %s
GROUP BY project_id, project_name, currency
ORDER BY project_id`, q.Table, rangeFilter)
	default:
		return fmt.Sprintf(`SELECT
  FORMAT_DATE('%%F', DATE(usage_start_time)) AS date,
  project.id AS project_id,
  project.name AS project_name,
  service.description AS service,
  SUM(cost) AS cost,
  currency,
  SUM(usage.amount) AS usage_amount,
  'mixed' AS usage_unit
FROM `+"`%s`"+`
WHERE %s
GROUP BY date, project_id, project_name, service, currency
ORDER BY date DESC, project_id, service`, q.Table, rangeFilter)
	}
}
