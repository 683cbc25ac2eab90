package invoices

import (
	"context"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"go.uber.org/zap"
)

// Lister lists the invoices of one billing account.
type Lister interface {
	Invoices(ctx context.Context, account string) iter.Seq2[gcp.Invoice, error]
}

// LineItem is one project/service/sku total of an invoice month.
type LineItem struct {
	ProjectID   bigquery.NullString  `bigquery:"project_id"`
	ProjectName bigquery.NullString  `bigquery:"project_name"`
	Service     bigquery.NullString  `bigquery:"service"`
	SKU         bigquery.NullString  `bigquery:"sku"`
	Cost        float64              `bigquery:"cost"`
	Credits     bigquery.NullFloat64 `bigquery:"credits"`
	UsageAmount bigquery.NullFloat64 `bigquery:"usage_amount"`
	UsageUnit   bigquery.NullString  `bigquery:"usage_unit"`
}

// LineItems reads invoice line items from the billing export.
type LineItems interface {
	LineItems(ctx context.Context, table, month string) ([]LineItem, error)
}

type warehouseLineItems struct {
	wh  *gcp.Warehouse
	log *zap.Logger
}

// NewWarehouseLineItems queries the export table. A missing table yields no
// line items.
func NewWarehouseLineItems(wh *gcp.Warehouse, log *zap.Logger) LineItems {
	return &warehouseLineItems{wh: wh, log: log}
}

func (s *warehouseLineItems) LineItems(ctx context.Context, table, month string) ([]LineItem, error) {
	invoiceMonth, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, fmt.Errorf("invoice month %q: %w", month, err)
	}
	var items []LineItem
	rows := gcp.Query[LineItem](ctx, s.wh, "query "+table, lineItemSQL(table),
		bigquery.QueryParameter{Name: "month", Value: invoiceMonth.Format("200601")},
	)
	for row, err := range rows {
		if err != nil {
			if gcp.IsNotFound(err) {
				s.log.Warn("billing export table not found, line items skipped", zap.String("table", table))
				return nil, nil
			}
			return nil, err
		}
		items = append(items, row)
	}
	return items, nil
}

func lineItemSQL(table string) string {
	return fmt.Sprintf(`SELECT
  project.id AS project_id,
  project.name AS project_name,
  service.description AS service,
  sku.description AS sku,
  SUM(cost) AS cost,
  SUM(IFNULL((SELECT SUM(c.amount) FROM UNNEST(credits) c), 0)) AS credits,
  SUM(usage.amount) AS usage_amount,
  usage.unit AS usage_unit
FROM `+"`%s`"+`
WHERE invoice.month = @month
GROUP BY project_id, project_name, service, sku, usage_unit
HAVING cost != 0
ORDER BY cost DESC`, table)
}
