package costreports

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

const (
	ProjectCostSummary        = "project_cost_summary"
	ServiceCostSummary        = "service_cost_summary"
	ProjectServiceCostSummary = "project_service_cost_summary"
	DailyCostTrends           = "daily_cost_trends"
	TopCostDrivers            = "top_cost_drivers"
	LocationCostSummary       = "location_cost_summary"
)

// Report is one aggregation over the daily cost table.
type Report struct {
	Name string
	// SQL renders the query against the fully qualified source table.
	SQL func(source string) string
	// TopN reports use the short window and a row limit.
	TopN bool
	Key  pipeline.KeyFunc
}

func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, r := range catalog {
		names = append(names, r.Name)
	}
	return names
}

func Lookup(name string) (Report, bool) {
	for _, r := range catalog {
		if r.Name == name {
			return r, true
		}
	}
	return Report{}, false
}

const window = `date >= DATE_SUB(CURRENT_DATE(), INTERVAL @days DAY)
  AND cost IS NOT NULL`

var catalog = []Report{
	{
		Name: ProjectCostSummary,
		SQL: func(source string) string {
			return fmt.Sprintf(`SELECT
  project_id,
  project_name,
  billing_account_id,
  billing_account_name,
  FORMAT_DATE('%%F', MIN(date)) AS first_cost_date,
  FORMAT_DATE('%%F', MAX(date)) AS last_cost_date,
  COUNT(DISTINCT date) AS days_with_costs,
  ROUND(SUM(cost), 2) AS total_cost,
  ROUND(SUM(credits), 2) AS total_credits,
  ROUND(SUM(cost) + SUM(credits), 2) AS net_cost,
  ROUND(AVG(cost), 2) AS avg_daily_cost,
  currency,
  COUNT(DISTINCT service_description) AS service_count,
  MAX(collected_at) AS last_updated
FROM `+"`%s`"+`
WHERE %s
  AND project_id IS NOT NULL
GROUP BY project_id, project_name, billing_account_id, billing_account_name, currency
ORDER BY total_cost DESC`, source, window)
		},
		Key: keyOf("project_id"),
	},
	{
		Name: ServiceCostSummary,
		SQL: func(source string) string {
			return fmt.Sprintf(`SELECT
  service_description,
  COUNT(DISTINCT project_id) AS project_count,
  ROUND(SUM(cost), 2) AS total_cost,
  ROUND(SUM(credits), 2) AS total_credits,
  ROUND(SUM(cost) + SUM(credits), 2) AS net_cost,
  currency,
  MAX(collected_at) AS last_updated
FROM `+"`%s`"+`
WHERE %s
GROUP BY service_description, currency
ORDER BY total_cost DESC`, source, window)
		},
		Key: keyOf("service_description"),
	},
	{
		Name: ProjectServiceCostSummary,
		SQL: func(source string) string {
			return fmt.Sprintf(`SELECT
  project_id,
  project_name,
  service_description,
  ROUND(SUM(cost), 2) AS total_cost,
  ROUND(SUM(credits), 2) AS total_credits,
  ROUND(SUM(cost) + SUM(credits), 2) AS net_cost,
  currency,
  ROUND(SUM(cost) / NULLIF(SUM(SUM(cost)) OVER (PARTITION BY project_id), 0) * 100, 2) AS pct_of_project_cost,
  MAX(collected_at) AS last_updated
FROM `+"`%s`"+`
WHERE %s
  AND project_id IS NOT NULL
GROUP BY project_id, project_name, service_description, currency
ORDER BY project_id, total_cost DESC`, source, window)
		},
		Key: keyOf("project_id", "service_description"),
	},
	{
		Name: DailyCostTrends,
		SQL: func(source string) string {
			return fmt.Sprintf(`SELECT
  FORMAT_DATE('%%F', date) AS date,
  COUNT(DISTINCT project_id) AS active_projects,
  ROUND(SUM(cost), 2) AS total_cost,
  ROUND(SUM(credits), 2) AS total_credits,
  ROUND(SUM(cost) + SUM(credits), 2) AS net_cost,
  currency,
  MAX(collected_at) AS last_updated
FROM `+"`%s`"+`
WHERE %s
GROUP BY date, currency
ORDER BY date DESC`, source, window)
		},
		Key: keyOf("date"),
	},
	{
		Name: TopCostDrivers,
		TopN: true,
		SQL: func(source string) string {
			return fmt.Sprintf(`SELECT
  service_description,
  sku_description,
  COUNT(DISTINCT project_id) AS project_count,
  ROUND(SUM(cost), 2) AS total_cost,
  ROUND(SUM(credits), 2) AS total_credits,
  currency,
  MAX(collected_at) AS last_updated
FROM `+"`%s`"+`
WHERE %s
GROUP BY service_description, sku_description, currency
ORDER BY total_cost DESC
LIMIT @limit`, source, window)
		},
		Key: driverKey,
	},
	{
		Name: LocationCostSummary,
		SQL: func(source string) string {
			return fmt.Sprintf(`SELECT
  COALESCE(location_region, 'global') AS region,
  location_zone AS zone,
  COUNT(DISTINCT project_id) AS project_count,
  ROUND(SUM(cost), 2) AS total_cost,
  ROUND(SUM(credits), 2) AS total_credits,
  ROUND(SUM(cost) + SUM(credits), 2) AS net_cost,
  currency,
  MAX(collected_at) AS last_updated
FROM `+"`%s`"+`
WHERE %s
GROUP BY location_region, location_zone, currency
ORDER BY total_cost DESC`, source, window)
		},
		Key: locationKey,
	},
}

// keyOf joins the named fields with '_'. '/' is not allowed in document ids.
func keyOf(fields ...string) pipeline.KeyFunc {
	return func(rec pipeline.RawRecord) (string, error) {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			v := rec.String(f)
			if v == "" {
				return "", fmt.Errorf("%w: %s row without %s", pipeline.ErrMalformedRecord, rec.ScopeID, f)
			}
			parts = append(parts, v)
		}
		return docID(strings.Join(parts, "_")), nil
	}
}

func driverKey(rec pipeline.RawRecord) (string, error) {
	service, sku := rec.String("service_description"), rec.String("sku_description")
	if service == "" {
		return "", fmt.Errorf("%w: driver row without service_description", pipeline.ErrMalformedRecord)
	}
	if r := []rune(sku); len(r) > 50 {
		sku = string(r[:50])
	}
	return docID(service + "_" + sku), nil
}

func locationKey(rec pipeline.RawRecord) (string, error) {
	zone := rec.String("zone")
	if zone == "" {
		zone = "none"
	}
	region := rec.String("region")
	if region == "" {
		region = "global"
	}
	return docID(region + "_" + zone), nil
}

func docID(raw string) string {
	return strings.ReplaceAll(raw, "/", "_")
}

// withSlugs adds URL-safe keys next to free-text service and SKU names so
// dashboards can link to a report row.
func withSlugs(fields map[string]any) {
	if s, ok := fields["service_description"].(string); ok && s != "" {
		fields["service_slug"] = slug.Make(s)
	}
	if s, ok := fields["sku_description"].(string); ok && s != "" {
		fields["sku_slug"] = slug.Make(s)
	}
}
