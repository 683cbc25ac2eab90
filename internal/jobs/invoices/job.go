// Package invoices ingests monthly invoices with their billing export line items.
package invoices

import (
	"context"
	"iter"
	"time"

	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

const Name = "invoices"

const (
	defaultCurrency = "USD"
	defaultStatus   = "finalized"
	// dueAfterMonthEnd estimates payment terms when the invoice has no due date.
	dueAfterMonthEnd = 30
)

type Job struct {
	env       batch.Env
	accounts  pipeline.BillingAccountLister
	invoices  Lister
	lineItems LineItems
}

func New(env batch.Env, accounts pipeline.BillingAccountLister, invoices Lister, lineItems LineItems) *Job {
	return &Job{env: env, accounts: accounts, invoices: invoices, lineItems: lineItems}
}

func (j *Job) Name() string { return Name }

func (j *Job) Run(ctx context.Context) (*pipeline.Report, error) {
	cfg, err := LoadConfig(j.env.Config)
	if err != nil {
		return nil, err
	}
	log := j.env.Logger(Name)
	store, err := j.env.Stores.Open(ctx, cfg.Database)
	if err != nil {
		return nil, pipeline.RemoteError("open database "+cfg.Database, 1, err)
	}
	cache := j.env.Enrichment(ctx, Name)

	now := j.env.Now()
	oldest := now.AddDate(0, -cfg.MonthsBack, 0).Format("2006-01")
	log.Info("invoice window", zap.String("oldest_month", oldest), zap.Bool("line_items", cfg.IncludeLineItems))

	return j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name: Name,
		Enumerator: pipeline.BillingAccounts{
			Lister:    j.accounts,
			AllowList: cfg.AccountIDs,
			Log:       log,
		},
		Fetcher:    j.fetcher(cfg, cache, oldest, now),
		Enricher:   pipeline.Enricher{Cache: cache, Key: pipeline.InvoiceKey},
		Sink:       store,
		Collection: func(pipeline.Scope) string { return cfg.Collection },
		Merge:      true,
	})
}

func (j *Job) fetcher(cfg Config, cache pipeline.Lookup, oldest string, now time.Time) pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
		return func(yield func(pipeline.RawRecord, error) bool) {
			for inv, err := range j.invoices.Invoices(ctx, scope.ID) {
				if err != nil {
					yield(pipeline.RawRecord{}, err)
					return
				}
				month := inv.Month()
				if month != "" && month < oldest {
					continue
				}
				fields := invoiceFields(scope.ID, inv, now)
				if cfg.IncludeLineItems && month != "" {
					items, err := j.lineItems.LineItems(ctx, cfg.Table(scope.ID), month)
					if err != nil {
						yield(pipeline.RawRecord{}, pipeline.RemoteError("line items "+month, 1, err))
						return
					}
					fields["line_items"] = lineItemFields(items, cache)
				}
				if !yield(pipeline.RawRecord{NaturalKey: inv.Name, Payload: fields, ScopeID: scope.ID}, nil) {
					return
				}
			}
		}
	})
}

func invoiceFields(account string, inv gcp.Invoice, now time.Time) map[string]any {
	month := inv.Month()
	currency := inv.CurrencyCode
	if currency == "" {
		currency = defaultCurrency
	}
	issue := inv.IssueDate.String()
	if issue == "" && month != "" {
		issue = month + "-01"
	}
	due, estimated := inv.DueDate.String(), false
	if due == "" && month != "" {
		due, estimated = estimateDueDate(month), true
	}
	return map[string]any{
		"invoice_id":         pipeline.LastSegment(inv.Name),
		"invoice_name":       inv.Name,
		"billing_account_id": account,
		"invoice_month":      month,
		"currency":           currency,
		"total_amount":       inv.AmountDue.Float(),
		"subtotal":           inv.Subtotal.Float(),
		"tax":                inv.TaxAmount.Float(),
		"credits":            inv.CreditsAmount.Float(),
		"status":             defaultStatus,
		"issue_date":         issue,
		"due_date":           due,
		"due_date_estimated": estimated,
		"fetched_at":         now,
	}
}

// estimateDueDate is the last day of month plus dueAfterMonthEnd days. It is
// an estimate, not the contractual due date.
func estimateDueDate(month string) string {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return ""
	}
	monthEnd := start.AddDate(0, 1, -1)
	return monthEnd.AddDate(0, 0, dueAfterMonthEnd).Format(time.DateOnly)
}

func lineItemFields(items []LineItem, cache pipeline.Lookup) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		fields := map[string]any{
			"project_id":   item.ProjectID.StringVal,
			"project_name": item.ProjectName.StringVal,
			"service":      item.Service.StringVal,
			"sku":          item.SKU.StringVal,
			"cost":         item.Cost,
			"credits":      item.Credits.Float64,
			"usage_amount": item.UsageAmount.Float64,
			"usage_unit":   item.UsageUnit.StringVal,
		}
		pipeline.ApplyEnrichment(cache, item.ProjectID.StringVal, fields)
		out = append(out, fields)
	}
	return out
}
