package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"golang.org/x/oauth2/google"
)

// DefaultInsightsURL is the Cloud Billing REST root serving anomalies and invoices.
const DefaultInsightsURL = "https://cloudbilling.googleapis.com/v1beta"

const billingReadScope = "https://www.googleapis.com/auth/cloud-billing.readonly"

// Insights is a REST client for the billing endpoints that have no Go SDK.
type Insights struct {
	http     *http.Client
	baseURL  string
	policy   retry.Policy
	pageSize int
}

// NewInsights authenticates with Application Default Credentials.
func NewInsights(ctx context.Context, baseURL string, policy retry.Policy) (*Insights, error) {
	client, err := google.DefaultClient(ctx, billingReadScope)
	if err != nil {
		return nil, fmt.Errorf("billing credentials: %w", err)
	}
	return NewInsightsWithClient(client, baseURL, policy), nil
}

func NewInsightsWithClient(client *http.Client, baseURL string, policy retry.Policy) *Insights {
	if baseURL == "" {
		baseURL = DefaultInsightsURL
	}
	return &Insights{
		http:     client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		policy:   policy,
		pageSize: defaultPageSize,
	}
}

type Anomaly struct {
	Name          string `json:"name"`
	DetectionTime string `json:"detectionTime"`
	UpdateTime    string `json:"updateTime"`
	Scope         struct {
		ProjectID string `json:"projectId"`
		Service   string `json:"service"`
		Location  string `json:"location"`
	} `json:"scope"`
	CostImpact struct {
		CostChange       float64 `json:"costChange"`
		PercentageChange float64 `json:"percentageChange"`
		CurrencyCode     string  `json:"currencyCode"`
	} `json:"costImpact"`
	TimePeriod struct {
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
	} `json:"timePeriod"`
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Money is a google.type.Money value.
type Money struct {
	CurrencyCode string `json:"currencyCode"`
	Units        string `json:"units"`
	Nanos        int64  `json:"nanos"`
}

func (m *Money) Float() float64 {
	if m == nil {
		return 0
	}
	units, _ := strconv.ParseInt(m.Units, 10, 64)
	return float64(units) + float64(m.Nanos)/1e9
}

// Date is a google.type.Date value; zero fields mean unknown.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func (d *Date) String() string {
	if d == nil || d.Year == 0 || d.Month == 0 || d.Day == 0 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

type Invoice struct {
	Name         string `json:"name"`
	InvoiceMonth *struct {
		Year  int `json:"year"`
		Month int `json:"month"`
	} `json:"invoiceMonth"`
	CurrencyCode  string `json:"currencyCode"`
	AmountDue     *Money `json:"amountDue"`
	Subtotal      *Money `json:"subtotal"`
	TaxAmount     *Money `json:"taxAmount"`
	CreditsAmount *Money `json:"creditsAmount"`
	IssueDate     *Date  `json:"issueDate"`
	DueDate       *Date  `json:"dueDate"`
}

// Month is YYYY-MM, or "" when the invoice carries no month.
func (i Invoice) Month() string {
	if i.InvoiceMonth == nil || i.InvoiceMonth.Year == 0 || i.InvoiceMonth.Month == 0 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", i.InvoiceMonth.Year, i.InvoiceMonth.Month)
}

// Anomalies lists the anomalies of account detected at or after since.
func (c *Insights) Anomalies(ctx context.Context, account string, since time.Time) iter.Seq2[Anomaly, error] {
	path := "/billingAccounts/" + pipeline.LastSegment(account) + "/anomalies"
	query := url.Values{}
	if !since.IsZero() {
		query.Set("filter", fmt.Sprintf("detectionTime >= %q", since.UTC().Format(time.RFC3339)))
	}
	return pipeline.Paginate(ctx, "list anomalies", c.policy, func(ctx context.Context, token string) ([]Anomaly, string, error) {
		var page struct {
			Anomalies     []Anomaly `json:"anomalies"`
			NextPageToken string    `json:"nextPageToken"`
		}
		if err := c.get(ctx, path, query, token, &page); err != nil {
			return nil, "", err
		}
		return page.Anomalies, page.NextPageToken, nil
	})
}

func (c *Insights) Invoices(ctx context.Context, account string) iter.Seq2[Invoice, error] {
	path := "/billingAccounts/" + pipeline.LastSegment(account) + "/invoices"
	return pipeline.Paginate(ctx, "list invoices", c.policy, func(ctx context.Context, token string) ([]Invoice, string, error) {
		var page struct {
			Invoices      []Invoice `json:"invoices"`
			NextPageToken string    `json:"nextPageToken"`
		}
		if err := c.get(ctx, path, nil, token, &page); err != nil {
			return nil, "", err
		}
		return page.Invoices, page.NextPageToken, nil
	})
}

func (c *Insights) get(ctx context.Context, path string, query url.Values, token string, out any) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	if token != "" {
		q.Set("pageToken", token)
	}

	return getJSON(ctx, c.http, c.baseURL+path+"?"+q.Encode(), out)
}

// getJSON decodes one GET response. Non-2xx statuses become
// *retry.HTTPStatusError so the retry classifier can judge them.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
