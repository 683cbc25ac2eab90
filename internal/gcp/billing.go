package gcp

import (
	"context"
	"iter"

	billing "cloud.google.com/go/billing/apiv1"
	"cloud.google.com/go/billing/apiv1/billingpb"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"google.golang.org/api/iterator"
)

// Billing lists billing accounts and the projects linked to them.
type Billing struct {
	client   *billing.CloudBillingClient
	policy   retry.Policy
	pageSize int
}

func NewBilling(ctx context.Context, policy retry.Policy) (*Billing, error) {
	client, err := billing.NewCloudBillingClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Billing{client: client, policy: policy, pageSize: defaultPageSize}, nil
}

func (b *Billing) BillingAccounts(ctx context.Context) iter.Seq2[pipeline.BillingAccount, error] {
	pages := pipeline.IteratorPages[*billingpb.BillingAccount](b.pageSize, func(ctx context.Context) iterator.Pageable {
		return b.client.ListBillingAccounts(ctx, &billingpb.ListBillingAccountsRequest{})
	})
	return mapSeq(pipeline.Paginate(ctx, "list billing accounts", b.policy, pages), func(a *billingpb.BillingAccount) pipeline.BillingAccount {
		return pipeline.BillingAccount{
			ID:          pipeline.LastSegment(a.GetName()),
			DisplayName: a.GetDisplayName(),
			Open:        a.GetOpen(),
		}
	})
}

// ProjectBillingInfo is one project linked to a billing account.
type ProjectBillingInfo struct {
	ProjectID      string
	BillingEnabled bool
}

// LinkedProjects lists the projects billed to account.
func (b *Billing) LinkedProjects(ctx context.Context, account string) iter.Seq2[ProjectBillingInfo, error] {
	name := "billingAccounts/" + pipeline.LastSegment(account)
	pages := pipeline.IteratorPages[*billingpb.ProjectBillingInfo](b.pageSize, func(ctx context.Context) iterator.Pageable {
		return b.client.ListProjectBillingInfo(ctx, &billingpb.ListProjectBillingInfoRequest{Name: name})
	})
	return mapSeq(pipeline.Paginate(ctx, "list project billing info", b.policy, pages), func(p *billingpb.ProjectBillingInfo) ProjectBillingInfo {
		return ProjectBillingInfo{ProjectID: p.GetProjectId(), BillingEnabled: p.GetBillingEnabled()}
	})
}

func (b *Billing) Close() error { return b.client.Close() }
