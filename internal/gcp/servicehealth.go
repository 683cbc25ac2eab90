package gcp

import (
	"context"
	"iter"

	servicehealth "cloud.google.com/go/servicehealth/apiv1"
	"cloud.google.com/go/servicehealth/apiv1/servicehealthpb"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"google.golang.org/api/iterator"
)

type ServiceHealth struct {
	client   *servicehealth.Client
	policy   retry.Policy
	pageSize int
}

func NewServiceHealth(ctx context.Context, policy retry.Policy) (*ServiceHealth, error) {
	client, err := servicehealth.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &ServiceHealth{client: client, policy: policy, pageSize: defaultPageSize}, nil
}

// OrganizationEvents lists events under organizations/{id}/locations/global.
func (s *ServiceHealth) OrganizationEvents(ctx context.Context, parent, filter string) iter.Seq2[*servicehealthpb.OrganizationEvent, error] {
	pages := pipeline.IteratorPages[*servicehealthpb.OrganizationEvent](s.pageSize, func(ctx context.Context) iterator.Pageable {
		return s.client.ListOrganizationEvents(ctx, &servicehealthpb.ListOrganizationEventsRequest{
			Parent: parent,
			Filter: filter,
		})
	})
	return pipeline.Paginate(ctx, "list organization events", s.policy, pages)
}

func (s *ServiceHealth) Close() error { return s.client.Close() }
