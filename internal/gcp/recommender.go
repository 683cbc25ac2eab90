package gcp

import (
	"context"
	"fmt"
	"iter"

	recommender "cloud.google.com/go/recommender/apiv1"
	"cloud.google.com/go/recommender/apiv1/recommenderpb"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"google.golang.org/api/iterator"
)

type Recommender struct {
	client   *recommender.Client
	policy   retry.Policy
	pageSize int
}

func NewRecommender(ctx context.Context, policy retry.Policy) (*Recommender, error) {
	client, err := recommender.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Recommender{client: client, policy: policy, pageSize: defaultPageSize}, nil
}

// RecommenderParent is projects/{project}/locations/{location}/recommenders/{type}.
func RecommenderParent(project, location, recommenderType string) string {
	return fmt.Sprintf("projects/%s/locations/%s/recommenders/%s", project, location, recommenderType)
}

// Recommendations lists the recommendations under parent matching filter.
func (r *Recommender) Recommendations(ctx context.Context, parent, filter string) iter.Seq2[*recommenderpb.Recommendation, error] {
	pages := pipeline.IteratorPages[*recommenderpb.Recommendation](r.pageSize, func(ctx context.Context) iterator.Pageable {
		return r.client.ListRecommendations(ctx, &recommenderpb.ListRecommendationsRequest{
			Parent: parent,
			Filter: filter,
		})
	})
	return pipeline.Paginate(ctx, "list recommendations", r.policy, pages)
}

func (r *Recommender) Close() error { return r.client.Close() }
