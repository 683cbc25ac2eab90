package gcp

import (
	"context"
	"iter"
	"strings"
	"sync"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"google.golang.org/api/iterator"
)

// Projects discovers projects through Resource Manager v3.
type Projects struct {
	client   *resourcemanager.ProjectsClient
	policy   retry.Policy
	pageSize int

	mu      sync.Mutex
	numbers map[string]string
}

func NewProjects(ctx context.Context, policy retry.Policy) (*Projects, error) {
	client, err := resourcemanager.NewProjectsClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Projects{client: client, policy: policy, pageSize: defaultPageSize, numbers: map[string]string{}}, nil
}

// Projects lists the direct children of a folder, or every project whose
// parent is the organization.
func (p *Projects) Projects(ctx context.Context, parent string) iter.Seq2[pipeline.Project, error] {
	var newIter func(ctx context.Context) iterator.Pageable
	if strings.HasPrefix(parent, "organizations/") {
		query := "parent:" + parent
		newIter = func(ctx context.Context) iterator.Pageable {
			return p.client.SearchProjects(ctx, &resourcemanagerpb.SearchProjectsRequest{Query: query})
		}
	} else {
		newIter = func(ctx context.Context) iterator.Pageable {
			return p.client.ListProjects(ctx, &resourcemanagerpb.ListProjectsRequest{Parent: parent})
		}
	}
	pages := pipeline.IteratorPages[*resourcemanagerpb.Project](p.pageSize, newIter)
	return mapSeq(pipeline.Paginate(ctx, "list projects "+parent, p.policy, pages), func(pr *resourcemanagerpb.Project) pipeline.Project {
		number := pipeline.LastSegment(pr.GetName())
		p.remember(pr.GetProjectId(), number)
		return pipeline.Project{
			ID:          pr.GetProjectId(),
			Number:      number,
			DisplayName: pr.GetDisplayName(),
			State:       pr.GetState().String(),
		}
	})
}

// ProjectNumber resolves and caches the numeric id of projectID.
func (p *Projects) ProjectNumber(ctx context.Context, projectID string) (string, error) {
	p.mu.Lock()
	number, ok := p.numbers[projectID]
	p.mu.Unlock()
	if ok {
		return number, nil
	}

	var project *resourcemanagerpb.Project
	attempts, err := p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		project, err = p.client.GetProject(ctx, &resourcemanagerpb.GetProjectRequest{Name: "projects/" + projectID})
		return err
	})
	if err != nil {
		return "", pipeline.RemoteError("get project "+projectID, attempts, err)
	}
	number = pipeline.LastSegment(project.GetName())
	p.remember(projectID, number)
	return number, nil
}

func (p *Projects) remember(projectID, number string) {
	if projectID == "" || number == "" {
		return
	}
	p.mu.Lock()
	p.numbers[projectID] = number
	p.mu.Unlock()
}

func (p *Projects) Close() error { return p.client.Close() }
