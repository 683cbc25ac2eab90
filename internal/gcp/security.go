package gcp

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"golang.org/x/oauth2/google"
)

const (
	DefaultAssetURL        = "https://cloudasset.googleapis.com/v1"
	DefaultSecurityMgmtURL = "https://securitycentermanagement.googleapis.com/v1"
	cloudPlatformReadScope = "https://www.googleapis.com/auth/cloud-platform.read-only"
	effectiveCustomModules = "effectiveSecurityHealthAnalyticsCustomModules"
)

// Asset is one Cloud Asset Inventory resource search result.
type Asset struct {
	Name                   string   `json:"name"`
	AssetType              string   `json:"assetType"`
	DisplayName            string   `json:"displayName"`
	Project                string   `json:"project"`
	Folders                []string `json:"folders"`
	Organization           string   `json:"organization"`
	ParentFullResourceName string   `json:"parentFullResourceName"`
	ParentAssetType        string   `json:"parentAssetType"`
}

// CustomModule is an effective Security Health Analytics custom module.
type CustomModule struct {
	Name            string `json:"name"`
	DisplayName     string `json:"displayName"`
	EnablementState string `json:"enablementState"`
	CustomConfig    *struct {
		Severity       string `json:"severity"`
		Description    string `json:"description"`
		Recommendation string `json:"recommendation"`
		Predicate      *struct {
			Expression string `json:"expression"`
		} `json:"predicate"`
	} `json:"customConfig"`
}

// Security reads security controls from Cloud Asset Inventory and the
// Security Command Center management API over REST.
type Security struct {
	http     *http.Client
	assetURL string
	mgmtURL  string
	policy   retry.Policy
	pageSize int
}

func NewSecurity(ctx context.Context, assetURL, mgmtURL string, policy retry.Policy) (*Security, error) {
	client, err := google.DefaultClient(ctx, cloudPlatformReadScope)
	if err != nil {
		return nil, fmt.Errorf("security credentials: %w", err)
	}
	return NewSecurityWithClient(client, assetURL, mgmtURL, policy), nil
}

func NewSecurityWithClient(client *http.Client, assetURL, mgmtURL string, policy retry.Policy) *Security {
	if assetURL == "" {
		assetURL = DefaultAssetURL
	}
	if mgmtURL == "" {
		mgmtURL = DefaultSecurityMgmtURL
	}
	return &Security{
		http:     client,
		assetURL: strings.TrimRight(assetURL, "/"),
		mgmtURL:  strings.TrimRight(mgmtURL, "/"),
		policy:   policy,
		pageSize: defaultPageSize,
	}
}

// SearchAssets lists the resources of assetTypes under scope, for example
// organizations/123 or folders/456.
func (s *Security) SearchAssets(ctx context.Context, scope string, assetTypes []string) iter.Seq2[Asset, error] {
	return pipeline.Paginate(ctx, "search assets", s.policy, func(ctx context.Context, token string) ([]Asset, string, error) {
		q := url.Values{}
		for _, t := range assetTypes {
			q.Add("assetTypes", t)
		}
		q.Set("pageSize", strconv.Itoa(s.pageSize))
		if token != "" {
			q.Set("pageToken", token)
		}
		var page struct {
			Results       []Asset `json:"results"`
			NextPageToken string  `json:"nextPageToken"`
		}
		if err := getJSON(ctx, s.http, s.assetURL+"/"+scope+":searchAllResources?"+q.Encode(), &page); err != nil {
			return nil, "", err
		}
		return page.Results, page.NextPageToken, nil
	})
}

// CustomModules lists the effective custom modules of scope at the global location.
func (s *Security) CustomModules(ctx context.Context, scope string) iter.Seq2[CustomModule, error] {
	path := s.mgmtURL + "/" + scope + "/locations/global/" + effectiveCustomModules
	return pipeline.Paginate(ctx, "list custom modules", s.policy, func(ctx context.Context, token string) ([]CustomModule, string, error) {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(s.pageSize))
		if token != "" {
			q.Set("pageToken", token)
		}
		var page struct {
			Modules       []CustomModule `json:"effectiveSecurityHealthAnalyticsCustomModules"`
			NextPageToken string         `json:"nextPageToken"`
		}
		if err := getJSON(ctx, s.http, path+"?"+q.Encode(), &page); err != nil {
			return nil, "", err
		}
		return page.Modules, page.NextPageToken, nil
	})
}
