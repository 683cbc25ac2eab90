package securitycontrols

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/smallbiznis/cloudcost/internal/batch/batchtest"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	assets     []gcp.Asset
	modules    []gcp.CustomModule
	modulesErr error
	scopes     []string
	types      []string
}

func (f *fakeSource) SearchAssets(_ context.Context, scope string, assetTypes []string) iter.Seq2[gcp.Asset, error] {
	f.scopes = append(f.scopes, scope)
	f.types = assetTypes
	return batchtest.Seq(f.assets, nil)
}

func (f *fakeSource) CustomModules(_ context.Context, scope string) iter.Seq2[gcp.CustomModule, error] {
	f.scopes = append(f.scopes, scope)
	return batchtest.Seq(f.modules, f.modulesErr)
}

const policyName = "//orgpolicy.googleapis.com/organizations/123/policies/iam.disableServiceAccountKeyCreation"

func TestRunUpsertsControlsFromEverySource(t *testing.T) {
	t.Setenv("INGESTION_SCOPE_TYPE", "organization")
	t.Setenv("INGESTION_SCOPE_ID", "123")
	t.Setenv("ASSET_TYPES", "")

	db := docstore.NewMemory()
	source := &fakeSource{
		assets: []gcp.Asset{
			{Name: policyName, AssetType: "orgpolicy.googleapis.com/Policy", DisplayName: "Disable key creation", Organization: "organizations/123"},
			{Name: "//compute.googleapis.com/projects/p/global/firewalls/allow-ssh", AssetType: "compute.googleapis.com/Firewall"},
		},
		modules: []gcp.CustomModule{{Name: "organizations/123/locations/global/effectiveSecurityHealthAnalyticsCustomModules/77", DisplayName: "public_ip", EnablementState: "ENABLED"}},
	}

	report, err := New(batchtest.Env(docstore.StaticOpener{"": db}), source).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ExitCode())
	assert.Equal(t, []string{"organizations/123", "organizations/123"}, source.scopes)
	assert.Len(t, source.types, 6)

	docs := db.Snapshot("controls")
	require.Len(t, docs, 2+1+len(builtinDetectors))

	policy := docs["orgpolicy.googleapis.com_organizations_123_policies_iam.disableServiceAccountKeyCreation"]
	require.NotNil(t, policy)
	assert.Equal(t, "organization_policy", policy["type"])
	assert.Equal(t, "Organization Policy: Disable key creation", policy["description"])
	assert.Equal(t, "organizations/123", policy["scope"])

	firewall := docs["compute.googleapis.com_projects_p_global_firewalls_allow-ssh"]
	require.NotNil(t, firewall)
	assert.Equal(t, "allow-ssh", firewall["title"])
	assert.Equal(t, "Network", firewall["category"])

	module := docs["organizations_123_locations_global_effectiveSecurityHealthAnalyticsCustomModules_77"]
	require.NotNil(t, module)
	assert.Equal(t, "sha_custom_module", module["type"])
	assert.Equal(t, "ENABLED", module["enablement_state"])

	assert.Equal(t, "sha_detector", docs["OPEN_FIREWALL"]["type"])
}

func TestFailingSourceDoesNotStopOthers(t *testing.T) {
	t.Setenv("INGESTION_SCOPE_TYPE", "folders")
	t.Setenv("INGESTION_SCOPE_ID", "456")
	t.Setenv("ASSET_TYPES", "compute.googleapis.com/Firewall")

	ctx := context.Background()
	db := docstore.NewMemory()
	const id = "compute.googleapis.com_projects_p_global_firewalls_allow-ssh"
	require.NoError(t, db.Set(ctx, "controls", id, map[string]any{"owner": "netsec"}, false))

	source := &fakeSource{
		assets:     []gcp.Asset{{Name: "//compute.googleapis.com/projects/p/global/firewalls/allow-ssh", AssetType: "compute.googleapis.com/Firewall"}},
		modulesErr: pipeline.RemoteError("list custom modules", 5, errors.New("API not enabled")),
	}
	report, err := New(batchtest.Env(docstore.StaticOpener{"": db}), source).Run(ctx)
	require.NoError(t, err)

	snap := report.Stats.Snapshot()
	assert.EqualValues(t, 2, snap.ScopesSucceeded)
	assert.Equal(t, []string{SourceCustomModules}, snap.FailedScopes)
	assert.Equal(t, 0, report.ExitCode())
	assert.Equal(t, []string{"compute.googleapis.com/Firewall"}, source.types)

	doc := db.Snapshot("controls")[id]
	assert.Equal(t, "netsec", doc["owner"], "upsert keeps fields it does not write")
	assert.Equal(t, "folders/456", doc["scope"])
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("INGESTION_SCOPE_TYPE", "project")
	t.Setenv("INGESTION_SCOPE_ID", "1")
	_, err := LoadConfig(batchtest.Env(nil).Config)
	assert.True(t, pipeline.IsConfigurationError(err))

	t.Setenv("INGESTION_SCOPE_TYPE", "organization")
	t.Setenv("INGESTION_SCOPE_ID", "")
	_, err = LoadConfig(batchtest.Env(nil).Config)
	assert.True(t, pipeline.IsConfigurationError(err))

	t.Setenv("INGESTION_SCOPE_ID", "123")
	cfg, err := LoadConfig(batchtest.Env(nil).Config)
	require.NoError(t, err)
	assert.Equal(t, "organizations/123", cfg.Parent())
	assert.Equal(t, "(default)", cfg.Database)
}
