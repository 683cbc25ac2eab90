package gcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecuritySearchAssetsPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/organizations/123:searchAllResources", r.URL.Path)
		assert.Equal(t, []string{"orgpolicy.googleapis.com/Policy", "compute.googleapis.com/Firewall"}, r.URL.Query()["assetTypes"])
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = w.Write([]byte(`{"results":[{"name":"//orgpolicy.googleapis.com/organizations/123/policies/iam.disableServiceAccountKeyCreation","assetType":"orgpolicy.googleapis.com/Policy"}],"nextPageToken":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"results":[{"name":"//compute.googleapis.com/projects/p/global/firewalls/allow-ssh","assetType":"compute.googleapis.com/Firewall","folders":["folders/9"]}]}`))
		}
	}))
	defer srv.Close()

	client := NewSecurityWithClient(srv.Client(), srv.URL, srv.URL, testPolicy())
	var assets []Asset
	for a, err := range client.SearchAssets(context.Background(), "organizations/123", []string{"orgpolicy.googleapis.com/Policy", "compute.googleapis.com/Firewall"}) {
		require.NoError(t, err)
		assets = append(assets, a)
	}
	require.Len(t, assets, 2)
	assert.Equal(t, []string{"folders/9"}, assets[1].Folders)
}

func TestSecurityCustomModules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/folders/456/locations/global/effectiveSecurityHealthAnalyticsCustomModules", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"effectiveSecurityHealthAnalyticsCustomModules":[{"name":"folders/456/locations/global/effectiveSecurityHealthAnalyticsCustomModules/77","displayName":"public_ip","enablementState":"ENABLED","customConfig":{"severity":"HIGH","recommendation":"Remove the address","predicate":{"expression":"resource.networkInterfaces.size() > 0"}}}]}`))
	}))
	defer srv.Close()

	client := NewSecurityWithClient(srv.Client(), srv.URL, srv.URL, testPolicy())
	var modules []CustomModule
	for m, err := range client.CustomModules(context.Background(), "folders/456") {
		require.NoError(t, err)
		modules = append(modules, m)
	}
	require.Len(t, modules, 1)
	require.NotNil(t, modules[0].CustomConfig)
	assert.Equal(t, "HIGH", modules[0].CustomConfig.Severity)
	assert.Equal(t, "resource.networkInterfaces.size() > 0", modules[0].CustomConfig.Predicate.Expression)
}
