package recommendations

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultTypes are the cost related recommenders walked when
// RECOMMENDER_TYPES is not set.
var DefaultTypes = []string{
	"google.compute.instance.MachineTypeRecommender",
	"google.compute.disk.IdleResourceRecommender",
	"google.compute.instance.IdleResourceRecommender",
	"google.compute.address.IdleResourceRecommender",
	"google.compute.image.IdleResourceRecommender",
	"google.compute.commitment.UsageCommitmentRecommender",
	"google.compute.instanceGroupManager.MachineTypeRecommender",
	"google.cloudsql.instance.IdleRecommender",
	"google.cloudsql.instance.OverprovisionedRecommender",
	"google.cloudsql.instance.OutOfDiskRecommender",
	"google.logging.productSuggestion.ContainerRecommender",
	"google.bigquery.capacityCommitments.Recommender",
	"google.bigquery.table.PartitionClusterRecommender",
	"google.storage.bucket.LifecycleRecommender",
	"google.container.DiagnosisRecommender",
	"google.monitoring.productSuggestion.ComputeRecommender",
	"google.appengine.applicationIdleRecommender",
	"google.run.service.CostRecommender",
	"google.run.service.IdentityRecommender",
	"google.cloudfunctions.PerformanceRecommender",
	"google.firestore.index.Recommender",
	"google.spanner.instance.IdleRecommender",
	"google.cloudsql.instance.PerformanceRecommender",
	"google.cloudsql.instance.UnderprovisionedRecommender",
	"google.resourcemanager.projectUtilization.Recommender",
	"google.cloudbilling.commitment.SpendBasedCommitmentRecommender",
	"google.iam.policy.Recommender",
	"google.clouderrorreporting.Recommender",
	"google.run.service.SecurityRecommender",
	"google.bigquery.materializedView.Recommender",
	"google.storage.bucket.SoftDeleteRecommender",
}

var DefaultLocations = []string{
	"global",
	"asia-east1", "asia-east2",
	"asia-northeast1", "asia-northeast2", "asia-northeast3",
	"asia-south1", "asia-south2",
	"asia-southeast1", "asia-southeast2",
	"australia-southeast1", "australia-southeast2",
	"europe-north1", "europe-west1", "europe-west2", "europe-west3", "europe-west4", "europe-west6",
	"me-west1",
	"northamerica-northeast1",
	"southamerica-east1",
	"us-central1", "us-east1", "us-east4", "us-west1", "us-west2",
}

// Catalog is the recommender type and location matrix walked per project.
type Catalog struct {
	Types     []string `yaml:"types"`
	Locations []string `yaml:"locations"`
}

func DefaultCatalog() Catalog {
	return Catalog{Types: slices.Clone(DefaultTypes), Locations: slices.Clone(DefaultLocations)}
}

// LoadCatalog reads a YAML catalog. Sections left empty keep their defaults.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var file Catalog
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(file.Types) > 0 {
		cat.Types = file.Types
	}
	if len(file.Locations) > 0 {
		cat.Locations = file.Locations
	}
	return cat, nil
}
