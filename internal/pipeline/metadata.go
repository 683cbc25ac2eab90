package pipeline

import (
	"context"
	"time"

	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/retry"
)

// RunMetadata is the small per-job document recording the last run.
type RunMetadata struct {
	Collection  string
	DocumentID  string
	Target      string
	Environment string
	Stats       StatsSnapshot
	Extra       map[string]any
}

// WriteRunMetadata overwrites the metadata document of a job.
func WriteRunMetadata(ctx context.Context, store docstore.Store, policy retry.Policy, md RunMetadata, now time.Time) error {
	data := map[string]any{
		"collection_name": md.Target,
		"document_count":  md.Stats.RecordsCommitted,
		"last_updated":    now,
		"environment":     md.Environment,
		"run":             md.Stats.Map(),
	}
	for k, v := range md.Extra {
		data[k] = v
	}
	docID := md.DocumentID
	if docID == "" {
		docID = "latest"
	}
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		return store.Set(ctx, md.Collection, docID, data, false)
	})
	if err != nil {
		return RemoteError("write run metadata", attempts, err)
	}
	return nil
}
