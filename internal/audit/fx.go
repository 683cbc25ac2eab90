package audit

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cloudcost/internal/audit/service"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"go.uber.org/fx"
)

// Module stores audit events in EVENTS_COLLECTION of FIRESTORE_DATABASE.
var Module = fx.Module("audit.service",
	fx.Provide(
		fx.Annotate(openStore, fx.ResultTags(`name:"audit"`)),
		fx.Annotate(collection, fx.ResultTags(`name:"audit_collection"`)),
		newNode,
		service.NewService,
	),
)

func openStore(cfg config.Config, stores docstore.Opener) (docstore.Store, error) {
	return stores.Open(context.Background(), cfg.FirestoreDatabase)
}

func collection() string {
	return config.Getenv("EVENTS_COLLECTION", "notification-events")
}

// newNode seeds event ids from SNOWFLAKE_NODE so replicas never collide.
func newNode() (*snowflake.Node, error) {
	return snowflake.NewNode(int64(config.GetenvInt("SNOWFLAKE_NODE", 1)))
}
