package main

import (
	"github.com/smallbiznis/cloudcost/internal/audit"
	"github.com/smallbiznis/cloudcost/internal/authorization"
	"github.com/smallbiznis/cloudcost/internal/notify"
	"github.com/smallbiznis/cloudcost/internal/ratelimit"
	"github.com/smallbiznis/cloudcost/internal/server"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		server.Module,
		ratelimit.Module,
		audit.Module,
		authorization.Module,
		notify.Module,
	).Run()
}
