package main

import (
	"github.com/smallbiznis/cloudcost/internal/anomalyhandler"
	"github.com/smallbiznis/cloudcost/internal/server"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		server.Module,
		anomalyhandler.Module,
	).Run()
}
