package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/health"
)

func main() {
	batch.Main(health.Name, health.Module)
}
