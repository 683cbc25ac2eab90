package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/costs"
)

func main() {
	batch.Main(costs.Name, costs.Module)
}
