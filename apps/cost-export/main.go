package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/costexport"
)

func main() {
	batch.Main(costexport.Name, costexport.Module)
}
