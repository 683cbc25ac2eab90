package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/recommendations"
)

func main() {
	batch.Main(recommendations.Name, recommendations.Module)
}
