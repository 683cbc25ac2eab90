package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/anomalies"
)

func main() {
	batch.Main(anomalies.Name, anomalies.Module)
}
