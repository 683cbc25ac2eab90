package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/costreports"
)

func main() {
	batch.Main(costreports.Name, costreports.Module)
}
