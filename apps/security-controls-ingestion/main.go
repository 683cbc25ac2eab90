package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/securitycontrols"
)

func main() {
	batch.Main(securitycontrols.Name, securitycontrols.Module)
}
