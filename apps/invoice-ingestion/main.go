package main

import (
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs/invoices"
)

func main() {
	batch.Main(invoices.Name, invoices.Module)
}
