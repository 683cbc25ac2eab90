package runledger

import "errors"

var ErrDisabled = errors.New("run ledger is disabled (LEDGER_DSN is empty)")
