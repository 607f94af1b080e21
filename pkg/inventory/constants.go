package inventory

import "time"

const (
	operationCreateRecord = "create_record"
	operationDecrement    = "decrement"
	operationIncrement    = "increment"
	operationReserve      = "reserve"
	operationRelease      = "release"
	operationCommit       = "commit"
	operationExpire       = "expire"
	operationExpand       = "expand"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectRecord    = "record"
	errorCodeInvariant    = "invariant"

	reasonSoldOut               = "sold_out"
	reasonInsufficientInventory = "insufficient_inventory"

	generatedIncrementPrefix = "increment:"

	defaultReservationTTL    = 15 * time.Minute
	defaultLowStockThreshold = 5
	defaultSweepBatchSize    = 100
	defaultSweepInterval     = time.Second
)
