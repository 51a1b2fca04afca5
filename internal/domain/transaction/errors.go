package transaction

import "errors"

var (
	ErrNotFound         = errors.New("transaction not found")
	ErrBelowMinimum     = errors.New("amount below provider minimum")
	ErrQueueUnavailable = errors.New("queue backend unreachable")
	ErrRailUnavailable  = errors.New("lightning rail unreachable")
)
