package credit

import "errors"

var (
	// ErrBelowMinimum is a business rejection, never retried
	ErrBelowMinimum = errors.New("credit amount below minimum sats threshold")
	// ErrDuplicateReceipt means this receipt already funded a settlement
	ErrDuplicateReceipt = errors.New("receipt number already credited")
	// ErrRailSettlement means the fiat leg is confirmed but the
	// Lightning send failed; the transaction must stay recoverable
	ErrRailSettlement = errors.New("lightning settlement failed after fiat confirmation")
)
