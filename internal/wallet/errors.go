package wallet

import (
	"errors"
	"fmt"

	"github.com/kasware/kaswalletd/internal/types"
)

// ErrSyncInProgress is returned when a sync is requested while another one
// is still running.
var ErrSyncInProgress = errors.New("wallet sync already in progress")

// ErrNegativeChange marks a composition whose inputs cannot cover amount
// plus fee. Selection normally prevents it, the builder still guards.
var ErrNegativeChange = errors.New("transaction change is negative")

// ErrFeeEstimateNotConverged is returned when the iterative fee loop fails
// to settle, which indicates a selection that keeps growing with the fee.
var ErrFeeEstimateNotConverged = errors.New("fee estimate did not converge")

// InsufficientFundsError reports a failed UTXO selection.
type InsufficientFundsError struct {
	Requested uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s KAS, available %s KAS",
		types.FormatKAS(e.Requested), types.FormatKAS(e.Available))
}

// FeeMaxExceededError reports a computed fee above the configured cap.
type FeeMaxExceededError struct {
	Fee uint64
	Max uint64
}

func (e *FeeMaxExceededError) Error() string {
	return fmt.Sprintf("network fee %d exceeds the configured maximum %d", e.Fee, e.Max)
}

// MinimumFeeError reports a priority fee below the data fee when automatic
// fee calculation is disabled.
type MinimumFeeError struct {
	Required uint64
}

func (e *MinimumFeeError) Error() string {
	return fmt.Sprintf("minimum fee required is %d sompi", e.Required)
}

// MassLimitError reports a signed transaction heavier than the block limit.
type MassLimitError struct {
	Mass uint64
	Max  uint64
}

func (e *MassLimitError) Error() string {
	return fmt.Sprintf("transaction mass %d exceeds the block limit %d", e.Mass, e.Max)
}
