// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Inventory errors
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrProductNotFound       = errors.New("product not found")
	ErrBatchNotFound         = errors.New("batch not found")
	ErrBatchAlreadySpoiled   = errors.New("batch already written off")
	ErrReservationNotFound   = errors.New("reservation not found")

	// Ledger errors
	ErrEntryNotFound             = errors.New("ledger entry not found")
	ErrEntryAlreadyVoided        = errors.New("ledger entry already voided")
	ErrLedgerReplayInconsistency = errors.New("ledger replay inconsistency: stored checksum does not match recomputed checksum")

	// Commission network errors
	ErrResellerNotFound = errors.New("reseller not found")
	ErrResellerExists   = errors.New("reseller already enrolled")
	ErrNetworkCycle     = errors.New("enrollment would create a cycle in the reseller network")

	// Checkout errors
	ErrEmptyCart = errors.New("checkout requires at least one cart line")

	// HTTP-layer errors
	ErrDuplicateRequest = errors.New("duplicate request")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
