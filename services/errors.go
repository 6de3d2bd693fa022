package services

import (
	"errors"
	"fmt"
	"time"
)

// Ledger error taxonomy. Callers match with errors.Is; the HTTP layer maps
// each to a status code and a stable machine-readable code.
var (
	ErrCooldownActive       = errors.New("cooldown active")
	ErrAlreadyCompleted     = errors.New("task already completed")
	ErrTaskNotFound         = errors.New("task not found")
	ErrTaskInactive         = errors.New("task inactive")
	ErrBelowMinimum         = errors.New("amount below withdrawal minimum")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrMissingWalletAddress = errors.New("wallet address required for this method")
	ErrInvalidTransition    = errors.New("withdrawal is not pending")
	ErrStorageUnavailable   = errors.New("storage unavailable")

	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountBanned      = errors.New("account banned")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrUnknownMethod      = errors.New("unknown withdrawal method")
	ErrInvalidDecision    = errors.New("decision must be approved or rejected")
	ErrInvalidIdentity    = errors.New("external id required")
	ErrInvalidInput       = errors.New("invalid input")
)

// CooldownError reports when the next claim of Kind becomes eligible.
type CooldownError struct {
	Kind   string
	NextAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s %s: next claim at %s", e.Kind, ErrCooldownActive, e.NextAt.Format(time.RFC3339))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// errorCodes gives every taxonomy error a stable code for API bodies and
// metric labels.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrCooldownActive, "COOLDOWN_ACTIVE"},
	{ErrAlreadyCompleted, "ALREADY_COMPLETED"},
	{ErrTaskNotFound, "TASK_NOT_FOUND"},
	{ErrTaskInactive, "TASK_INACTIVE"},
	{ErrBelowMinimum, "BELOW_MINIMUM"},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrMissingWalletAddress, "MISSING_WALLET_ADDRESS"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrStorageUnavailable, "STORAGE_UNAVAILABLE"},
	{ErrAccountNotFound, "ACCOUNT_NOT_FOUND"},
	{ErrAccountBanned, "ACCOUNT_BANNED"},
	{ErrWithdrawalNotFound, "WITHDRAWAL_NOT_FOUND"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrUnknownMethod, "UNKNOWN_METHOD"},
	{ErrInvalidDecision, "INVALID_DECISION"},
	{ErrInvalidIdentity, "INVALID_IDENTITY"},
	{ErrInvalidInput, "INVALID_INPUT"},
}

// ErrorCode returns the stable code for err, "OK" for nil and "INTERNAL"
// for errors outside the taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return "OK"
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL"
}

// storageErr wraps a persistence failure so callers see ErrStorageUnavailable
// while logs keep the driver error.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

// passThrough returns taxonomy errors unchanged and wraps anything else as a
// storage failure. Used on errors coming out of DB.Transaction.
func passThrough(op string, err error) error {
	if err == nil {
		return nil
	}
	if ErrorCode(err) != "INTERNAL" {
		return err
	}
	return storageErr(op, err)
}
