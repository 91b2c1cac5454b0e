// Package errdefs defines the typed failure values shared by the
// verification and settlement paths. Every error carries an optional
// wrapped cause and is returned as a value; nothing here is ever used
// to terminate the process.
package errdefs

import (
	"fmt"
	"math/big"
)

// base is embedded by every typed error in this package.
type base struct {
	msg   string
	cause error
}

func (e *base) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *base) Unwrap() error { return e.cause }

// ── Verification errors ──────────────────────────────────────────────────────

// InvalidPayloadError reports a missing or malformed payload field.
type InvalidPayloadError struct {
	base
	Field string
}

func NewInvalidPayload(field, msg string) *InvalidPayloadError {
	return &InvalidPayloadError{base: base{msg: msg}, Field: field}
}

func NewInvalidPayloadCause(field, msg string, cause error) *InvalidPayloadError {
	return &InvalidPayloadError{base: base{msg: msg, cause: cause}, Field: field}
}

// InvalidSignatureError reports a signature that does not recover to the
// declared payer, or one the contract rejected. Shared by verification
// and settlement.
type InvalidSignatureError struct {
	base
}

func NewInvalidSignature(msg string, cause error) *InvalidSignatureError {
	return &InvalidSignatureError{base: base{msg: msg, cause: cause}}
}

// PaymentExpiredError reports validBefore (plus any grace period) in the past.
type PaymentExpiredError struct {
	base
	ValidBefore int64
}

func NewPaymentExpired(validBefore int64) *PaymentExpiredError {
	return &PaymentExpiredError{
		base:        base{msg: fmt.Sprintf("payment expired: validBefore %d is in the past", validBefore)},
		ValidBefore: validBefore,
	}
}

// PaymentNotYetValidError reports validAfter in the future.
type PaymentNotYetValidError struct {
	base
	ValidAfter int64
}

func NewPaymentNotYetValid(validAfter int64) *PaymentNotYetValidError {
	return &PaymentNotYetValidError{
		base:       base{msg: fmt.Sprintf("payment not yet valid: validAfter %d is in the future", validAfter)},
		ValidAfter: validAfter,
	}
}

// NonceUsedError reports a replayed nonce caught during verification.
type NonceUsedError struct {
	base
	Nonce string
}

func NewNonceUsed(nonce string) *NonceUsedError {
	return &NonceUsedError{
		base:  base{msg: fmt.Sprintf("nonce already used: %s", nonce)},
		Nonce: nonce,
	}
}

// InsufficientBalanceError carries both the required and the actual balance.
type InsufficientBalanceError struct {
	base
	Required *big.Int
	Actual   *big.Int
}

func NewInsufficientBalance(required, actual *big.Int) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		base:     base{msg: fmt.Sprintf("insufficient balance: required %s, have %s", required, actual)},
		Required: required,
		Actual:   actual,
	}
}

// UnsupportedNetworkError reports a chain this facilitator cannot query.
type UnsupportedNetworkError struct {
	base
	ChainID int64
}

func NewUnsupportedNetwork(chainID int64) *UnsupportedNetworkError {
	return &UnsupportedNetworkError{
		base:    base{msg: fmt.Sprintf("unsupported network: chain id %d", chainID)},
		ChainID: chainID,
	}
}

// ── Settlement errors ────────────────────────────────────────────────────────

// InvalidPaymentError reports a payment that cannot be settled as given
// (malformed amount, bad signature parts, missing fields).
type InvalidPaymentError struct {
	base
}

func NewInvalidPayment(msg string, cause error) *InvalidPaymentError {
	return &InvalidPaymentError{base: base{msg: msg, cause: cause}}
}

// NetworkNotFoundError reports a chain id with no configured network.
type NetworkNotFoundError struct {
	base
	ChainID int64
}

func NewNetworkNotFound(chainID int64) *NetworkNotFoundError {
	return &NetworkNotFoundError{
		base:    base{msg: fmt.Sprintf("network not found for chain id %d", chainID)},
		ChainID: chainID,
	}
}

// AuthorizationExpiredError reports an authorization whose window closed
// before settlement could run.
type AuthorizationExpiredError struct {
	base
}

func NewAuthorizationExpired(msg string, cause error) *AuthorizationExpiredError {
	return &AuthorizationExpiredError{base: base{msg: msg, cause: cause}}
}

// NonceAlreadyUsedError reports a nonce the contract has already consumed.
type NonceAlreadyUsedError struct {
	base
	Nonce string
}

func NewNonceAlreadyUsed(msg string, cause error) *NonceAlreadyUsedError {
	return &NonceAlreadyUsedError{base: base{msg: msg, cause: cause}}
}

// ContractExecutionError is the fallback settlement failure. RevertReason
// is set when one could be extracted from the node error.
type ContractExecutionError struct {
	base
	RevertReason string
}

func NewContractExecution(reason string, cause error) *ContractExecutionError {
	msg := "contract execution failed"
	if reason != "" {
		msg = "contract execution reverted: " + reason
	}
	return &ContractExecutionError{base: base{msg: msg, cause: cause}, RevertReason: reason}
}
