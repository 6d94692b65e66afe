// Package apperr defines the coded errors returned by the API. Each code maps
// to one HTTP status; Data carries the structured payload the client renders
// into a localized message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeFeatureOff   Code = "FEATURE_DISABLED"

	CodeWalletNotFound            Code = "WALLET_NOT_FOUND"
	CodeWalletHasDependents       Code = "WALLET_HAS_DEPENDENT_BOTS"
	CodeWalletDuplicate           Code = "WALLET_DUPLICATE"
	CodeWalletInvalidKey          Code = "WALLET_INVALID_PRIVATE_KEY"
	CodeWalletNotActive           Code = "WALLET_NOT_ACTIVE"
	CodeWalletInsufficientBalance Code = "WALLET_INSUFFICIENT_BALANCE"
	CodeWalletWithdrawFailed      Code = "WALLET_WITHDRAW_FAILED"
	CodeWalletActivationFailed    Code = "WALLET_ACTIVATION_FAILED"
	CodeInvalidAddress            Code = "INVALID_ADDRESS"
	CodeBalanceUnavailable        Code = "BALANCE_UNAVAILABLE"
	CodeWalletKeyUnavailable      Code = "WALLET_KEY_UNAVAILABLE"

	CodeStrategyNotFound      Code = "STRATEGY_NOT_FOUND"
	CodeStrategyHasDependents Code = "STRATEGY_HAS_DEPENDENT_BOTS"
	CodeStrategyDuplicate     Code = "STRATEGY_DUPLICATE"
	CodeStrategyInvalid       Code = "STRATEGY_INVALID"

	CodeBotNotFound              Code = "BOT_NOT_FOUND"
	CodeBotDuplicate             Code = "BOT_DUPLICATE"
	CodeBotIntervalMismatch      Code = "BOT_INTERVAL_MISMATCH"
	CodeBotEnabledCannotDelete   Code = "BOT_ENABLED_CANNOT_DELETE"
	CodeBotOperationInProgress   Code = "BOT_OPERATION_IN_PROGRESS"
	CodeBotWalletDeploying       Code = "BOT_WALLET_DEPLOYING"
	CodeBotWalletInsufficientBal Code = "BOT_WALLET_INSUFFICIENT_BALANCE"

	CodeSubscriptionWalletLimit    Code = "SUBSCRIPTION_WALLET_LIMIT_EXCEEDED"
	CodeSubscriptionStrategyLimit  Code = "SUBSCRIPTION_STRATEGY_LIMIT_EXCEEDED"
	CodeSubscriptionBotLimit       Code = "SUBSCRIPTION_BOT_LIMIT_EXCEEDED"
	CodeSubscriptionAmountExceeded Code = "SUBSCRIPTION_STRATEGY_AMOUNT_EXCEEDED"
	CodeSubscriptionDowngrade      Code = "SUBSCRIPTION_DOWNGRADE_NOT_ALLOWED"
	CodeSubscriptionPlanInvalid    Code = "SUBSCRIPTION_PLAN_INVALID"
	CodePaymentNotFound            Code = "PAYMENT_NOT_FOUND"
	CodePaymentProvider            Code = "PAYMENT_PROVIDER_ERROR"

	CodeKeyEncryptFailed  Code = "KEY_ENCRYPT_FAILED"
	CodeKeyDecryptFailed  Code = "KEY_DECRYPT_FAILED"
	CodeKeySessionExpired Code = "KEY_SESSION_EXPIRED"
)

var statusByCode = map[Code]int{
	CodeValidation:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeInternal:     http.StatusInternalServerError,
	CodeFeatureOff:   http.StatusServiceUnavailable,

	CodeWalletNotFound:            http.StatusNotFound,
	CodeWalletHasDependents:       http.StatusConflict,
	CodeWalletDuplicate:           http.StatusConflict,
	CodeWalletInvalidKey:          http.StatusBadRequest,
	CodeWalletNotActive:           http.StatusConflict,
	CodeWalletInsufficientBalance: http.StatusUnprocessableEntity,
	CodeWalletWithdrawFailed:      http.StatusBadGateway,
	CodeWalletActivationFailed:    http.StatusBadGateway,
	CodeInvalidAddress:            http.StatusBadRequest,
	CodeBalanceUnavailable:        http.StatusBadGateway,
	CodeWalletKeyUnavailable:      http.StatusInternalServerError,

	CodeStrategyNotFound:      http.StatusNotFound,
	CodeStrategyHasDependents: http.StatusConflict,
	CodeStrategyDuplicate:     http.StatusConflict,
	CodeStrategyInvalid:       http.StatusBadRequest,

	CodeBotNotFound:              http.StatusNotFound,
	CodeBotDuplicate:             http.StatusConflict,
	CodeBotIntervalMismatch:      http.StatusBadRequest,
	CodeBotEnabledCannotDelete:   http.StatusConflict,
	CodeBotOperationInProgress:   http.StatusConflict,
	CodeBotWalletDeploying:       http.StatusConflict,
	CodeBotWalletInsufficientBal: http.StatusUnprocessableEntity,

	CodeSubscriptionWalletLimit:    http.StatusForbidden,
	CodeSubscriptionStrategyLimit:  http.StatusForbidden,
	CodeSubscriptionBotLimit:       http.StatusForbidden,
	CodeSubscriptionAmountExceeded: http.StatusForbidden,
	CodeSubscriptionDowngrade:      http.StatusConflict,
	CodeSubscriptionPlanInvalid:    http.StatusBadRequest,
	CodePaymentNotFound:            http.StatusNotFound,
	CodePaymentProvider:            http.StatusBadGateway,

	CodeKeyEncryptFailed:  http.StatusBadRequest,
	CodeKeyDecryptFailed:  http.StatusBadRequest,
	CodeKeySessionExpired: http.StatusBadRequest,
}

// Status returns the HTTP status for a code, 500 for unknown codes.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type Error struct {
	Code    Code
	Message string
	Data    any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Status() int { return e.Code.Status() }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithData(code Code, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// Wrap keeps the underlying cause for logs; it is never sent to the client.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// From converts any error into a coded one. Unknown errors become
// INTERNAL_ERROR and keep the original as cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "internal error", err)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// QuotaData is the payload of every SUBSCRIPTION_*_LIMIT_EXCEEDED error.
type QuotaData struct {
	Current int64  `json:"current"`
	Limit   int64  `json:"limit"`
	Plan    string `json:"plan"`
}
