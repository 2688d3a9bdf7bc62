package ledger

import (
	"errors"
	"fmt"
)

// Code is the error code surfaced verbatim to callers
type Code string

const (
	CodeNotOwner              Code = "NotOwner"
	CodeInvalidAmount         Code = "InvalidAmount"
	CodeProducerNotFound      Code = "ProducerNotFound"
	CodeInsufficientEnergy    Code = "InsufficientEnergy"
	CodeInvalidRating         Code = "InvalidRating"
	CodeNoPurchaseHistory     Code = "NoPurchaseHistory"
	CodeRefundExceedsPurchase Code = "RefundExceedsPurchase"
	CodeConsumerNotFound      Code = "ConsumerNotFound"
	CodeProducerPaused        Code = "ProducerPaused"
	CodeArithmeticOverflow    Code = "ArithmeticOverflow"
	CodeArithmeticUnderflow   Code = "ArithmeticUnderflow"
	CodeUnknownOperation      Code = "UnknownOperation"
	CodeInternal              Code = "Internal"
)

// Sentinel errors, use with errors.Is
var (
	ErrNotOwner              = errors.New("ledger: caller is not the administrator")
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
	ErrProducerNotFound      = errors.New("ledger: producer not found")
	ErrInsufficientEnergy    = errors.New("ledger: insufficient energy")
	ErrInvalidRating         = errors.New("ledger: rating must be between 1 and 5")
	ErrNoPurchaseHistory     = errors.New("ledger: no purchase history with producer")
	ErrRefundExceedsPurchase = errors.New("ledger: refund exceeds purchase")
	ErrConsumerNotFound      = errors.New("ledger: consumer not found")
	ErrProducerPaused        = errors.New("ledger: producer is paused")
	ErrArithmeticOverflow    = errors.New("ledger: arithmetic overflow")
	ErrArithmeticUnderflow   = errors.New("ledger: arithmetic underflow")
	ErrUnknownOperation      = errors.New("ledger: unknown operation")
)

var sentinels = map[Code]error{
	CodeNotOwner:              ErrNotOwner,
	CodeInvalidAmount:         ErrInvalidAmount,
	CodeProducerNotFound:      ErrProducerNotFound,
	CodeInsufficientEnergy:    ErrInsufficientEnergy,
	CodeInvalidRating:         ErrInvalidRating,
	CodeNoPurchaseHistory:     ErrNoPurchaseHistory,
	CodeRefundExceedsPurchase: ErrRefundExceedsPurchase,
	CodeConsumerNotFound:      ErrConsumerNotFound,
	CodeProducerPaused:        ErrProducerPaused,
	CodeArithmeticOverflow:    ErrArithmeticOverflow,
	CodeArithmeticUnderflow:   ErrArithmeticUnderflow,
	CodeUnknownOperation:      ErrUnknownOperation,
}

// Error is a rejected operation. It unwraps to the sentinel for its code.
type Error struct {
	Code   Code
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return sentinels[e.Code]
}

func reject(op string, code Code, format string, args ...any) error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ledger code from err. Errors outside the taxonomy
// report CodeInternal; a nil error reports the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	for code, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// IsRejection reports whether err is a business rule rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	code := CodeOf(err)
	return code != "" && code != CodeInternal
}

// IsNotFound reports whether err refers to a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProducerNotFound) || errors.Is(err, ErrConsumerNotFound)
}
