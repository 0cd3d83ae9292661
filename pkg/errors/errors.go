package errors

import "errors"

var (
	ErrInvalidAmount       = errors.New("payment amount outside allowed bounds")
	ErrPackageNotFound     = errors.New("package not found")
	ErrPackageInactive     = errors.New("package is not active")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrUnknownPayment      = errors.New("no payment for checkout reference")
	ErrPaymentTerminal     = errors.New("payment already in terminal state")
	ErrMalformedToken      = errors.New("malformed redemption token")
	ErrUnknownToken        = errors.New("unknown redemption token")
	ErrPackageExhausted    = errors.New("no wash credits remaining")
	ErrPackageExpired      = errors.New("package has expired")
	ErrDuplicateIssuance   = errors.New("user package already issued for payment")
	ErrUserPackageNotFound = errors.New("user package not found")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrNilPayment          = errors.New("payment is nil")
	ErrNilUserPackage      = errors.New("user package is nil")
	ErrInternal            = errors.New("internal error")
)
