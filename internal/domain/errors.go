package domain

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAmountTooLarge      = errors.New("amount exceeds the configured ceiling")
	ErrAmountOverflow      = errors.New("amount does not fit the payment unit range")
	ErrCooldown            = errors.New("command used too recently")
	ErrTooManyPending      = errors.New("too many unpaid invoices")
	ErrInsufficientFunds   = errors.New("insufficient currency balance")
	ErrAddressNotAllowed   = errors.New("lightning address domain not allowed")
	ErrInvalidAddress      = errors.New("invalid lightning address")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrShuttingDown        = errors.New("service is shutting down")
)
