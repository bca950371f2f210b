// Package gateway defines the payment-gateway contract the market core
// depends on. The gateway is an unreliable network dependency: non-2xx
// responses and malformed payloads are reported as errors, never as
// success.
package gateway

import "context"

// Invoice is a freshly created inbound invoice.
type Invoice struct {
	PaymentHash    string
	PaymentRequest string
}

// Update is a push notification about a tracked payment.
type Update struct {
	Settled bool
}

type Client interface {
	// CreateInvoice asks the gateway for a new inbound invoice.
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error)

	// Pay initiates an outbound payment of a bolt11 payment request and
	// returns the gateway-assigned payment hash.
	Pay(ctx context.Context, bolt11 string, amountSats int64) (string, error)

	// CheckStatus reports whether the payment has settled.
	CheckStatus(ctx context.Context, paymentHash string) (bool, error)

	// ResolveAddress turns a human-readable lightning address into a
	// payable bolt11 request for the given amount.
	ResolveAddress(ctx context.Context, address string, amountSats int64) (string, error)

	// Cancel withdraws an unpaid invoice. Best effort.
	Cancel(ctx context.Context, paymentHash string) error

	// Track opens a push subscription for payment updates. The returned
	// channels are closed when the subscription ends; cancel the context
	// to tear it down.
	Track(ctx context.Context, paymentHash string) (<-chan Update, <-chan error)
}
