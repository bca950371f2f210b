package domain

import "time"

type InvoiceKind string

const (
	KindBuyCurrency  InvoiceKind = "buy_currency"
	KindBuyVIP       InvoiceKind = "buy_vip"
	KindSendCurrency InvoiceKind = "send_currency"
)

// Inbound reports whether the invoice is paid by the participant (buy
// flows) as opposed to an outbound payment made on their behalf.
func (k InvoiceKind) Inbound() bool {
	return k != KindSendCurrency
}

// Participant identifies the requesting player. ID is the identity shared
// with the game-server bridge; ChatID is where direct replies go.
type Participant struct {
	ID     string
	ChatID int64
	Name   string
}

// Invoice is a payment awaiting settlement. While open it lives in the
// pending registry, keyed by lower-cased payment hash, and is only touched
// from the market run loop.
type Invoice struct {
	TransactionID    string
	PaymentHash      string
	Participant      Participant
	AmountSats       int64
	Units            int64
	Kind             InvoiceKind
	Memo             string
	LightningAddress string // send flow only
	CreatedAt        time.Time
	CompletedAt      *time.Time
	RetryCount       int
	MessageID        int // channel post to edit on settlement, 0 if none
}
