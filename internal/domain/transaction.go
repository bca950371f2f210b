package domain

import "time"

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// BuyEntry is the durable record of an inbound purchase attempt (currency
// or VIP). Entries are updated in place by transaction id, never deleted.
type BuyEntry struct {
	TransactionID string     `json:"transaction_id"`
	PlayerID      string     `json:"player_id"`
	PaymentHash   string     `json:"payment_hash,omitempty"`
	Status        Status     `json:"status"`
	AmountSats    int64      `json:"amount_sats"`
	Units         int64      `json:"units"`
	VIP           bool       `json:"vip"`
	CurrencyGiven bool       `json:"currency_given"`
	VIPGranted    bool       `json:"vip_granted"`
	RetryCount    int        `json:"retry_count"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// SellEntry is the durable record of an outbound send attempt.
// CurrencyReturned tracks whether escrowed units went back to the player.
type SellEntry struct {
	TransactionID    string     `json:"transaction_id"`
	PlayerID         string     `json:"player_id"`
	LightningAddress string     `json:"lightning_address"`
	PaymentHash      string     `json:"payment_hash,omitempty"`
	Status           Status     `json:"status"`
	AmountSats       int64      `json:"amount_sats"`
	Units            int64      `json:"units"`
	CurrencyReturned bool       `json:"currency_returned"`
	RetryCount       int        `json:"retry_count"`
	Reason           string     `json:"reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
