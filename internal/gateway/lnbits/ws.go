package lnbits

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/saulteafarmer/orangemart/internal/gateway"
)

// LNbits pushes payment updates over a per-payment websocket. Two payload
// shapes exist in the wild: a flat status object and a wrapper carrying a
// full payment object.
type pushSimple struct {
	Pending     *bool  `json:"pending"`
	Paid        *bool  `json:"paid"`
	Preimage    string `json:"preimage"`
	PaymentHash string `json:"payment_hash"`
}

type pushPayment struct {
	Payment *struct {
		Pending     *bool  `json:"pending"`
		Status      string `json:"status"`
		PaymentHash string `json:"payment_hash"`
		Preimage    string `json:"preimage"`
	} `json:"payment"`
}

// pushConfirms decodes a websocket frame, trying the simple shape first,
// then the wrapped payment shape. A frame confirms settlement only when it
// reports the invoice as no longer pending and carries a settlement proof
// or a matching payment hash.
func pushConfirms(data []byte, paymentHash string) bool {
	var simple pushSimple
	if err := json.Unmarshal(data, &simple); err == nil && (simple.Pending != nil || simple.Paid != nil) {
		settled := false
		if simple.Pending != nil {
			settled = !*simple.Pending
		}
		if simple.Paid != nil {
			settled = settled || *simple.Paid
		}
		if !settled {
			return false
		}
		return simple.Preimage != "" || strings.EqualFold(simple.PaymentHash, paymentHash)
	}

	var wrapped pushPayment
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Payment != nil {
		p := wrapped.Payment
		pending := p.Status == "pending"
		if p.Pending != nil {
			pending = *p.Pending
		}
		if pending {
			return false
		}
		if p.Preimage != "" {
			return true
		}
		return strings.EqualFold(p.PaymentHash, paymentHash)
	}

	return false
}

// Track subscribes to payment updates for one invoice. The listener only
// parses frames; acting on a confirmation is the caller's business.
func (c *Client) Track(ctx context.Context, paymentHash string) (<-chan gateway.Update, <-chan error) {
	updates := make(chan gateway.Update, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(updates)
		defer close(errs)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(paymentHash), nil)
		if err != nil {
			errs <- err
			return
		}
		defer conn.Close()

		// Unblock ReadMessage on cancellation.
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- err
				}
				return
			}
			if pushConfirms(data, paymentHash) {
				select {
				case updates <- gateway.Update{Settled: true}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return updates, errs
}

func (c *Client) wsURL(paymentHash string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/ws/" + strings.ToLower(paymentHash)
}
