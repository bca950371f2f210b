package market

import "context"

// Escrow debits virtual currency before an outbound payment is attempted
// and guarantees the debit is either consumed by a settled payment or
// refunded, never both and never neither. Reservations are keyed by
// transaction id; only the market run loop touches them.
type Escrow struct {
	inv  Inventory
	held map[string]reservation
}

type reservation struct {
	playerID string
	units    int64
}

func NewEscrow(inv Inventory) *Escrow {
	return &Escrow{inv: inv, held: make(map[string]reservation)}
}

// Reserve atomically takes units from the player. Returns false with no
// debit when the balance is insufficient.
func (e *Escrow) Reserve(ctx context.Context, playerID, transactionID string, units int64) (bool, error) {
	ok, err := e.inv.TakeCurrency(ctx, playerID, units)
	if err != nil || !ok {
		return false, err
	}
	e.held[transactionID] = reservation{playerID: playerID, units: units}
	return true, nil
}

// Release refunds a reservation. Idempotent: a second call for the same
// transaction finds nothing to refund. On inventory failure the
// reservation is kept so the refund stays owed rather than lost.
func (e *Escrow) Release(ctx context.Context, transactionID string) (int64, error) {
	res, ok := e.held[transactionID]
	if !ok {
		return 0, nil
	}
	if err := e.inv.ReturnCurrency(ctx, res.playerID, res.units); err != nil {
		return 0, err
	}
	delete(e.held, transactionID)
	return res.units, nil
}

// Settle consumes a reservation after the payment definitively settled.
// Idempotent.
func (e *Escrow) Settle(transactionID string) int64 {
	res, ok := e.held[transactionID]
	if !ok {
		return 0
	}
	delete(e.held, transactionID)
	return res.units
}

// HeldUnits is the total currency currently reserved and unresolved.
func (e *Escrow) HeldUnits() int64 {
	var total int64
	for _, res := range e.held {
		total += res.units
	}
	return total
}
