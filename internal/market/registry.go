package market

import (
	"strings"

	"github.com/saulteafarmer/orangemart/internal/domain"
)

// Registry is the authoritative in-memory set of invoices awaiting
// settlement, keyed by lower-cased payment hash. An invoice is present iff
// its terminal outcome is not yet known. All mutation happens on the
// market run loop; the registry itself carries no locking.
type Registry struct {
	open map[string]*domain.Invoice
}

func NewRegistry() *Registry {
	return &Registry{open: make(map[string]*domain.Invoice)}
}

func (r *Registry) Add(inv *domain.Invoice) {
	r.open[key(inv.PaymentHash)] = inv
}

// Remove drops the invoice and reports whether it was present. Removing
// an absent invoice is a no-op, which is what makes double confirmation
// and double expiry harmless.
func (r *Registry) Remove(inv *domain.Invoice) bool {
	k := key(inv.PaymentHash)
	if _, ok := r.open[k]; !ok {
		return false
	}
	delete(r.open, k)
	return true
}

func (r *Registry) FindByPaymentHash(paymentHash string) *domain.Invoice {
	return r.open[key(paymentHash)]
}

func (r *Registry) CountForPlayer(playerID string) int {
	n := 0
	for _, inv := range r.open {
		if inv.Participant.ID == playerID {
			n++
		}
	}
	return n
}

// Snapshot copies the open set so sweeps can iterate without holding the
// registry across mutations.
func (r *Registry) Snapshot() []*domain.Invoice {
	out := make([]*domain.Invoice, 0, len(r.open))
	for _, inv := range r.open {
		out = append(out, inv)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.open)
}

func key(paymentHash string) string {
	return strings.ToLower(paymentHash)
}
