package market

import (
	"math"
	"strings"
	"time"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/domain"
)

// Guard applies the pre-flight checks every request must pass before any
// ledger entry, escrow debit or gateway call happens. Check order is
// fixed: amount and overflow, then cooldown, then the pending cap; the
// cooldown timestamp is recorded only once everything passed, so a cap
// rejection never arms the cooldown.
type Guard struct {
	cfg     *config.Config
	lastUse map[cooldownKey]time.Time
	now     func() time.Time
}

type cooldownKey struct {
	playerID string
	kind     domain.InvoiceKind
}

func NewGuard(cfg *config.Config) *Guard {
	return &Guard{
		cfg:     cfg,
		lastUse: make(map[cooldownKey]time.Time),
		now:     time.Now,
	}
}

// CheckAmount validates the unit count and returns the sats total. The
// multiplication is overflow-checked at the boundary.
func (g *Guard) CheckAmount(units, satsPerUnit int64) (int64, error) {
	if units <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if units > g.cfg.MaxUnitsPerOrder {
		return 0, domain.ErrAmountTooLarge
	}
	if units > math.MaxInt64/satsPerUnit {
		return 0, domain.ErrAmountOverflow
	}
	return units * satsPerUnit, nil
}

// CheckCooldown rejects a command issued before the per-player,
// per-command cooldown elapsed. Advisory only, never persisted.
func (g *Guard) CheckCooldown(playerID string, kind domain.InvoiceKind) error {
	if g.cfg.CommandCooldown <= 0 {
		return nil
	}
	last, ok := g.lastUse[cooldownKey{playerID, kind}]
	if ok && g.now().Sub(last) < g.cfg.CommandCooldown {
		return domain.ErrCooldown
	}
	return nil
}

// MarkUsed records a successful pass-through, last call wins, and prunes
// stale bookkeeping.
func (g *Guard) MarkUsed(playerID string, kind domain.InvoiceKind) {
	now := g.now()
	g.lastUse[cooldownKey{playerID, kind}] = now
	for k, t := range g.lastUse {
		if now.Sub(t) > config.CooldownRetention {
			delete(g.lastUse, k)
		}
	}
}

// CheckAddress validates a lightning address against the configured
// domain policy and returns its domain part.
func (g *Guard) CheckAddress(address string) (string, error) {
	user, dom, ok := strings.Cut(address, "@")
	if !ok || user == "" || dom == "" {
		return "", domain.ErrInvalidAddress
	}
	dom = strings.ToLower(dom)
	if !g.cfg.DomainAllowed(dom) {
		return dom, domain.ErrAddressNotAllowed
	}
	return dom, nil
}
