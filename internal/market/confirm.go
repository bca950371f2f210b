package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/domain"
)

// subscribe opens the push channel for an inbound invoice. The listener
// goroutine never mutates state itself: it parses updates and hands the
// confirmation back to the loop.
func (s *Service) subscribe(paymentHash string) {
	ctx, cancel := context.WithCancel(s.loopCtx())
	k := key(paymentHash)
	s.subMu.Lock()
	s.subs[k] = cancel
	s.subMu.Unlock()

	updates, errs := s.gw.Track(ctx, paymentHash)
	go func() {
		defer s.unsubscribe(paymentHash)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if u.Settled {
					s.dispatch(func() { s.processConfirmation(paymentHash) })
					return
				}
			case err, ok := <-errs:
				if !ok {
					return
				}
				// The poll path still covers this invoice.
				slog.Warn("push subscription error", "payment_hash", paymentHash, "error", err)
				return
			}
		}
	}()
}

func (s *Service) unsubscribe(paymentHash string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	k := key(paymentHash)
	if cancel, ok := s.subs[k]; ok {
		cancel()
		delete(s.subs, k)
	}
}

// armExpiry schedules the wall-clock timeout. The callback dispatches to
// the loop, so it contends with the retry-count trigger there and exactly
// one of them wins.
func (s *Service) armExpiry(inv *domain.Invoice) {
	paymentHash := inv.PaymentHash
	s.timers[key(paymentHash)] = time.AfterFunc(s.cfg.InvoiceTimeout, func() {
		s.dispatch(func() {
			if cur := s.registry.FindByPaymentHash(paymentHash); cur != nil {
				s.expireInvoice(cur, "invoice timed out")
			}
		})
	})
}

func (s *Service) disarmExpiry(paymentHash string) {
	k := key(paymentHash)
	if t, ok := s.timers[k]; ok {
		t.Stop()
		delete(s.timers, k)
	}
}

// pollPending is the fallback confirmation path: every tick, ask the
// gateway about each open invoice. Status checks run off the loop; each
// result is dispatched back.
func (s *Service) pollPending() {
	snapshot := s.registry.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	ctx := s.loopCtx()
	go func() {
		for _, inv := range snapshot {
			paymentHash := inv.PaymentHash
			paid, err := s.gw.CheckStatus(ctx, paymentHash)
			if err != nil {
				slog.Warn("status check failed", "payment_hash", paymentHash, "error", err)
			}
			s.dispatch(func() { s.handleCheck(paymentHash, paid && err == nil) })
		}
	}()
}

// handleCheck absorbs one poll result. A gateway error or a not-yet-paid
// answer both count as a failed attempt toward the retry limit.
func (s *Service) handleCheck(paymentHash string, paid bool) {
	inv := s.registry.FindByPaymentHash(paymentHash)
	if inv == nil {
		return
	}
	if paid {
		s.processConfirmation(paymentHash)
		return
	}
	inv.RetryCount++
	if inv.RetryCount >= s.cfg.MaxRetries {
		s.expireInvoice(inv, "retry limit reached")
	}
}

// processConfirmation is the sole transition to the settled state. It is
// safe to call any number of times for the same payment: only the call
// that finds the invoice still registered settles it.
func (s *Service) processConfirmation(paymentHash string) {
	inv := s.registry.FindByPaymentHash(paymentHash)
	if inv == nil {
		return
	}
	s.registry.Remove(inv)
	s.disarmExpiry(paymentHash)
	s.unsubscribe(paymentHash)

	now := time.Now().UTC()
	inv.CompletedAt = &now
	ctx := s.loopCtx()

	switch inv.Kind {
	case domain.KindBuyCurrency:
		granted := true
		if err := s.inv.GrantCurrency(ctx, inv.Participant.ID, inv.Units); err != nil {
			granted = false
			slog.Error("currency grant failed after settlement", "player", inv.Participant.ID, "units", inv.Units, "error", err)
			s.board.Event(fmt.Sprintf("⚠️ paid invoice `%s` settled but granting %d %s to `%s` failed: %v",
				inv.PaymentHash, inv.Units, s.cfg.CurrencyName, inv.Participant.ID, err))
		}
		if err := s.ledger.UpdateBuy(inv.TransactionID, func(e *domain.BuyEntry) {
			e.Status = domain.StatusCompleted
			e.CompletedAt = &now
			e.RetryCount = inv.RetryCount
			e.CurrencyGiven = granted
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", inv.TransactionID, "error", err)
		}
		go s.announceSettled(inv, Msg(MsgPurchaseSuccess, inv.Units, s.cfg.CurrencyName))

	case domain.KindBuyVIP:
		granted := true
		if err := s.ent.GrantVIP(ctx, inv.Participant.ID); err != nil {
			granted = false
			slog.Error("vip grant failed after settlement", "player", inv.Participant.ID, "error", err)
			s.board.Event(fmt.Sprintf("⚠️ paid invoice `%s` settled but granting VIP to `%s` failed: %v",
				inv.PaymentHash, inv.Participant.ID, err))
		}
		if err := s.ledger.UpdateBuy(inv.TransactionID, func(e *domain.BuyEntry) {
			e.Status = domain.StatusCompleted
			e.CompletedAt = &now
			e.RetryCount = inv.RetryCount
			e.VIPGranted = granted
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", inv.TransactionID, "error", err)
		}
		go s.announceSettled(inv, Msg(MsgVIPSuccess))

	case domain.KindSendCurrency:
		s.escrow.Settle(inv.TransactionID)
		if err := s.ledger.UpdateSell(inv.TransactionID, func(e *domain.SellEntry) {
			e.Status = domain.StatusCompleted
			e.CompletedAt = &now
			e.RetryCount = inv.RetryCount
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", inv.TransactionID, "error", err)
		}
		go s.announceSettled(inv, Msg(MsgSendSuccess, inv.Units, s.cfg.CurrencyName))
	}

	slog.Info("invoice settled", "kind", inv.Kind, "payment_hash", inv.PaymentHash,
		"player", inv.Participant.ID, "amount_sats", inv.AmountSats, "retries", inv.RetryCount)
}

func (s *Service) announceSettled(inv *domain.Invoice, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.GatewayTimeout)
	defer cancel()

	s.board.Notify(ctx, inv.Participant, text)
	if inv.MessageID != 0 {
		if err := s.board.EditInvoice(ctx, inv.MessageID, inv, "paid"); err != nil {
			slog.Warn("invoice message edit failed", "message_id", inv.MessageID, "error", err)
		}
	}
}

// expireInvoice is the sole transition to the expired state, reached from
// either the wall-clock timeout or the retry limit — whichever removes
// the invoice from the registry first.
func (s *Service) expireInvoice(inv *domain.Invoice, reason string) {
	if !s.registry.Remove(inv) {
		return
	}
	s.disarmExpiry(inv.PaymentHash)
	s.unsubscribe(inv.PaymentHash)

	if inv.Kind.Inbound() {
		// Ask the gateway to withdraw the unpaid invoice. Best effort.
		hash := inv.PaymentHash
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), config.GatewayTimeout)
			defer cancel()
			if err := s.gw.Cancel(ctx, hash); err != nil {
				slog.Debug("invoice cancel failed", "payment_hash", hash, "error", err)
			}
		}()
	}

	switch inv.Kind {
	case domain.KindSendCurrency:
		units, err := s.escrow.Release(s.loopCtx(), inv.TransactionID)
		returned := err == nil
		if err != nil {
			slog.Error("escrow release failed", "transaction_id", inv.TransactionID, "error", err)
			s.board.Event(fmt.Sprintf("⚠️ refund for expired payment `%s` failed: %v", inv.PaymentHash, err))
		} else {
			slog.Info("escrow refunded", "player", inv.Participant.ID, "units", units)
		}
		if err := s.ledger.UpdateSell(inv.TransactionID, func(e *domain.SellEntry) {
			e.Status = domain.StatusExpired
			e.Reason = reason
			e.RetryCount = inv.RetryCount
			e.CurrencyReturned = returned
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", inv.TransactionID, "error", err)
		}
		go s.announceExpired(inv, Msg(MsgSendExpired, inv.AmountSats, s.cfg.CurrencyName))
	default:
		if err := s.ledger.UpdateBuy(inv.TransactionID, func(e *domain.BuyEntry) {
			e.Status = domain.StatusExpired
			e.Reason = reason
			e.RetryCount = inv.RetryCount
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", inv.TransactionID, "error", err)
		}
		go s.announceExpired(inv, Msg(MsgInvoiceExpired, inv.AmountSats))
	}

	slog.Warn("invoice expired", "kind", inv.Kind, "payment_hash", inv.PaymentHash,
		"player", inv.Participant.ID, "reason", reason, "retries", inv.RetryCount)
}

func (s *Service) announceExpired(inv *domain.Invoice, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.GatewayTimeout)
	defer cancel()

	s.board.Notify(ctx, inv.Participant, text)
	if inv.MessageID != 0 {
		if err := s.board.EditInvoice(ctx, inv.MessageID, inv, "expired"); err != nil {
			slog.Warn("invoice message edit failed", "message_id", inv.MessageID, "error", err)
		}
	}
}

// Recover resolves every ledger entry left non-terminal by a previous
// process with a single best-effort status check. It must finish before
// the loop starts and the registry accepts new work. Undeterminable
// outcomes resolve to failure, refunding sells rather than assuming
// completion.
func (s *Service) Recover(ctx context.Context) {
	for _, e := range s.ledger.OpenBuys() {
		s.recoverBuy(ctx, e)
	}
	for _, e := range s.ledger.OpenSells() {
		s.recoverSell(ctx, e)
	}
}

func (s *Service) recoverBuy(ctx context.Context, e domain.BuyEntry) {
	paid := false
	if e.PaymentHash != "" {
		var err error
		paid, err = s.gw.CheckStatus(ctx, e.PaymentHash)
		if err != nil {
			slog.Warn("recovery status check failed", "transaction_id", e.TransactionID, "error", err)
			paid = false
		}
	}

	if !paid {
		status := domain.StatusExpired
		if e.PaymentHash == "" {
			status = domain.StatusFailed
		}
		s.finalizeBuy(e.TransactionID, status, "unresolved across restart", nil)
		return
	}

	now := time.Now().UTC()
	granted := true
	var err error
	if e.VIP {
		err = s.ent.GrantVIP(ctx, e.PlayerID)
	} else {
		err = s.inv.GrantCurrency(ctx, e.PlayerID, e.Units)
	}
	if err != nil {
		granted = false
		slog.Error("recovery grant failed", "transaction_id", e.TransactionID, "error", err)
		s.board.Event(fmt.Sprintf("⚠️ recovered paid invoice `%s` but grant to `%s` failed: %v", e.PaymentHash, e.PlayerID, err))
	}
	if uerr := s.ledger.UpdateBuy(e.TransactionID, func(b *domain.BuyEntry) {
		b.Status = domain.StatusCompleted
		b.CompletedAt = &now
		b.CurrencyGiven = !b.VIP && granted
		b.VIPGranted = b.VIP && granted
	}); uerr != nil {
		slog.Error("ledger update failed", "transaction_id", e.TransactionID, "error", uerr)
	}
	slog.Info("recovered settled purchase", "transaction_id", e.TransactionID, "payment_hash", e.PaymentHash)
}

func (s *Service) recoverSell(ctx context.Context, e domain.SellEntry) {
	paid := false
	if e.PaymentHash != "" {
		var err error
		paid, err = s.gw.CheckStatus(ctx, e.PaymentHash)
		if err != nil {
			slog.Warn("recovery status check failed", "transaction_id", e.TransactionID, "error", err)
			paid = false
		}
	}

	now := time.Now().UTC()
	if paid {
		// The escrowed currency was consumed by the settled payment.
		if err := s.ledger.UpdateSell(e.TransactionID, func(se *domain.SellEntry) {
			se.Status = domain.StatusCompleted
			se.CompletedAt = &now
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", e.TransactionID, "error", err)
		}
		slog.Info("recovered settled send", "transaction_id", e.TransactionID, "payment_hash", e.PaymentHash)
		return
	}

	// The debit happened before the crash but the payment cannot be
	// confirmed: refund, never lose currency silently.
	returned := true
	if err := s.inv.ReturnCurrency(ctx, e.PlayerID, e.Units); err != nil {
		returned = false
		slog.Error("recovery refund failed", "transaction_id", e.TransactionID, "error", err)
		s.board.Event(fmt.Sprintf("⚠️ restart refund of %d %s to `%s` failed: %v", e.Units, s.cfg.CurrencyName, e.PlayerID, err))
	}
	status := domain.StatusExpired
	if e.PaymentHash == "" {
		status = domain.StatusFailed
	}
	if err := s.ledger.UpdateSell(e.TransactionID, func(se *domain.SellEntry) {
		se.Status = status
		se.Reason = "unresolved across restart"
		se.CurrencyReturned = returned
	}); err != nil {
		slog.Error("ledger update failed", "transaction_id", e.TransactionID, "error", err)
	}
}
