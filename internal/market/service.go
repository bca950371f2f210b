// Package market implements the invoice lifecycle: validation, escrow,
// ledger writes, gateway calls, and reconciliation of pending invoices
// until each reaches exactly one terminal outcome.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/domain"
	"github.com/saulteafarmer/orangemart/internal/gateway"
	"github.com/saulteafarmer/orangemart/internal/ledger"
)

// Inventory manipulates a participant's in-game currency.
type Inventory interface {
	TakeCurrency(ctx context.Context, playerID string, units int64) (bool, error)
	GrantCurrency(ctx context.Context, playerID string, units int64) error
	ReturnCurrency(ctx context.Context, playerID string, units int64) error
}

// Entitlements grants the VIP status group.
type Entitlements interface {
	GrantVIP(ctx context.Context, playerID string) error
}

// Board is the notification surface: invoice posts to the shared channel
// (editable), direct replies to participants, and an operator event feed.
type Board interface {
	PostInvoice(ctx context.Context, inv *domain.Invoice, payRequest string) (int, error)
	EditInvoice(ctx context.Context, messageID int, inv *domain.Invoice, outcome string) error
	Notify(ctx context.Context, p domain.Participant, text string)
	Event(text string)
}

// Service owns the single scheduling context. Every registry, escrow and
// ledger mutation runs on the loop inside Run; gateway HTTP and
// notification sends happen off it, their completions dispatched back.
type Service struct {
	cfg      *config.Config
	ledger   *ledger.Store
	gw       gateway.Client
	board    Board
	inv      Inventory
	ent      Entitlements
	guard    *Guard
	registry *Registry
	escrow   *Escrow

	tasks  chan func()
	done   chan struct{}
	runCtx context.Context

	// expiry timers, loop-owned, keyed by payment hash
	timers map[string]*time.Timer

	// push subscriptions are opened from request tasks and torn down from
	// both the loop and the listener goroutines, hence the lock
	subMu sync.Mutex
	subs  map[string]context.CancelFunc
}

func NewService(cfg *config.Config, store *ledger.Store, gw gateway.Client, board Board, inv Inventory, ent Entitlements) *Service {
	return &Service{
		cfg:      cfg,
		ledger:   store,
		gw:       gw,
		board:    board,
		inv:      inv,
		ent:      ent,
		guard:    NewGuard(cfg),
		registry: NewRegistry(),
		escrow:   NewEscrow(inv),
		tasks:    make(chan func(), 64),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		subs:     make(map[string]context.CancelFunc),
	}
}

// Run processes tasks and the poll tick until ctx is canceled. It must be
// started after Recover and before any command reaches the service.
func (s *Service) Run(ctx context.Context) {
	s.runCtx = ctx
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	slog.Info("market loop started", "check_interval", s.cfg.CheckInterval, "invoice_timeout", s.cfg.InvoiceTimeout)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case fn := <-s.tasks:
			fn()
		case <-ticker.C:
			s.pollPending()
		}
	}
}

func (s *Service) shutdown() {
	close(s.done)
	for hash, t := range s.timers {
		t.Stop()
		delete(s.timers, hash)
	}
	s.subMu.Lock()
	for hash, cancel := range s.subs {
		cancel()
		delete(s.subs, hash)
	}
	s.subMu.Unlock()
	slog.Info("market loop stopped", "still_pending", s.registry.Len())
}

// do runs fn on the loop and waits for it. Returns false if the service
// is shutting down and fn did not run.
func (s *Service) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case s.tasks <- func() { fn(); close(ran) }:
	case <-s.done:
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// dispatch queues fn on the loop without waiting.
func (s *Service) dispatch(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// admit applies the abuse guard in its fixed order: amount and overflow,
// cooldown, pending cap. Runs on the loop. The cooldown is recorded only
// when everything passed.
func (s *Service) admit(p domain.Participant, kind domain.InvoiceKind, units int64) (int64, error) {
	var (
		sats int64
		err  error
	)
	switch kind {
	case domain.KindBuyCurrency:
		sats, err = s.guard.CheckAmount(units, s.cfg.PricePerUnit)
	case domain.KindSendCurrency:
		sats, err = s.guard.CheckAmount(units, s.cfg.SatsPerUnit)
	case domain.KindBuyVIP:
		sats = s.cfg.VIPPriceSats
	}
	if err != nil {
		return 0, err
	}
	if err := s.guard.CheckCooldown(p.ID, kind); err != nil {
		return 0, err
	}
	if s.registry.CountForPlayer(p.ID) >= s.cfg.MaxPendingPerPlayer {
		return 0, domain.ErrTooManyPending
	}
	s.guard.MarkUsed(p.ID, kind)
	return sats, nil
}

// BuyCurrency creates an inbound invoice for units of currency. The
// currency is granted only once the payment settles.
func (s *Service) BuyCurrency(ctx context.Context, p domain.Participant, units int64) (*domain.Invoice, error) {
	memo := fmt.Sprintf("Buying %d %s", units, s.cfg.CurrencyName)
	return s.buy(ctx, p, domain.KindBuyCurrency, units, memo)
}

// BuyVIP creates an inbound invoice for the VIP entitlement.
func (s *Service) BuyVIP(ctx context.Context, p domain.Participant) (*domain.Invoice, error) {
	return s.buy(ctx, p, domain.KindBuyVIP, 1, "Buying VIP status")
}

func (s *Service) buy(ctx context.Context, p domain.Participant, kind domain.InvoiceKind, units int64, memo string) (*domain.Invoice, error) {
	var (
		sats    int64
		txID    string
		flowErr error
	)
	ok := s.do(func() {
		sats, flowErr = s.admit(p, kind, units)
		if flowErr != nil {
			return
		}
		txID, flowErr = s.ledger.RecordBuyInitiated(domain.BuyEntry{
			PlayerID:   p.ID,
			AmountSats: sats,
			Units:      units,
			VIP:        kind == domain.KindBuyVIP,
		})
	})
	if !ok {
		return nil, domain.ErrShuttingDown
	}
	if flowErr != nil {
		return nil, flowErr
	}

	created, err := s.gw.CreateInvoice(ctx, sats, memo)
	if err != nil {
		s.do(func() {
			s.finalizeBuy(txID, domain.StatusFailed, "invoice creation failed", nil)
		})
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	inv := &domain.Invoice{
		TransactionID: txID,
		PaymentHash:   created.PaymentHash,
		Participant:   p,
		AmountSats:    sats,
		Units:         units,
		Kind:          kind,
		Memo:          memo,
		CreatedAt:     time.Now().UTC(),
	}
	ok = s.do(func() {
		if err := s.ledger.UpdateBuy(txID, func(e *domain.BuyEntry) {
			e.PaymentHash = created.PaymentHash
			e.Status = domain.StatusProcessing
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", txID, "error", err)
		}
		s.registry.Add(inv)
		s.armExpiry(inv)
		s.subscribe(inv.PaymentHash)
	})
	if !ok {
		return nil, domain.ErrShuttingDown
	}

	go s.postInvoice(inv, created.PaymentRequest)

	slog.Info("inbound invoice created",
		"kind", kind, "player", p.ID, "amount_sats", sats, "payment_hash", created.PaymentHash)
	return inv, nil
}

func (s *Service) postInvoice(inv *domain.Invoice, payRequest string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.GatewayTimeout)
	defer cancel()

	msgID, err := s.board.PostInvoice(ctx, inv, payRequest)
	if err != nil {
		slog.Error("invoice post failed", "payment_hash", inv.PaymentHash, "error", err)
		return
	}
	s.dispatch(func() {
		if cur := s.registry.FindByPaymentHash(inv.PaymentHash); cur != nil {
			cur.MessageID = msgID
		}
	})
}

// SendCurrency escrows units of currency and pays them out to a lightning
// address. Every failure path after the debit releases the escrow exactly
// once, from the terminal transition.
func (s *Service) SendCurrency(ctx context.Context, p domain.Participant, units int64, address string) error {
	if _, err := s.guard.CheckAddress(address); err != nil {
		return err
	}

	var (
		sats     int64
		txID     string
		reserved bool
		flowErr  error
	)
	ok := s.do(func() {
		sats, flowErr = s.admit(p, domain.KindSendCurrency, units)
		if flowErr != nil {
			return
		}
		txID, flowErr = s.ledger.RecordSellInitiated(domain.SellEntry{
			PlayerID:         p.ID,
			LightningAddress: address,
			AmountSats:       sats,
			Units:            units,
		})
		if flowErr != nil {
			return
		}
		reserved, flowErr = s.escrow.Reserve(ctx, p.ID, txID, units)
		if flowErr == nil && !reserved {
			flowErr = domain.ErrInsufficientFunds
			s.finalizeSellNoEscrow(txID, domain.StatusFailed, "insufficient balance")
		} else if flowErr != nil {
			s.finalizeSellNoEscrow(txID, domain.StatusFailed, "currency reservation failed")
		}
	})
	if !ok {
		return domain.ErrShuttingDown
	}
	if flowErr != nil {
		return flowErr
	}

	bolt11, err := s.gw.ResolveAddress(ctx, address, sats)
	if err != nil {
		s.failSend(txID, p, "address resolution failed")
		return fmt.Errorf("resolve %s: %w", address, err)
	}

	paymentHash, err := s.gw.Pay(ctx, bolt11, sats)
	if err != nil {
		s.failSend(txID, p, "payment initiation failed")
		return fmt.Errorf("pay %s: %w", address, err)
	}

	inv := &domain.Invoice{
		TransactionID:    txID,
		PaymentHash:      paymentHash,
		Participant:      p,
		AmountSats:       sats,
		Units:            units,
		Kind:             domain.KindSendCurrency,
		Memo:             fmt.Sprintf("Sending %d %s to %s", units, s.cfg.CurrencyName, address),
		LightningAddress: address,
		CreatedAt:        time.Now().UTC(),
	}
	ok = s.do(func() {
		if err := s.ledger.UpdateSell(txID, func(e *domain.SellEntry) {
			e.PaymentHash = paymentHash
			e.Status = domain.StatusProcessing
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", txID, "error", err)
		}
		// Outbound settlement is confirmed by polling only; the payer is
		// this service, so there is no inbound push stream to subscribe to.
		s.registry.Add(inv)
		s.armExpiry(inv)
	})
	if !ok {
		return domain.ErrShuttingDown
	}

	slog.Info("outbound payment initiated",
		"player", p.ID, "address", address, "amount_sats", sats, "payment_hash", paymentHash)
	return nil
}

// failSend resolves a sell that never reached the registry: release the
// escrow and close the ledger entry.
func (s *Service) failSend(txID string, p domain.Participant, reason string) {
	s.do(func() {
		units, err := s.escrow.Release(s.loopCtx(), txID)
		returned := err == nil
		if err != nil {
			slog.Error("escrow release failed", "transaction_id", txID, "error", err)
			s.board.Event(fmt.Sprintf("⚠️ refund of %d %s to player failed (tx `%s`): %v", units, s.cfg.CurrencyName, txID, err))
		}
		if err := s.ledger.UpdateSell(txID, func(e *domain.SellEntry) {
			e.Status = domain.StatusFailed
			e.Reason = reason
			e.CurrencyReturned = returned
		}); err != nil {
			slog.Error("ledger update failed", "transaction_id", txID, "error", err)
		}
	})
	go s.board.Notify(context.Background(), p, Msg(MsgPaymentFailed, s.cfg.CurrencyName))
}

// finalizeSellNoEscrow closes a sell entry that holds no escrow.
func (s *Service) finalizeSellNoEscrow(txID string, status domain.Status, reason string) {
	if err := s.ledger.UpdateSell(txID, func(e *domain.SellEntry) {
		e.Status = status
		e.Reason = reason
	}); err != nil {
		slog.Error("ledger update failed", "transaction_id", txID, "error", err)
	}
}

func (s *Service) finalizeBuy(txID string, status domain.Status, reason string, completedAt *time.Time) {
	if err := s.ledger.UpdateBuy(txID, func(e *domain.BuyEntry) {
		e.Status = status
		e.Reason = reason
		e.CompletedAt = completedAt
	}); err != nil {
		slog.Error("ledger update failed", "transaction_id", txID, "error", err)
	}
}

// loopCtx is the context used for collaborator calls made from the loop.
func (s *Service) loopCtx() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// Pending reports how many invoices are awaiting settlement.
func (s *Service) Pending() int {
	n := 0
	s.do(func() { n = s.registry.Len() })
	return n
}
