package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/domain"
	"github.com/saulteafarmer/orangemart/internal/gateway"
	"github.com/saulteafarmer/orangemart/internal/ledger"
)

type fakeGateway struct {
	mu         sync.Mutex
	nextHash   int
	createErr  error
	payErr     error
	resolveErr error
	paid       map[string]bool
	statusErr  map[string]error
	canceled   []string
	updates    map[string]chan gateway.Update
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		paid:      make(map[string]bool),
		statusErr: make(map[string]error),
		updates:   make(map[string]chan gateway.Update),
	}
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextHash++
	hash := fmt.Sprintf("hash%04d", g.nextHash)
	return &gateway.Invoice{PaymentHash: hash, PaymentRequest: "lnbc1" + hash}, nil
}

func (g *fakeGateway) Pay(ctx context.Context, bolt11 string, amountSats int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payErr != nil {
		return "", g.payErr
	}
	g.nextHash++
	return fmt.Sprintf("outhash%04d", g.nextHash), nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, paymentHash string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.statusErr[paymentHash]; err != nil {
		return false, err
	}
	return g.paid[paymentHash], nil
}

func (g *fakeGateway) ResolveAddress(ctx context.Context, address string, amountSats int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolveErr != nil {
		return "", g.resolveErr
	}
	return "lnbc1resolved" + address, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, paymentHash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, paymentHash)
	return nil
}

func (g *fakeGateway) Track(ctx context.Context, paymentHash string) (<-chan gateway.Update, <-chan error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan gateway.Update, 1)
	g.updates[paymentHash] = ch
	return ch, make(chan error, 1)
}

// settle pushes a settlement notification, as the websocket would.
func (g *fakeGateway) settle(paymentHash string) {
	g.mu.Lock()
	ch := g.updates[paymentHash]
	g.paid[paymentHash] = true
	g.mu.Unlock()
	if ch != nil {
		ch <- gateway.Update{Settled: true}
	}
}

func (g *fakeGateway) markPaid(paymentHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paid[paymentHash] = true
}

func (g *fakeGateway) canceledHashes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.canceled...)
}

type fakeBoard struct {
	mu       sync.Mutex
	posts    int
	notices  []string
	events   []string
	postErr  error
	outcomes []string
}

func (b *fakeBoard) PostInvoice(ctx context.Context, inv *domain.Invoice, payRequest string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.postErr != nil {
		return 0, b.postErr
	}
	b.posts++
	return b.posts, nil
}

func (b *fakeBoard) EditInvoice(ctx context.Context, messageID int, inv *domain.Invoice, outcome string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes = append(b.outcomes, outcome)
	return nil
}

func (b *fakeBoard) Notify(ctx context.Context, p domain.Participant, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, text)
}

func (b *fakeBoard) Event(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, text)
}

type fakeEntitlements struct {
	mu      sync.Mutex
	granted []string
	err     error
}

func (f *fakeEntitlements) GrantVIP(ctx context.Context, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.granted = append(f.granted, playerID)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		CurrencyName:        "blood",
		PricePerUnit:        1,
		SatsPerUnit:         1,
		VIPPriceSats:        1000,
		CheckInterval:       20 * time.Millisecond,
		InvoiceTimeout:      time.Minute,
		MaxRetries:          25,
		MaxUnitsPerOrder:    100000,
		MaxPendingPerPlayer: 3,
		CommandCooldown:     0,
	}
}

type harness struct {
	svc    *Service
	gw     *fakeGateway
	board  *fakeBoard
	inv    *fakeInventory
	ent    *fakeEntitlements
	store  *ledger.Store
	cancel context.CancelFunc
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	store, err := ledger.NewStore(t.TempDir())
	require.NoError(t, err)

	gw := newFakeGateway()
	board := &fakeBoard{}
	inv := newFakeInventory(map[string]int64{"p1": 1000})
	ent := &fakeEntitlements{}

	svc := NewService(cfg, store, gw, board, inv, ent)
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)
	t.Cleanup(cancel)

	return &harness{svc: svc, gw: gw, board: board, inv: inv, ent: ent, store: store, cancel: cancel}
}

func player() domain.Participant {
	return domain.Participant{ID: "p1", ChatID: 100, Name: "@p1"}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestBuyCurrencySettlesOnPush(t *testing.T) {
	h := newHarness(t, testConfig())

	inv, err := h.svc.BuyCurrency(context.Background(), player(), 50)
	require.NoError(t, err)
	require.NotEmpty(t, inv.PaymentHash)
	require.Equal(t, 1, h.svc.Pending())

	h.gw.settle(inv.PaymentHash)

	waitFor(t, func() bool { return h.svc.Pending() == 0 }, "invoice leaves the registry")
	waitFor(t, func() bool { return h.inv.grantedUnits("p1") == 50 }, "currency granted")

	buys := h.store.Buys()
	require.Len(t, buys, 1)
	require.Equal(t, domain.StatusCompleted, buys[0].Status)
	require.True(t, buys[0].CurrencyGiven)
	require.NotNil(t, buys[0].CompletedAt)
}

func TestDoubleConfirmationGrantsOnce(t *testing.T) {
	h := newHarness(t, testConfig())

	inv, err := h.svc.BuyCurrency(context.Background(), player(), 50)
	require.NoError(t, err)

	// Push and poll racing: both confirmation paths fire.
	hash := inv.PaymentHash
	h.gw.markPaid(hash)
	h.svc.do(func() {
		h.svc.processConfirmation(hash)
		h.svc.processConfirmation(hash)
	})

	waitFor(t, func() bool { return h.inv.grantedUnits("p1") == 50 }, "exactly one grant")
	require.Equal(t, 0, h.svc.Pending())
	require.Len(t, h.store.Buys(), 1)
}

func TestBuyCurrencySettlesOnPoll(t *testing.T) {
	h := newHarness(t, testConfig())

	inv, err := h.svc.BuyCurrency(context.Background(), player(), 10)
	require.NoError(t, err)

	// No push: only the poll tick notices the payment.
	h.gw.markPaid(inv.PaymentHash)

	waitFor(t, func() bool { return h.inv.grantedUnits("p1") == 10 }, "poll path grants currency")
}

func TestBuyVIP(t *testing.T) {
	h := newHarness(t, testConfig())

	inv, err := h.svc.BuyVIP(context.Background(), player())
	require.NoError(t, err)
	require.Equal(t, int64(1000), inv.AmountSats)

	h.gw.settle(inv.PaymentHash)

	waitFor(t, func() bool {
		h.ent.mu.Lock()
		defer h.ent.mu.Unlock()
		return len(h.ent.granted) == 1
	}, "vip granted")

	buys := h.store.Buys()
	require.Len(t, buys, 1)
	require.True(t, buys[0].VIP)
	require.True(t, buys[0].VIPGranted)
	require.False(t, buys[0].CurrencyGiven)
}

func TestBuyInvoiceCreationFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gw.createErr = errors.New("gateway down")

	_, err := h.svc.BuyCurrency(context.Background(), player(), 50)
	require.Error(t, err)
	require.Equal(t, 0, h.svc.Pending())

	buys := h.store.Buys()
	require.Len(t, buys, 1, "attempt is recorded even when the gateway fails")
	require.Equal(t, domain.StatusFailed, buys[0].Status)
}

func TestRetryLimitExpiresInvoice(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	h := newHarness(t, cfg)

	inv, err := h.svc.BuyCurrency(context.Background(), player(), 50)
	require.NoError(t, err)

	// Never paid: two failed checks reach the limit.
	waitFor(t, func() bool { return h.svc.Pending() == 0 }, "invoice expires after retry limit")

	buys := h.store.Buys()
	require.Len(t, buys, 1)
	require.Equal(t, domain.StatusExpired, buys[0].Status)
	require.Equal(t, int64(0), h.inv.grantedUnits("p1"))

	waitFor(t, func() bool {
		for _, c := range h.gw.canceledHashes() {
			if c == inv.PaymentHash {
				return true
			}
		}
		return false
	}, "unpaid invoice withdrawn at the gateway")
}

func TestTimeoutExpiresInvoice(t *testing.T) {
	cfg := testConfig()
	cfg.InvoiceTimeout = 30 * time.Millisecond
	cfg.CheckInterval = time.Hour // poll never fires
	h := newHarness(t, cfg)

	_, err := h.svc.BuyCurrency(context.Background(), player(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, h.svc.Pending())

	waitFor(t, func() bool { return h.svc.Pending() == 0 }, "wall-clock timeout expires the invoice")

	buys := h.store.Buys()
	require.Equal(t, domain.StatusExpired, buys[0].Status)
}

func TestPendingCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingPerPlayer = 2
	h := newHarness(t, cfg)

	ctx := context.Background()
	_, err := h.svc.BuyCurrency(ctx, player(), 1)
	require.NoError(t, err)
	_, err = h.svc.BuyCurrency(ctx, player(), 2)
	require.NoError(t, err)

	_, err = h.svc.BuyCurrency(ctx, player(), 3)
	require.ErrorIs(t, err, domain.ErrTooManyPending)
}

func TestSendCurrency(t *testing.T) {
	h := newHarness(t, testConfig())

	err := h.svc.SendCurrency(context.Background(), player(), 100, "alice@wallet.example")
	require.NoError(t, err)
	require.Equal(t, int64(900), h.inv.balance("p1"), "currency escrowed up front")
	require.Equal(t, 1, h.svc.Pending())

	sells := h.store.Sells()
	require.Len(t, sells, 1)
	require.Equal(t, domain.StatusProcessing, sells[0].Status)
	hash := sells[0].PaymentHash
	require.NotEmpty(t, hash)

	h.gw.markPaid(hash)

	waitFor(t, func() bool { return h.svc.Pending() == 0 }, "outbound payment confirmed by poll")

	sells = h.store.Sells()
	require.Equal(t, domain.StatusCompleted, sells[0].Status)
	require.Equal(t, int64(900), h.inv.balance("p1"), "escrow consumed, not refunded")
}

func TestSendCurrencyInsufficientBalance(t *testing.T) {
	h := newHarness(t, testConfig())

	err := h.svc.SendCurrency(context.Background(), player(), 5000, "alice@wallet.example")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Equal(t, int64(1000), h.inv.balance("p1"))

	sells := h.store.Sells()
	require.Len(t, sells, 1)
	require.Equal(t, domain.StatusFailed, sells[0].Status)
}

func TestSendCurrencyPayFailureRefunds(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gw.payErr = errors.New("no route")

	err := h.svc.SendCurrency(context.Background(), player(), 100, "alice@wallet.example")
	require.Error(t, err)

	waitFor(t, func() bool { return h.inv.balance("p1") == 1000 }, "escrow refunded after pay failure")

	sells := h.store.Sells()
	require.Len(t, sells, 1)
	require.Equal(t, domain.StatusFailed, sells[0].Status)
	require.True(t, sells[0].CurrencyReturned)
	require.Equal(t, 0, h.svc.Pending())
}

func TestSendCurrencyBadDomain(t *testing.T) {
	cfg := testConfig()
	cfg.BlacklistedDomains = []string{"banned.example"}
	h := newHarness(t, cfg)

	err := h.svc.SendCurrency(context.Background(), player(), 100, "alice@banned.example")
	require.ErrorIs(t, err, domain.ErrAddressNotAllowed)
	require.Equal(t, int64(1000), h.inv.balance("p1"))
	require.Empty(t, h.store.Sells(), "rejected before any ledger write")
}

func TestSendExpiryRefunds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	h := newHarness(t, cfg)

	err := h.svc.SendCurrency(context.Background(), player(), 100, "alice@wallet.example")
	require.NoError(t, err)
	require.Equal(t, int64(900), h.inv.balance("p1"))

	// The payment never settles; the retry limit expires it.
	waitFor(t, func() bool { return h.inv.balance("p1") == 1000 }, "escrow refunded on expiry")

	sells := h.store.Sells()
	require.Equal(t, domain.StatusExpired, sells[0].Status)
	require.True(t, sells[0].CurrencyReturned)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	h := newHarness(t, testConfig())

	h.cancel()
	waitFor(t, func() bool {
		select {
		case <-h.svc.done:
			return true
		default:
			return false
		}
	}, "loop drains")

	_, err := h.svc.BuyCurrency(context.Background(), player(), 50)
	require.ErrorIs(t, err, domain.ErrShuttingDown)
}
