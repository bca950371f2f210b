// Package ledger persists every buy and sell attempt as two JSON
// collections under the data directory, rewritten whole on every update.
// The ledger is the durable source of truth for transaction outcomes; the
// in-memory pending registry is only a cache of "still need to check".
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saulteafarmer/orangemart/internal/domain"
)

const (
	buyFile  = "buy_invoices.json"
	sellFile = "send_bitcoin.json"
)

type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// RecordBuyInitiated writes a new buy entry in the initiated state and
// returns its locally generated transaction id. The id exists before any
// gateway identifier does.
func (s *Store) RecordBuyInitiated(e domain.BuyEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.TransactionID = uuid.NewString()
	e.Status = domain.StatusInitiated
	e.CreatedAt = s.now()
	e.UpdatedAt = e.CreatedAt

	entries := s.loadBuys()
	entries = append(entries, e)
	if err := s.save(buyFile, entries); err != nil {
		return "", err
	}
	return e.TransactionID, nil
}

// RecordSellInitiated is RecordBuyInitiated for the outbound ledger.
func (s *Store) RecordSellInitiated(e domain.SellEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.TransactionID = uuid.NewString()
	e.Status = domain.StatusInitiated
	e.CreatedAt = s.now()
	e.UpdatedAt = e.CreatedAt

	entries := s.loadSells()
	entries = append(entries, e)
	if err := s.save(sellFile, entries); err != nil {
		return "", err
	}
	return e.TransactionID, nil
}

// UpdateBuy mutates the entry with the given transaction id in place.
// Entries are never duplicated or deleted.
func (s *Store) UpdateBuy(transactionID string, apply func(*domain.BuyEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadBuys()
	for i := range entries {
		if entries[i].TransactionID == transactionID {
			apply(&entries[i])
			entries[i].UpdatedAt = s.now()
			return s.save(buyFile, entries)
		}
	}
	return fmt.Errorf("buy %s: %w", transactionID, domain.ErrTransactionNotFound)
}

// UpdateSell mutates the entry with the given transaction id in place.
func (s *Store) UpdateSell(transactionID string, apply func(*domain.SellEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadSells()
	for i := range entries {
		if entries[i].TransactionID == transactionID {
			apply(&entries[i])
			entries[i].UpdatedAt = s.now()
			return s.save(sellFile, entries)
		}
	}
	return fmt.Errorf("sell %s: %w", transactionID, domain.ErrTransactionNotFound)
}

// OpenBuys returns every buy entry not yet in a terminal state. Used by
// the crash-recovery sweep.
func (s *Store) OpenBuys() []domain.BuyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []domain.BuyEntry
	for _, e := range s.loadBuys() {
		if !e.Status.Terminal() {
			open = append(open, e)
		}
	}
	return open
}

// OpenSells returns every sell entry not yet in a terminal state.
func (s *Store) OpenSells() []domain.SellEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []domain.SellEntry
	for _, e := range s.loadSells() {
		if !e.Status.Terminal() {
			open = append(open, e)
		}
	}
	return open
}

// Buys returns the full buy collection, newest last.
func (s *Store) Buys() []domain.BuyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadBuys()
}

// Sells returns the full sell collection, newest last.
func (s *Store) Sells() []domain.SellEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSells()
}

func (s *Store) loadBuys() []domain.BuyEntry {
	var entries []domain.BuyEntry
	s.load(buyFile, &entries)
	return entries
}

func (s *Store) loadSells() []domain.SellEntry {
	var entries []domain.SellEntry
	s.load(sellFile, &entries)
	return entries
}

// load fills out from the named collection. A missing or corrupt file
// yields an empty collection, not a failure.
func (s *Store) load(name string, out any) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("ledger file unreadable, starting empty", "file", path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("ledger file corrupt, starting empty", "file", path, "error", err)
	}
}

// save rewrites the whole collection. The write goes through a temp file
// and a rename so a crash never leaves a half-written ledger behind.
func (s *Store) save(name string, entries any) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
