// Package state records which mailbox messages have been processed.
//
// A ledger holds two append-only logs: purchases that were extracted, and
// messages whose extraction failed. A message id found in either log is
// never processed again.
package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/classify"
	"github.com/dhcgn/parcelscan/model"
)

type Ledger interface {
	// Contains reports whether id is in the success or the error log.
	Contains(id string) bool
	// AppendSuccess returns false when an equal purchase is already logged.
	AppendSuccess(p model.Purchase) (bool, error)
	// AppendError returns false when the message id is already logged as failed.
	AppendError(meta model.MessageMeta) (bool, error)
	LoadAll() (Records, error)
	Close() error
}

// Records is the full content of a ledger in append order.
type Records struct {
	Purchases []model.Purchase
	Failures  []model.MessageMeta
}

type Snapshot struct {
	Purchases int
	Failures  int
}

// Backend names a ledger encoding.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// Options apply to every persistent backend.
type Options struct {
	// Persist false keeps appends in memory only.
	Persist bool
	// RunID is stamped on every appended record.
	RunID string
	// Assembler recomputes derived purchase fields on load.
	Assembler *classify.Assembler
	Logger    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Assembler == nil {
		o.Assembler = classify.NewAssembler(nil)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Open returns the ledger for backend rooted at stateDir.
func Open(backend Backend, stateDir string, opts Options) (Ledger, error) {
	switch Backend(strings.ToLower(string(backend))) {
	case BackendFile, "":
		return NewFileLedger(stateDir, opts)
	case BackendSQLite:
		return NewSQLiteLedger(stateDir, opts)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

// MemoryLedger keeps both logs in memory.
type MemoryLedger struct {
	mu           sync.RWMutex
	purchases    []model.Purchase
	purchaseKeys map[model.PurchaseKey]struct{}
	failures     []model.MessageMeta
	failureIDs   map[string]struct{}
	ids          map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		purchaseKeys: make(map[model.PurchaseKey]struct{}),
		failureIDs:   make(map[string]struct{}),
		ids:          make(map[string]struct{}),
	}
}

func (m *MemoryLedger) Contains(id string) bool {
	if id == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.ids[id]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryLedger) AppendSuccess(p model.Purchase) (bool, error) {
	return m.addPurchase(p), nil
}

func (m *MemoryLedger) AppendError(meta model.MessageMeta) (bool, error) {
	return m.addFailure(meta), nil
}

func (m *MemoryLedger) hasPurchase(key model.PurchaseKey) bool {
	m.mu.RLock()
	_, ok := m.purchaseKeys[key]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryLedger) hasFailure(id string) bool {
	m.mu.RLock()
	_, ok := m.failureIDs[id]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryLedger) addPurchase(p model.Purchase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.Key()
	if _, exists := m.purchaseKeys[key]; exists {
		return false
	}
	m.purchaseKeys[key] = struct{}{}
	m.purchases = append(m.purchases, p)
	m.ids[p.Message.ID] = struct{}{}
	return true
}

func (m *MemoryLedger) addFailure(meta model.MessageMeta) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.failureIDs[meta.ID]; exists {
		return false
	}
	m.failureIDs[meta.ID] = struct{}{}
	m.failures = append(m.failures, meta)
	m.ids[meta.ID] = struct{}{}
	return true
}

func (m *MemoryLedger) LoadAll() (Records, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Records{
		Purchases: append([]model.Purchase(nil), m.purchases...),
		Failures:  append([]model.MessageMeta(nil), m.failures...),
	}, nil
}

func (m *MemoryLedger) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Purchases: len(m.purchases), Failures: len(m.failures)}
}

func (m *MemoryLedger) Close() error {
	return nil
}
