package dummydb

import (
	"sync"

	"github.com/trezcool/masomo-fees/core/fee"
)

type (
	// DB is an in-memory fee store for tests and demos.
	// Transactions are serialized and rolled back by restoring a snapshot of every table.
	// Writes made outside a transaction wait for the running one; reads do not, and may see uncommitted rows.
	DB struct {
		mu   sync.RWMutex
		txMu sync.Mutex
		t    tables

		failMu sync.Mutex
		fail   map[string]error
	}

	member struct {
		groupID string
		active  bool
	}

	receiptKey struct {
		schoolID string
		year     int
	}

	tables struct {
		students     map[string]fee.Student
		families     map[string]fee.FamilyGroup
		members      map[string]member // by student id
		siblingTiers map[string]fee.SiblingDiscount
		categories   map[string]fee.FeeCategory
		structures   map[string]fee.FeeStructure
		plans        map[string]fee.PaymentPlan
		accounts     map[string]fee.Account
		lineItems    map[string]fee.LineItem
		discounts    map[string]fee.Discount
		schedules    map[string]fee.Schedule
		payments     map[string]fee.Payment
		activity     []fee.ActivityEntry
		receipts     map[receiptKey]int64
	}
)

func Open() (*DB, error) {
	return &DB{t: newTables(), fail: make(map[string]error)}, nil
}

func newTables() tables {
	return tables{
		students:     make(map[string]fee.Student),
		families:     make(map[string]fee.FamilyGroup),
		members:      make(map[string]member),
		siblingTiers: make(map[string]fee.SiblingDiscount),
		categories:   make(map[string]fee.FeeCategory),
		structures:   make(map[string]fee.FeeStructure),
		plans:        make(map[string]fee.PaymentPlan),
		accounts:     make(map[string]fee.Account),
		lineItems:    make(map[string]fee.LineItem),
		discounts:    make(map[string]fee.Discount),
		schedules:    make(map[string]fee.Schedule),
		payments:     make(map[string]fee.Payment),
		receipts:     make(map[receiptKey]int64),
	}
}

func (t tables) clone() tables {
	c := newTables()
	copyMap(c.students, t.students)
	copyMap(c.families, t.families)
	copyMap(c.members, t.members)
	copyMap(c.siblingTiers, t.siblingTiers)
	copyMap(c.categories, t.categories)
	copyMap(c.structures, t.structures)
	copyMap(c.plans, t.plans)
	copyMap(c.accounts, t.accounts)
	copyMap(c.lineItems, t.lineItems)
	copyMap(c.discounts, t.discounts)
	copyMap(c.schedules, t.schedules)
	copyMap(c.payments, t.payments)
	copyMap(c.receipts, t.receipts)
	c.activity = append([]fee.ActivityEntry(nil), t.activity...)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// FailOn makes the next call to the named repository method return err.
func (db *DB) FailOn(method string, err error) {
	db.failMu.Lock()
	defer db.failMu.Unlock()
	db.fail[method] = err
}

func (db *DB) injected(method string) error {
	db.failMu.Lock()
	defer db.failMu.Unlock()
	err, ok := db.fail[method]
	if ok {
		delete(db.fail, method)
	}
	return err
}

// Reset empties every table.
func (db *DB) Reset() {
	defer db.lock()()
	db.t = newTables()
}

// lock takes the write lock once no transaction is running.
func (db *DB) lock() (unlock func()) {
	db.txMu.Lock()
	db.mu.Lock()
	return func() {
		db.mu.Unlock()
		db.txMu.Unlock()
	}
}

func (db *DB) snapshot() tables {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.t.clone()
}

func (db *DB) restore(t tables) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t = t
}
