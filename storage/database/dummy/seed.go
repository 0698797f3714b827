package dummydb

import (
	"github.com/trezcool/masomo-fees/core/fee"
)

// The school directory (students, families, sibling tiers and fee categories) is owned by other services.
// These helpers stand in for it.

func (db *DB) AddStudent(s fee.Student) fee.Student {
	defer db.lock()()

	if s.ID == "" {
		s.ID = newID()
	}
	db.t.students[s.ID] = s
	return s
}

func (db *DB) AddFamilyGroup(g fee.FamilyGroup) fee.FamilyGroup {
	defer db.lock()()

	if g.ID == "" {
		g.ID = newID()
	}
	db.t.families[g.ID] = g
	return g
}

func (db *DB) AddFamilyMember(groupID, studentID string, active bool) {
	defer db.lock()()
	db.t.members[studentID] = member{groupID: groupID, active: active}
}

func (db *DB) AddSiblingDiscount(t fee.SiblingDiscount) fee.SiblingDiscount {
	defer db.lock()()

	if t.ID == "" {
		t.ID = newID()
	}
	db.t.siblingTiers[t.ID] = t
	return t
}

func (db *DB) AddFeeCategory(c fee.FeeCategory) fee.FeeCategory {
	defer db.lock()()

	if c.ID == "" {
		c.ID = newID()
	}
	db.t.categories[c.ID] = c
	return c
}

// Student returns the stored student, zero if missing.
func (db *DB) Student(id string) fee.Student {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.t.students[id]
}

// Activity returns the activity log of an account, oldest first.
func (db *DB) Activity(accountID string) []fee.ActivityEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var entries []fee.ActivityEntry
	for _, e := range db.t.activity {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	return entries
}

// Counts returns the number of rows of the account tables, for rollback assertions.
func (db *DB) Counts() map[string]int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return map[string]int{
		"accounts":   len(db.t.accounts),
		"line_items": len(db.t.lineItems),
		"discounts":  len(db.t.discounts),
		"schedules":  len(db.t.schedules),
		"payments":   len(db.t.payments),
		"activity":   len(db.t.activity),
	}
}
