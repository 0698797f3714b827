package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-fees/core/fee"
)

type feeRepository struct {
	db   *DB
	inTx bool
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(db *DB) fee.Repository {
	return &feeRepository{db: db}
}

func newID() string { return uuid.NewString() }

func (repo *feeRepository) RunInTx(ctx context.Context, fn func(repo fee.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}
	repo.db.txMu.Lock()
	defer repo.db.txMu.Unlock()

	snap := repo.db.snapshot()
	if err := fn(&feeRepository{db: repo.db, inTx: true}); err != nil {
		repo.db.restore(snap)
		return err
	}
	return nil
}

// lock takes the write lock. Outside a transaction it first waits for the running transaction, if any,
// so that a rollback never discards the write.
func (repo *feeRepository) lock() (unlock func()) {
	if !repo.inTx {
		repo.db.txMu.Lock()
	}
	repo.db.mu.Lock()
	return func() {
		repo.db.mu.Unlock()
		if !repo.inTx {
			repo.db.txMu.Unlock()
		}
	}
}

// students & families

func (repo *feeRepository) GetStudent(_ context.Context, id string) (fee.Student, error) {
	if err := repo.db.injected("GetStudent"); err != nil {
		return fee.Student{}, err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if s, ok := repo.db.t.students[id]; ok {
		return s, nil
	}
	return fee.Student{}, fee.ErrStudentNotFound
}

func (repo *feeRepository) UpdateStudentStatus(_ context.Context, id, status string) error {
	if err := repo.db.injected("UpdateStudentStatus"); err != nil {
		return err
	}
	defer repo.lock()()

	s, ok := repo.db.t.students[id]
	if !ok {
		return fee.ErrStudentNotFound
	}
	s.EnrollmentStatus = status
	repo.db.t.students[id] = s
	return nil
}

func (repo *feeRepository) GetFamilyGroup(_ context.Context, studentID string) (fee.FamilyGroup, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	m, ok := repo.db.t.members[studentID]
	if !ok {
		return fee.FamilyGroup{}, fee.ErrFamilyNotFound
	}
	if g, ok := repo.db.t.families[m.groupID]; ok {
		return g, nil
	}
	return fee.FamilyGroup{}, fee.ErrFamilyNotFound
}

func (repo *feeRepository) CountActiveSiblings(_ context.Context, groupID, studentID string) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var n int
	for sid, m := range repo.db.t.members {
		if m.groupID == groupID && m.active && sid != studentID {
			n++
		}
	}
	return n, nil
}

func (repo *feeRepository) QuerySiblingDiscounts(_ context.Context, schoolID string) ([]fee.SiblingDiscount, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var tiers []fee.SiblingDiscount
	for _, t := range repo.db.t.siblingTiers {
		if t.SchoolID == schoolID && t.IsActive {
			tiers = append(tiers, t)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].SiblingOrderFrom < tiers[j].SiblingOrderFrom })
	return tiers, nil
}

// fee structures

func (repo *feeRepository) GetFeeCategory(_ context.Context, id string) (fee.FeeCategory, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if c, ok := repo.db.t.categories[id]; ok {
		return c, nil
	}
	return fee.FeeCategory{}, fee.ErrCategoryNotFound
}

func (repo *feeRepository) QueryFeeCategories(_ context.Context, filter fee.CategoryFilter) ([]fee.FeeCategory, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var categories []fee.FeeCategory
	for _, c := range repo.db.t.categories {
		switch {
		case filter.SchoolID != "" && c.SchoolID != filter.SchoolID,
			filter.Category != "" && c.Category != filter.Category,
			filter.ActiveOnly && !c.IsActive:
			continue
		}
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		a, b := categories[i], categories[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Name < b.Name
	})
	return categories, nil
}

func (repo *feeRepository) CreateFeeCategory(_ context.Context, category fee.FeeCategory) (fee.FeeCategory, error) {
	defer repo.lock()()

	for _, c := range repo.db.t.categories {
		if c.SchoolID == category.SchoolID && c.Code == category.Code {
			return fee.FeeCategory{}, fee.ErrCategoryExists
		}
	}
	category.ID = newID()
	repo.db.t.categories[category.ID] = category
	return category, nil
}

func (repo *feeRepository) GetFeeStructure(_ context.Context, id string) (fee.FeeStructure, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if s, ok := repo.db.t.structures[id]; ok {
		return s, nil
	}
	return fee.FeeStructure{}, fee.ErrStructureNotFound
}

func (repo *feeRepository) QueryFeeStructures(_ context.Context, filter fee.StructureFilter) ([]fee.FeeStructure, error) {
	if err := repo.db.injected("QueryFeeStructures"); err != nil {
		return nil, err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var structures []fee.FeeStructure
	for _, s := range repo.db.t.structures {
		switch {
		case filter.SchoolID != "" && s.SchoolID != filter.SchoolID,
			filter.SchoolYearID != "" && s.SchoolYearID != filter.SchoolYearID,
			filter.FeeCategoryID != "" && s.FeeCategoryID != filter.FeeCategoryID,
			filter.GradeLevel != "" && s.GradeLevel != filter.GradeLevel,
			filter.ForGrade != "" && !s.AppliesToGrade(filter.ForGrade),
			filter.ActiveOnly && !s.IsActive:
			continue
		}
		structures = append(structures, s)
	}

	sort.Slice(structures, func(i, j int) bool {
		a, b := structures[i], structures[j]
		for _, ord := range filter.Orderings {
			var less, greater bool
			switch ord.Field {
			case "grade_level":
				less, greater = a.GradeLevel < b.GradeLevel, a.GradeLevel > b.GradeLevel
			case "name":
				less, greater = a.Name < b.Name, a.Name > b.Name
			}
			if less || greater {
				return less == ord.Ascending
			}
		}
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID)
	})
	return structures, nil
}

// clashes reports whether another active structure has the combination of s.
func (repo *feeRepository) clashes(s fee.FeeStructure) bool {
	if !s.IsActive {
		return false
	}
	for _, o := range repo.db.t.structures {
		if o.ID != s.ID && o.IsActive && o.SchoolID == s.SchoolID && o.SchoolYearID == s.SchoolYearID &&
			o.FeeCategoryID == s.FeeCategoryID && o.GradeLevel == s.GradeLevel && o.SectionID == s.SectionID {
			return true
		}
	}
	return false
}

func (repo *feeRepository) CreateFeeStructure(_ context.Context, structure fee.FeeStructure) (fee.FeeStructure, error) {
	defer repo.lock()()

	if repo.clashes(structure) {
		return fee.FeeStructure{}, fee.ErrStructureExists
	}
	structure.ID = newID()
	repo.db.t.structures[structure.ID] = structure
	return structure, nil
}

func (repo *feeRepository) UpdateFeeStructure(_ context.Context, structure fee.FeeStructure) error {
	defer repo.lock()()

	if _, ok := repo.db.t.structures[structure.ID]; !ok {
		return fee.ErrStructureNotFound
	}
	if repo.clashes(structure) {
		return fee.ErrStructureExists
	}
	repo.db.t.structures[structure.ID] = structure
	return nil
}

func (repo *feeRepository) DeactivateFeeStructure(_ context.Context, id string, at time.Time) error {
	defer repo.lock()()

	s, ok := repo.db.t.structures[id]
	if !ok {
		return fee.ErrStructureNotFound
	}
	s.IsActive = false
	s.UpdatedAt = at
	repo.db.t.structures[id] = s
	return nil
}

func (repo *feeRepository) DeleteFeeStructure(_ context.Context, id string) error {
	defer repo.lock()()

	if _, ok := repo.db.t.structures[id]; !ok {
		return fee.ErrStructureNotFound
	}
	delete(repo.db.t.structures, id)
	return nil
}

func (repo *feeRepository) CountLineItems(_ context.Context, structureID string) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var n int
	for _, li := range repo.db.t.lineItems {
		if li.FeeStructureID == structureID {
			n++
		}
	}
	return n, nil
}

// payment plans

func (repo *feeRepository) GetPaymentPlan(_ context.Context, id, schoolYearID string) (fee.PaymentPlan, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if p, ok := repo.db.t.plans[id]; ok && (schoolYearID == "" || p.SchoolYearID == schoolYearID) {
		return p, nil
	}
	return fee.PaymentPlan{}, fee.ErrPlanNotFound
}

func (repo *feeRepository) QueryPaymentPlans(_ context.Context, filter fee.PlanFilter) ([]fee.PaymentPlan, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var plans []fee.PaymentPlan
	for _, p := range repo.db.t.plans {
		switch {
		case filter.SchoolID != "" && p.SchoolID != filter.SchoolID,
			filter.SchoolYearID != "" && p.SchoolYearID != filter.SchoolYearID,
			filter.Code != "" && p.Code != filter.Code,
			filter.ActiveOnly && !p.IsActive:
			continue
		}
		plans = append(plans, p)
	}

	sort.Slice(plans, func(i, j int) bool {
		a, b := plans[i], plans[j]
		for _, ord := range filter.Orderings {
			var less, greater bool
			switch ord.Field {
			case "sort_order":
				less, greater = a.SortOrder < b.SortOrder, a.SortOrder > b.SortOrder
			case "name":
				less, greater = a.Name < b.Name, a.Name > b.Name
			}
			if less || greater {
				return less == ord.Ascending
			}
		}
		return a.ID < b.ID
	})
	return plans, nil
}

func (repo *feeRepository) CreatePaymentPlan(_ context.Context, plan fee.PaymentPlan) (fee.PaymentPlan, error) {
	if err := repo.db.injected("CreatePaymentPlan"); err != nil {
		return fee.PaymentPlan{}, err
	}
	defer repo.lock()()

	for _, p := range repo.db.t.plans {
		if p.SchoolID == plan.SchoolID && p.SchoolYearID == plan.SchoolYearID && p.Code == plan.Code {
			return fee.PaymentPlan{}, fee.ErrPlanCodeExists
		}
	}
	plan.ID = newID()
	repo.db.t.plans[plan.ID] = plan
	return plan, nil
}

func (repo *feeRepository) UpdatePaymentPlan(_ context.Context, plan fee.PaymentPlan) error {
	defer repo.lock()()

	if _, ok := repo.db.t.plans[plan.ID]; !ok {
		return fee.ErrPlanNotFound
	}
	for _, p := range repo.db.t.plans {
		if p.ID != plan.ID && p.SchoolID == plan.SchoolID && p.SchoolYearID == plan.SchoolYearID && p.Code == plan.Code {
			return fee.ErrPlanCodeExists
		}
	}
	repo.db.t.plans[plan.ID] = plan
	return nil
}

func (repo *feeRepository) DeletePaymentPlan(_ context.Context, id string) error {
	defer repo.lock()()

	if _, ok := repo.db.t.plans[id]; !ok {
		return fee.ErrPlanNotFound
	}
	delete(repo.db.t.plans, id)
	return nil
}

// accounts

func (repo *feeRepository) GetAccount(_ context.Context, id string) (fee.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if a, ok := repo.db.t.accounts[id]; ok {
		return a, nil
	}
	return fee.Account{}, fee.ErrAccountNotFound
}

// LockAccount is GetAccount: transactions are serialized already.
func (repo *feeRepository) LockAccount(ctx context.Context, id string) (fee.Account, error) {
	return repo.GetAccount(ctx, id)
}

func (repo *feeRepository) GetAccountByStudent(_ context.Context, studentID, schoolYearID string) (fee.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, a := range repo.db.t.accounts {
		if a.StudentID == studentID && a.SchoolYearID == schoolYearID {
			return a, nil
		}
	}
	return fee.Account{}, fee.ErrAccountNotFound
}

func (repo *feeRepository) filterAccounts(filter fee.AccountFilter) []fee.Account {
	var accounts []fee.Account
	for _, a := range repo.db.t.accounts {
		switch {
		case filter.SchoolID != "" && a.SchoolID != filter.SchoolID,
			filter.SchoolYearID != "" && a.SchoolYearID != filter.SchoolYearID,
			filter.GradeLevel != "" && a.GradeLevelAtAssessment != filter.GradeLevel,
			filter.PaymentPlanID != "" && a.PaymentPlanID != filter.PaymentPlanID,
			len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, a.Status),
			filter.WithBalance && !a.CurrentBalance.IsPositive(),
			filter.MinBalance != nil && a.CurrentBalance.LessThan(*filter.MinBalance):
			continue
		}
		if filter.Search != "" {
			name := strings.ToLower(repo.db.t.students[a.StudentID].Name)
			if !strings.Contains(name, strings.ToLower(filter.Search)) {
				continue
			}
		}
		accounts = append(accounts, a)
	}
	return accounts
}

func (repo *feeRepository) QueryAccounts(_ context.Context, filter fee.AccountFilter) ([]fee.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	accounts := repo.filterAccounts(filter)
	sort.Slice(accounts, func(i, j int) bool {
		a, b := accounts[i], accounts[j]
		if filter.Newest {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		} else if a.DaysOverdue != b.DaysOverdue {
			return a.DaysOverdue > b.DaysOverdue
		}
		return a.ID < b.ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(accounts) {
			return nil, nil
		}
		accounts = accounts[filter.Offset:]
	}
	if filter.Limit > 0 && len(accounts) > filter.Limit {
		accounts = accounts[:filter.Limit]
	}
	return accounts, nil
}

func (repo *feeRepository) CountAccounts(_ context.Context, filter fee.AccountFilter) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return len(repo.filterAccounts(filter)), nil
}

func (repo *feeRepository) CreateAccount(_ context.Context, account fee.Account) (fee.Account, error) {
	if err := repo.db.injected("CreateAccount"); err != nil {
		return fee.Account{}, err
	}
	defer repo.lock()()

	for _, a := range repo.db.t.accounts {
		if a.StudentID == account.StudentID && a.SchoolYearID == account.SchoolYearID {
			return fee.Account{}, fee.ErrAccountExists
		}
	}
	account.ID = newID()
	repo.db.t.accounts[account.ID] = account
	return account, nil
}

func (repo *feeRepository) UpdateAccount(_ context.Context, account fee.Account) error {
	if err := repo.db.injected("UpdateAccount"); err != nil {
		return err
	}
	defer repo.lock()()

	if _, ok := repo.db.t.accounts[account.ID]; !ok {
		return fee.ErrAccountNotFound
	}
	repo.db.t.accounts[account.ID] = account
	return nil
}

// account children

func (repo *feeRepository) CreateLineItems(_ context.Context, items []fee.LineItem) ([]fee.LineItem, error) {
	if err := repo.db.injected("CreateLineItems"); err != nil {
		return nil, err
	}
	defer repo.lock()()

	created := make([]fee.LineItem, 0, len(items))
	for _, li := range items {
		li.ID = newID()
		repo.db.t.lineItems[li.ID] = li
		created = append(created, li)
	}
	return created, nil
}

func (repo *feeRepository) QueryLineItems(_ context.Context, accountID string) ([]fee.LineItem, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var items []fee.LineItem
	for _, li := range repo.db.t.lineItems {
		if li.AccountID == accountID {
			items = append(items, li)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Description < items[j].Description })
	return items, nil
}

func (repo *feeRepository) CreateDiscounts(_ context.Context, discounts []fee.Discount) ([]fee.Discount, error) {
	if err := repo.db.injected("CreateDiscounts"); err != nil {
		return nil, err
	}
	defer repo.lock()()

	created := make([]fee.Discount, 0, len(discounts))
	for _, d := range discounts {
		d.ID = newID()
		repo.db.t.discounts[d.ID] = d
		created = append(created, d)
	}
	return created, nil
}

func (repo *feeRepository) QueryDiscounts(_ context.Context, accountID string) ([]fee.Discount, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var discounts []fee.Discount
	for _, d := range repo.db.t.discounts {
		if d.AccountID == accountID {
			discounts = append(discounts, d)
		}
	}
	sort.Slice(discounts, func(i, j int) bool { return discounts[i].DiscountName < discounts[j].DiscountName })
	return discounts, nil
}

func (repo *feeRepository) CreateSchedules(_ context.Context, schedules []fee.Schedule) ([]fee.Schedule, error) {
	if err := repo.db.injected("CreateSchedules"); err != nil {
		return nil, err
	}
	defer repo.lock()()

	created := make([]fee.Schedule, 0, len(schedules))
	for _, s := range schedules {
		s.ID = newID()
		repo.db.t.schedules[s.ID] = s
		created = append(created, s)
	}
	return created, nil
}

func (repo *feeRepository) QuerySchedules(_ context.Context, filter fee.ScheduleFilter) ([]fee.Schedule, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var schedules []fee.Schedule
	for _, s := range repo.db.t.schedules {
		switch {
		case len(filter.AccountIDs) > 0 && !contains(filter.AccountIDs, s.AccountID),
			len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, s.Status),
			!filter.DueBefore.IsZero() && !s.DueDate.Before(filter.DueBefore):
			continue
		}
		schedules = append(schedules, s)
	}
	sort.Slice(schedules, func(i, j int) bool {
		a, b := schedules[i], schedules[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.InstallmentNumber < b.InstallmentNumber
	})
	return schedules, nil
}

func (repo *feeRepository) UpdateSchedule(_ context.Context, schedule fee.Schedule) error {
	defer repo.lock()()

	if _, ok := repo.db.t.schedules[schedule.ID]; !ok {
		return fee.ErrScheduleNotFound
	}
	repo.db.t.schedules[schedule.ID] = schedule
	return nil
}

// payments

func (repo *feeRepository) NextReceiptNumber(_ context.Context, schoolID string, year int) (string, error) {
	defer repo.lock()()

	key := receiptKey{schoolID: schoolID, year: year}
	repo.db.t.receipts[key]++
	return fee.ReceiptNumber(year, repo.db.t.receipts[key]), nil
}

func (repo *feeRepository) CreatePayment(_ context.Context, payment fee.Payment) (fee.Payment, error) {
	if err := repo.db.injected("CreatePayment"); err != nil {
		return fee.Payment{}, err
	}
	defer repo.lock()()

	payment.ID = newID()
	repo.db.t.payments[payment.ID] = payment
	return payment, nil
}

func (repo *feeRepository) GetPayment(_ context.Context, id string) (fee.Payment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if p, ok := repo.db.t.payments[id]; ok {
		return p, nil
	}
	return fee.Payment{}, fee.ErrPaymentNotFound
}

func (repo *feeRepository) UpdatePayment(_ context.Context, payment fee.Payment) error {
	defer repo.lock()()

	if _, ok := repo.db.t.payments[payment.ID]; !ok {
		return fee.ErrPaymentNotFound
	}
	repo.db.t.payments[payment.ID] = payment
	return nil
}

func (repo *feeRepository) QueryPayments(_ context.Context, filter fee.PaymentFilter) ([]fee.Payment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var payments []fee.Payment
	for _, p := range repo.db.t.payments {
		switch {
		case filter.SchoolID != "" && p.SchoolID != filter.SchoolID,
			len(filter.AccountIDs) > 0 && !contains(filter.AccountIDs, p.AccountID),
			filter.Status != "" && p.Status != filter.Status,
			!filter.From.IsZero() && p.PaymentDate.Before(filter.From):
			continue
		}
		payments = append(payments, p)
	}
	sort.Slice(payments, func(i, j int) bool {
		a, b := payments[i], payments[j]
		if !a.PaymentDate.Equal(b.PaymentDate) {
			return a.PaymentDate.After(b.PaymentDate)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return payments, nil
}

func (repo *feeRepository) CreateActivity(_ context.Context, entry fee.ActivityEntry) error {
	if err := repo.db.injected("CreateActivity"); err != nil {
		return err
	}
	defer repo.lock()()

	entry.ID = newID()
	repo.db.t.activity = append(repo.db.t.activity, entry)
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func hasStatus[S ~string](statuses []S, status S) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
