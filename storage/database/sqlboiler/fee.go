package boiledrepos

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core/fee"
)

const structureColumns = `
	s.id, s.school_id, s.school_year_id, s.fee_category_id, s.name, s.grade_level, s.section_id,
	c.category, c.name AS category_name, c.is_required, s.amount, s.is_active, s.created_at, s.updated_at
	FROM fee_structures s JOIN fee_categories c ON c.id = s.fee_category_id`

var (
	structureOrderings = map[string]bool{"grade_level": true, "name": true}
	planOrderings      = map[string]bool{"sort_order": true, "name": true}
)

// students & families

func (repo *feeRepository) GetStudent(ctx context.Context, id string) (fee.Student, error) {
	var row studentRow
	if err := repo.bind(ctx, &row, "SELECT * FROM students WHERE id = $1", id); err != nil {
		return fee.Student{}, trapNoRowsErr(err, fee.ErrStudentNotFound, "fetching student")
	}
	return row.unboil(), nil
}

func (repo *feeRepository) UpdateStudentStatus(ctx context.Context, id, status string) error {
	n, err := repo.execute(ctx, "UPDATE students SET enrollment_status = $2 WHERE id = $1", id, status)
	if err != nil {
		return errors.Wrap(err, "updating student status")
	}
	if n == 0 {
		return fee.ErrStudentNotFound
	}
	return nil
}

func (repo *feeRepository) GetFamilyGroup(ctx context.Context, studentID string) (fee.FamilyGroup, error) {
	var row familyRow
	err := repo.bind(ctx, &row, `
		SELECT g.id, g.school_id, g.name FROM family_groups g
		JOIN family_group_members m ON m.family_group_id = g.id
		WHERE m.student_id = $1 LIMIT 1`, studentID)
	if err != nil {
		return fee.FamilyGroup{}, trapNoRowsErr(err, fee.ErrFamilyNotFound, "fetching family group")
	}
	return fee.FamilyGroup{ID: row.ID, SchoolID: row.SchoolID, Name: row.Name}, nil
}

func (repo *feeRepository) CountActiveSiblings(ctx context.Context, groupID, studentID string) (int, error) {
	var res struct {
		Count int `boil:"count"`
	}
	err := repo.bind(ctx, &res, `
		SELECT COUNT(*) AS count FROM family_group_members
		WHERE family_group_id = $1 AND student_id <> $2 AND is_active`, groupID, studentID)
	return res.Count, errors.Wrap(err, "counting siblings")
}

func (repo *feeRepository) QuerySiblingDiscounts(ctx context.Context, schoolID string) ([]fee.SiblingDiscount, error) {
	var rows []siblingDiscountRow
	err := repo.bind(ctx, &rows, `
		SELECT * FROM sibling_discounts WHERE school_id = $1 AND is_active
		ORDER BY sibling_order_from`, schoolID)
	if err != nil {
		return nil, errors.Wrap(err, "querying sibling discounts")
	}
	tiers := make([]fee.SiblingDiscount, 0, len(rows))
	for _, r := range rows {
		tiers = append(tiers, r.unboil())
	}
	return tiers, nil
}

// fee structures

func (repo *feeRepository) GetFeeCategory(ctx context.Context, id string) (fee.FeeCategory, error) {
	var row categoryRow
	if err := repo.bind(ctx, &row, "SELECT * FROM fee_categories WHERE id = $1", id); err != nil {
		return fee.FeeCategory{}, trapNoRowsErr(err, fee.ErrCategoryNotFound, "fetching fee category")
	}
	return row.unboil(), nil
}

func (repo *feeRepository) QueryFeeCategories(ctx context.Context, filter fee.CategoryFilter) ([]fee.FeeCategory, error) {
	w := new(where)
	if filter.SchoolID != "" {
		w.add("school_id = ?", filter.SchoolID)
	}
	if filter.Category != "" {
		w.add("category = ?", string(filter.Category))
	}
	if filter.ActiveOnly {
		w.raw("is_active")
	}

	var rows []categoryRow
	if err := repo.bind(ctx, &rows, "SELECT * FROM fee_categories"+w.String()+" ORDER BY sort_order, name", w.args...); err != nil {
		return nil, errors.Wrap(err, "querying fee categories")
	}
	categories := make([]fee.FeeCategory, 0, len(rows))
	for _, r := range rows {
		categories = append(categories, r.unboil())
	}
	return categories, nil
}

func (repo *feeRepository) CreateFeeCategory(ctx context.Context, c fee.FeeCategory) (fee.FeeCategory, error) {
	c.ID = uuid.NewString()
	_, err := repo.execute(ctx, `
		INSERT INTO fee_categories (id, school_id, name, code, category, description, is_required, sort_order, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.SchoolID, c.Name, c.Code, string(c.Category), nullStr(c.Description), c.IsRequired, c.SortOrder, c.IsActive,
	)
	if err != nil {
		if err == fee.ErrCategoryExists {
			return fee.FeeCategory{}, err
		}
		return fee.FeeCategory{}, errors.Wrap(err, "inserting fee category")
	}
	return c, nil
}

func (repo *feeRepository) GetFeeStructure(ctx context.Context, id string) (fee.FeeStructure, error) {
	var row structureRow
	if err := repo.bind(ctx, &row, "SELECT"+structureColumns+" WHERE s.id = $1", id); err != nil {
		return fee.FeeStructure{}, trapNoRowsErr(err, fee.ErrStructureNotFound, "fetching fee structure")
	}
	return row.unboil(), nil
}

func (repo *feeRepository) QueryFeeStructures(ctx context.Context, filter fee.StructureFilter) ([]fee.FeeStructure, error) {
	w := new(where)
	if filter.SchoolID != "" {
		w.add("s.school_id = ?", filter.SchoolID)
	}
	if filter.SchoolYearID != "" {
		w.add("s.school_year_id = ?", filter.SchoolYearID)
	}
	if filter.FeeCategoryID != "" {
		w.add("s.fee_category_id = ?", filter.FeeCategoryID)
	}
	if filter.GradeLevel != "" {
		w.add("s.grade_level = ?", filter.GradeLevel)
	}
	if filter.ForGrade != "" {
		w.add("(s.grade_level = ? OR s.grade_level IS NULL)", filter.ForGrade)
	}
	if filter.ActiveOnly {
		w.raw("s.is_active")
	}

	var rows []structureRow
	query := "SELECT" + structureColumns + w.String() + orderBy(filter.Orderings, structureOrderings, "s.created_at, s.id")
	if err := repo.bind(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying fee structures")
	}
	structures := make([]fee.FeeStructure, 0, len(rows))
	for _, r := range rows {
		structures = append(structures, r.unboil())
	}
	return structures, nil
}

func (repo *feeRepository) CreateFeeStructure(ctx context.Context, s fee.FeeStructure) (fee.FeeStructure, error) {
	s.ID = uuid.NewString()
	_, err := repo.execute(ctx, `
		INSERT INTO fee_structures (
			id, school_id, school_year_id, fee_category_id, name, grade_level, section_id,
			amount, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.SchoolID, s.SchoolYearID, s.FeeCategoryID, s.Name, nullStr(s.GradeLevel), nullStr(s.SectionID),
		s.Amount, s.IsActive, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if err == fee.ErrStructureExists {
			return fee.FeeStructure{}, err
		}
		return fee.FeeStructure{}, errors.Wrap(err, "inserting fee structure")
	}
	return s, nil
}

func (repo *feeRepository) UpdateFeeStructure(ctx context.Context, s fee.FeeStructure) error {
	n, err := repo.execute(ctx, `
		UPDATE fee_structures SET
			name = $2, grade_level = $3, section_id = $4, amount = $5, is_active = $6, updated_at = $7
		WHERE id = $1`,
		s.ID, s.Name, nullStr(s.GradeLevel), nullStr(s.SectionID), s.Amount, s.IsActive, s.UpdatedAt,
	)
	if err != nil {
		if err == fee.ErrStructureExists {
			return err
		}
		return errors.Wrap(err, "updating fee structure")
	}
	if n == 0 {
		return fee.ErrStructureNotFound
	}
	return nil
}

func (repo *feeRepository) DeleteFeeStructure(ctx context.Context, id string) error {
	n, err := repo.execute(ctx, "DELETE FROM fee_structures WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting fee structure")
	}
	if n == 0 {
		return fee.ErrStructureNotFound
	}
	return nil
}

func (repo *feeRepository) CountLineItems(ctx context.Context, structureID string) (int, error) {
	var res struct {
		Count int `boil:"count"`
	}
	err := repo.bind(ctx, &res, "SELECT COUNT(*) AS count FROM fee_line_items WHERE fee_structure_id = $1", structureID)
	return res.Count, errors.Wrap(err, "counting line items")
}

func (repo *feeRepository) DeactivateFeeStructure(ctx context.Context, id string, at time.Time) error {
	n, err := repo.execute(ctx, "UPDATE fee_structures SET is_active = false, updated_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return errors.Wrap(err, "deactivating fee structure")
	}
	if n == 0 {
		return fee.ErrStructureNotFound
	}
	return nil
}

// payment plans

func (repo *feeRepository) GetPaymentPlan(ctx context.Context, id, schoolYearID string) (fee.PaymentPlan, error) {
	w := new(where)
	w.add("id = ?", id)
	if schoolYearID != "" {
		w.add("school_year_id = ?", schoolYearID)
	}
	var row planRow
	if err := repo.bind(ctx, &row, "SELECT * FROM payment_plans"+w.String(), w.args...); err != nil {
		return fee.PaymentPlan{}, trapNoRowsErr(err, fee.ErrPlanNotFound, "fetching payment plan")
	}
	plan, err := row.unboil()
	return plan, errors.Wrap(err, "decoding installment schedule")
}

func (repo *feeRepository) QueryPaymentPlans(ctx context.Context, filter fee.PlanFilter) ([]fee.PaymentPlan, error) {
	w := new(where)
	if filter.SchoolID != "" {
		w.add("school_id = ?", filter.SchoolID)
	}
	if filter.SchoolYearID != "" {
		w.add("school_year_id = ?", filter.SchoolYearID)
	}
	if filter.Code != "" {
		w.add("code = ?", filter.Code)
	}
	if filter.ActiveOnly {
		w.raw("is_active")
	}

	var rows []planRow
	query := "SELECT * FROM payment_plans" + w.String() + orderBy(filter.Orderings, planOrderings, "id")
	if err := repo.bind(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying payment plans")
	}
	plans := make([]fee.PaymentPlan, 0, len(rows))
	for _, r := range rows {
		p, err := r.unboil()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding installment schedule of plan %s", r.Code)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (repo *feeRepository) CreatePaymentPlan(ctx context.Context, p fee.PaymentPlan) (fee.PaymentPlan, error) {
	schedule, err := scheduleJSON(p.InstallmentSchedule)
	if err != nil {
		return fee.PaymentPlan{}, errors.Wrap(err, "encoding installment schedule")
	}

	p.ID = uuid.NewString()
	_, err = repo.execute(ctx, `
		INSERT INTO payment_plans (
			id, school_id, school_year_id, name, code, description, number_of_installments,
			installment_schedule, discount_percentage, discount_deadline, late_fee_type, late_fee_amount,
			late_fee_percentage, grace_period_days, sort_order, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.SchoolID, p.SchoolYearID, p.Name, p.Code, nullStr(p.Description), p.NumberOfInstallments,
		schedule, p.DiscountPercentage, nullTime(p.DiscountDeadline), nullStr(p.LateFeeType), p.LateFeeAmount,
		p.LateFeePercentage, p.GracePeriodDays, p.SortOrder, p.IsActive, p.CreatedAt,
	)
	if err != nil {
		if err == fee.ErrPlanCodeExists {
			return fee.PaymentPlan{}, err
		}
		return fee.PaymentPlan{}, errors.Wrap(err, "inserting payment plan")
	}
	return p, nil
}

func (repo *feeRepository) UpdatePaymentPlan(ctx context.Context, p fee.PaymentPlan) error {
	schedule, err := scheduleJSON(p.InstallmentSchedule)
	if err != nil {
		return errors.Wrap(err, "encoding installment schedule")
	}

	n, err := repo.execute(ctx, `
		UPDATE payment_plans SET
			name = $2, code = $3, description = $4, number_of_installments = $5, installment_schedule = $6,
			discount_percentage = $7, discount_deadline = $8, late_fee_type = $9, late_fee_amount = $10,
			late_fee_percentage = $11, grace_period_days = $12, sort_order = $13, is_active = $14
		WHERE id = $1`,
		p.ID, p.Name, p.Code, nullStr(p.Description), p.NumberOfInstallments, schedule,
		p.DiscountPercentage, nullTime(p.DiscountDeadline), nullStr(p.LateFeeType), p.LateFeeAmount,
		p.LateFeePercentage, p.GracePeriodDays, p.SortOrder, p.IsActive,
	)
	if err != nil {
		if err == fee.ErrPlanCodeExists {
			return err
		}
		return errors.Wrap(err, "updating payment plan")
	}
	if n == 0 {
		return fee.ErrPlanNotFound
	}
	return nil
}

func (repo *feeRepository) DeletePaymentPlan(ctx context.Context, id string) error {
	n, err := repo.execute(ctx, "DELETE FROM payment_plans WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting payment plan")
	}
	if n == 0 {
		return fee.ErrPlanNotFound
	}
	return nil
}

// accounts

func (repo *feeRepository) GetAccount(ctx context.Context, id string) (fee.Account, error) {
	var row accountRow
	if err := repo.bind(ctx, &row, "SELECT * FROM student_fee_accounts WHERE id = $1", id); err != nil {
		return fee.Account{}, trapNoRowsErr(err, fee.ErrAccountNotFound, "fetching fee account")
	}
	return row.unboil(), nil
}

func (repo *feeRepository) LockAccount(ctx context.Context, id string) (fee.Account, error) {
	var row accountRow
	if err := repo.bind(ctx, &row, "SELECT * FROM student_fee_accounts WHERE id = $1 FOR UPDATE", id); err != nil {
		return fee.Account{}, trapNoRowsErr(err, fee.ErrAccountNotFound, "locking fee account")
	}
	return row.unboil(), nil
}

func (repo *feeRepository) GetAccountByStudent(ctx context.Context, studentID, schoolYearID string) (fee.Account, error) {
	var row accountRow
	err := repo.bind(ctx, &row,
		"SELECT * FROM student_fee_accounts WHERE student_id = $1 AND school_year_id = $2", studentID, schoolYearID)
	if err != nil {
		return fee.Account{}, trapNoRowsErr(err, fee.ErrAccountNotFound, "fetching fee account")
	}
	return row.unboil(), nil
}

func accountWhere(filter fee.AccountFilter) *where {
	w := new(where)
	if filter.SchoolID != "" {
		w.add("school_id = ?", filter.SchoolID)
	}
	if filter.SchoolYearID != "" {
		w.add("school_year_id = ?", filter.SchoolYearID)
	}
	if filter.GradeLevel != "" {
		w.add("grade_level_at_assessment = ?", filter.GradeLevel)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		w.add("status = ANY(?)", pq.Array(statuses))
	}
	if filter.PaymentPlanID != "" {
		w.add("payment_plan_id = ?", filter.PaymentPlanID)
	}
	if filter.WithBalance {
		w.raw("current_balance > 0")
	}
	if filter.MinBalance != nil {
		w.add("current_balance >= ?", *filter.MinBalance)
	}
	if filter.Search != "" {
		w.add("student_id IN (SELECT id FROM students WHERE full_name ILIKE ?)", "%"+filter.Search+"%")
	}
	return w
}

func (repo *feeRepository) QueryAccounts(ctx context.Context, filter fee.AccountFilter) ([]fee.Account, error) {
	w := accountWhere(filter)
	order := " ORDER BY days_overdue DESC, id"
	if filter.Newest {
		order = " ORDER BY created_at DESC, id"
	}
	query := "SELECT * FROM student_fee_accounts" + w.String() + order
	if filter.Limit > 0 {
		w.args = append(w.args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(w.args))
	}
	if filter.Offset > 0 {
		w.args = append(w.args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(w.args))
	}

	var rows []accountRow
	if err := repo.bind(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying fee accounts")
	}
	accounts := make([]fee.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.unboil())
	}
	return accounts, nil
}

func (repo *feeRepository) CountAccounts(ctx context.Context, filter fee.AccountFilter) (int, error) {
	w := accountWhere(filter)
	var res struct {
		Count int `boil:"count"`
	}
	err := repo.bind(ctx, &res, "SELECT COUNT(*) AS count FROM student_fee_accounts"+w.String(), w.args...)
	return res.Count, errors.Wrap(err, "counting fee accounts")
}

func (repo *feeRepository) CreateAccount(ctx context.Context, a fee.Account) (fee.Account, error) {
	a.ID = uuid.NewString()
	_, err := repo.execute(ctx, `
		INSERT INTO student_fee_accounts (
			id, school_id, student_id, school_year_id, payment_plan_id, grade_level_at_assessment,
			total_assessed, total_discounts, total_paid, current_balance, total_late_fees,
			days_overdue, oldest_overdue_date, status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.SchoolID, a.StudentID, a.SchoolYearID, nullStr(a.PaymentPlanID), a.GradeLevelAtAssessment,
		a.TotalAssessed, a.TotalDiscounts, a.TotalPaid, a.CurrentBalance, a.TotalLateFees,
		a.DaysOverdue, nullTime(a.OldestOverdueDate), string(a.Status), nullStr(a.Notes), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if err == fee.ErrAccountExists {
			return fee.Account{}, err
		}
		return fee.Account{}, errors.Wrap(err, "inserting fee account")
	}
	return a, nil
}

func (repo *feeRepository) UpdateAccount(ctx context.Context, a fee.Account) error {
	n, err := repo.execute(ctx, `
		UPDATE student_fee_accounts SET
			payment_plan_id = $2, total_assessed = $3, total_discounts = $4, total_paid = $5,
			current_balance = $6, total_late_fees = $7, days_overdue = $8, oldest_overdue_date = $9,
			status = $10, notes = $11, updated_at = $12
		WHERE id = $1`,
		a.ID, nullStr(a.PaymentPlanID), a.TotalAssessed, a.TotalDiscounts, a.TotalPaid,
		a.CurrentBalance, a.TotalLateFees, a.DaysOverdue, nullTime(a.OldestOverdueDate),
		string(a.Status), nullStr(a.Notes), a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "updating fee account")
	}
	if n == 0 {
		return fee.ErrAccountNotFound
	}
	return nil
}

// account children

func (repo *feeRepository) CreateLineItems(ctx context.Context, items []fee.LineItem) ([]fee.LineItem, error) {
	created := make([]fee.LineItem, 0, len(items))
	for _, li := range items {
		li.ID = uuid.NewString()
		_, err := repo.execute(ctx, `
			INSERT INTO fee_line_items (
				id, student_fee_account_id, fee_structure_id, fee_category_id, description, amount, quantity, total_amount
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			li.ID, li.AccountID, nullStr(li.FeeStructureID), nullStr(li.FeeCategoryID), li.Description,
			li.Amount, li.Quantity, li.TotalAmount,
		)
		if err != nil {
			return nil, errors.Wrap(err, "inserting line item")
		}
		created = append(created, li)
	}
	return created, nil
}

func (repo *feeRepository) QueryLineItems(ctx context.Context, accountID string) ([]fee.LineItem, error) {
	var rows []lineItemRow
	err := repo.bind(ctx, &rows,
		"SELECT * FROM fee_line_items WHERE student_fee_account_id = $1 ORDER BY description", accountID)
	if err != nil {
		return nil, errors.Wrap(err, "querying line items")
	}
	items := make([]fee.LineItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, fee.LineItem{
			ID:             r.ID,
			AccountID:      r.AccountID,
			FeeStructureID: r.FeeStructureID.String,
			FeeCategoryID:  r.FeeCategoryID.String,
			Description:    r.Description,
			Amount:         r.Amount,
			Quantity:       r.Quantity,
			TotalAmount:    r.TotalAmount,
		})
	}
	return items, nil
}

func (repo *feeRepository) CreateDiscounts(ctx context.Context, discounts []fee.Discount) ([]fee.Discount, error) {
	created := make([]fee.Discount, 0, len(discounts))
	for _, d := range discounts {
		d.ID = uuid.NewString()
		_, err := repo.execute(ctx, `
			INSERT INTO fee_discounts (
				id, student_fee_account_id, discount_type, discount_name, calculation_type,
				percentage, fixed_amount, discount_amount, applied_to
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			d.ID, d.AccountID, string(d.DiscountType), d.DiscountName, string(d.CalculationType),
			nullDecimal(d.Percentage), nullDecimal(d.FixedAmount), d.DiscountAmount, d.AppliedTo,
		)
		if err != nil {
			return nil, errors.Wrap(err, "inserting discount")
		}
		created = append(created, d)
	}
	return created, nil
}

func (repo *feeRepository) QueryDiscounts(ctx context.Context, accountID string) ([]fee.Discount, error) {
	var rows []discountRow
	err := repo.bind(ctx, &rows,
		"SELECT * FROM fee_discounts WHERE student_fee_account_id = $1 ORDER BY discount_name", accountID)
	if err != nil {
		return nil, errors.Wrap(err, "querying discounts")
	}
	discounts := make([]fee.Discount, 0, len(rows))
	for _, r := range rows {
		discounts = append(discounts, r.unboil())
	}
	return discounts, nil
}

func (repo *feeRepository) CreateSchedules(ctx context.Context, schedules []fee.Schedule) ([]fee.Schedule, error) {
	created := make([]fee.Schedule, 0, len(schedules))
	for _, s := range schedules {
		s.ID = uuid.NewString()
		_, err := repo.execute(ctx, `
			INSERT INTO payment_schedules (
				id, student_fee_account_id, installment_number, installment_label, due_date,
				amount_due, amount_paid, late_fee_assessed, status, paid_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.ID, s.AccountID, s.InstallmentNumber, s.Label, s.DueDate,
			s.AmountDue, s.AmountPaid, s.LateFeeAssessed, string(s.Status), nullTime(s.PaidAt),
		)
		if err != nil {
			return nil, errors.Wrap(err, "inserting payment schedule")
		}
		created = append(created, s)
	}
	return created, nil
}

func (repo *feeRepository) QuerySchedules(ctx context.Context, filter fee.ScheduleFilter) ([]fee.Schedule, error) {
	w := new(where)
	if len(filter.AccountIDs) > 0 {
		w.add("student_fee_account_id = ANY(?::uuid[])", pq.Array(filter.AccountIDs))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		w.add("status = ANY(?)", pq.Array(statuses))
	}
	if !filter.DueBefore.IsZero() {
		w.add("due_date < ?", filter.DueBefore)
	}

	var rows []scheduleRow
	query := "SELECT * FROM payment_schedules" + w.String() + " ORDER BY student_fee_account_id, due_date, installment_number"
	if err := repo.bind(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying payment schedules")
	}
	schedules := make([]fee.Schedule, 0, len(rows))
	for _, r := range rows {
		schedules = append(schedules, r.unboil())
	}
	return schedules, nil
}

func (repo *feeRepository) UpdateSchedule(ctx context.Context, s fee.Schedule) error {
	n, err := repo.execute(ctx, `
		UPDATE payment_schedules SET
			amount_paid = $2, late_fee_assessed = $3, status = $4, paid_at = $5
		WHERE id = $1`,
		s.ID, s.AmountPaid, s.LateFeeAssessed, string(s.Status), nullTime(s.PaidAt),
	)
	if err != nil {
		return errors.Wrap(err, "updating payment schedule")
	}
	if n == 0 {
		return fee.ErrScheduleNotFound
	}
	return nil
}

// payments

func (repo *feeRepository) NextReceiptNumber(ctx context.Context, schoolID string, year int) (string, error) {
	var res struct {
		LastValue int64 `boil:"last_value"`
	}
	err := repo.bind(ctx, &res, `
		INSERT INTO receipt_sequences (school_id, year, last_value) VALUES ($1, $2, 1)
		ON CONFLICT (school_id, year) DO UPDATE SET last_value = receipt_sequences.last_value + 1
		RETURNING last_value`, schoolID, year)
	if err != nil {
		return "", errors.Wrap(err, "allocating receipt number")
	}
	return fee.ReceiptNumber(year, res.LastValue), nil
}

func (repo *feeRepository) CreatePayment(ctx context.Context, p fee.Payment) (fee.Payment, error) {
	p.ID = uuid.NewString()
	_, err := repo.execute(ctx, `
		INSERT INTO payments (
			id, school_id, student_fee_account_id, payment_schedule_id, or_number, amount, payment_date,
			payment_method, reference_number, check_number, check_bank, check_date, check_status,
			status, notes, received_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.SchoolID, p.AccountID, nullStr(p.ScheduleID), nullStr(p.ORNumber), p.Amount, p.PaymentDate,
		p.PaymentMethod, nullStr(p.ReferenceNumber), nullStr(p.CheckNumber), nullStr(p.CheckBank),
		nullTime(p.CheckDate), nullStr(p.CheckStatus), string(p.Status), nullStr(p.Notes), nullStr(p.ReceivedBy),
		p.CreatedAt,
	)
	if err != nil {
		return fee.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

func (repo *feeRepository) GetPayment(ctx context.Context, id string) (fee.Payment, error) {
	var row paymentRow
	if err := repo.bind(ctx, &row, "SELECT * FROM payments WHERE id = $1", id); err != nil {
		return fee.Payment{}, trapNoRowsErr(err, fee.ErrPaymentNotFound, "fetching payment")
	}
	return row.unboil(), nil
}

func (repo *feeRepository) UpdatePayment(ctx context.Context, p fee.Payment) error {
	n, err := repo.execute(ctx, `
		UPDATE payments SET check_status = $2, status = $3, notes = $4 WHERE id = $1`,
		p.ID, nullStr(p.CheckStatus), string(p.Status), nullStr(p.Notes),
	)
	if err != nil {
		return errors.Wrap(err, "updating payment")
	}
	if n == 0 {
		return fee.ErrPaymentNotFound
	}
	return nil
}

func (repo *feeRepository) QueryPayments(ctx context.Context, filter fee.PaymentFilter) ([]fee.Payment, error) {
	w := new(where)
	if filter.SchoolID != "" {
		w.add("school_id = ?", filter.SchoolID)
	}
	if len(filter.AccountIDs) > 0 {
		w.add("student_fee_account_id = ANY(?::uuid[])", pq.Array(filter.AccountIDs))
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if !filter.From.IsZero() {
		w.add("payment_date >= ?", filter.From)
	}

	var rows []paymentRow
	query := "SELECT * FROM payments" + w.String() + " ORDER BY payment_date DESC, created_at DESC"
	if err := repo.bind(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	payments := make([]fee.Payment, 0, len(rows))
	for _, r := range rows {
		payments = append(payments, r.unboil())
	}
	return payments, nil
}

func (repo *feeRepository) CreateActivity(ctx context.Context, e fee.ActivityEntry) error {
	oldValue, err := nullJSON(e.OldValue)
	if err != nil {
		return errors.Wrap(err, "encoding old value")
	}
	newValue, err := nullJSON(e.NewValue)
	if err != nil {
		return errors.Wrap(err, "encoding new value")
	}

	_, err = repo.execute(ctx, `
		INSERT INTO fee_account_activity_log (
			id, student_fee_account_id, action, description, related_payment_id, old_value, new_value, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), e.AccountID, e.Action, e.Description, nullStr(e.RelatedPaymentID),
		oldValue, newValue, e.CreatedAt,
	)
	return errors.Wrap(err, "inserting activity")
}
