package boiledrepos

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/masomo-fees/core/fee"
)

// row types are bound by sqlboiler from raw queries; `boil` tags name the columns.

type studentRow struct {
	ID               string      `boil:"id"`
	SchoolID         string      `boil:"school_id"`
	FullName         string      `boil:"full_name"`
	GradeLevel       null.String `boil:"grade_level"`
	SectionID        null.String `boil:"section_id"`
	SectionName      null.String `boil:"section_name"`
	EnrollmentStatus string      `boil:"enrollment_status"`
	GuardianName     null.String `boil:"guardian_name"`
	GuardianEmail    null.String `boil:"guardian_email"`
	GuardianPhone    null.String `boil:"guardian_phone"`
}

func (r studentRow) unboil() fee.Student {
	return fee.Student{
		ID:               r.ID,
		SchoolID:         r.SchoolID,
		Name:             r.FullName,
		GradeLevel:       r.GradeLevel.String,
		SectionID:        r.SectionID.String,
		SectionName:      r.SectionName.String,
		EnrollmentStatus: r.EnrollmentStatus,
		GuardianName:     r.GuardianName.String,
		GuardianEmail:    r.GuardianEmail.String,
		GuardianPhone:    r.GuardianPhone.String,
	}
}

type familyRow struct {
	ID       string `boil:"id"`
	SchoolID string `boil:"school_id"`
	Name     string `boil:"name"`
}

type siblingDiscountRow struct {
	ID                 string          `boil:"id"`
	SchoolID           string          `boil:"school_id"`
	SiblingOrderFrom   int             `boil:"sibling_order_from"`
	SiblingOrderTo     null.Int        `boil:"sibling_order_to"`
	DiscountType       string          `boil:"discount_type"`
	DiscountPercentage decimal.Decimal `boil:"discount_percentage"`
	DiscountAmount     decimal.Decimal `boil:"discount_amount"`
	IsActive           bool            `boil:"is_active"`
}

func (r siblingDiscountRow) unboil() fee.SiblingDiscount {
	return fee.SiblingDiscount{
		ID:                 r.ID,
		SchoolID:           r.SchoolID,
		SiblingOrderFrom:   r.SiblingOrderFrom,
		SiblingOrderTo:     r.SiblingOrderTo.Ptr(),
		DiscountType:       fee.CalculationType(r.DiscountType),
		DiscountPercentage: r.DiscountPercentage,
		DiscountAmount:     r.DiscountAmount,
		IsActive:           r.IsActive,
	}
}

type categoryRow struct {
	ID          string      `boil:"id"`
	SchoolID    string      `boil:"school_id"`
	Name        string      `boil:"name"`
	Code        string      `boil:"code"`
	Category    string      `boil:"category"`
	Description null.String `boil:"description"`
	IsRequired  bool        `boil:"is_required"`
	SortOrder   int         `boil:"sort_order"`
	IsActive    bool        `boil:"is_active"`
}

func (r categoryRow) unboil() fee.FeeCategory {
	return fee.FeeCategory{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		Name:        r.Name,
		Code:        r.Code,
		Category:    fee.Category(r.Category),
		Description: r.Description.String,
		IsRequired:  r.IsRequired,
		SortOrder:   r.SortOrder,
		IsActive:    r.IsActive,
	}
}

type structureRow struct {
	ID            string          `boil:"id"`
	SchoolID      string          `boil:"school_id"`
	SchoolYearID  string          `boil:"school_year_id"`
	FeeCategoryID string          `boil:"fee_category_id"`
	Name          string          `boil:"name"`
	GradeLevel    null.String     `boil:"grade_level"`
	SectionID     null.String     `boil:"section_id"`
	Category      string          `boil:"category"`
	CategoryName  string          `boil:"category_name"`
	IsRequired    bool            `boil:"is_required"`
	Amount        decimal.Decimal `boil:"amount"`
	IsActive      bool            `boil:"is_active"`
	CreatedAt     time.Time       `boil:"created_at"`
	UpdatedAt     time.Time       `boil:"updated_at"`
}

func (r structureRow) unboil() fee.FeeStructure {
	return fee.FeeStructure{
		ID:            r.ID,
		SchoolID:      r.SchoolID,
		SchoolYearID:  r.SchoolYearID,
		FeeCategoryID: r.FeeCategoryID,
		Name:          r.Name,
		GradeLevel:    r.GradeLevel.String,
		SectionID:     r.SectionID.String,
		Category:      fee.ParseCategory(r.Category),
		CategoryName:  r.CategoryName,
		IsRequired:    r.IsRequired,
		Amount:        r.Amount,
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type planRow struct {
	ID                   string          `boil:"id"`
	SchoolID             string          `boil:"school_id"`
	SchoolYearID         string          `boil:"school_year_id"`
	Name                 string          `boil:"name"`
	Code                 string          `boil:"code"`
	Description          null.String     `boil:"description"`
	NumberOfInstallments int             `boil:"number_of_installments"`
	InstallmentSchedule  types.JSON      `boil:"installment_schedule"`
	DiscountPercentage   decimal.Decimal `boil:"discount_percentage"`
	DiscountDeadline     null.Time       `boil:"discount_deadline"`
	LateFeeType          null.String     `boil:"late_fee_type"`
	LateFeeAmount        decimal.Decimal `boil:"late_fee_amount"`
	LateFeePercentage    decimal.Decimal `boil:"late_fee_percentage"`
	GracePeriodDays      int             `boil:"grace_period_days"`
	SortOrder            int             `boil:"sort_order"`
	IsActive             bool            `boil:"is_active"`
	CreatedAt            time.Time       `boil:"created_at"`
}

func (r planRow) unboil() (fee.PaymentPlan, error) {
	p := fee.PaymentPlan{
		ID:                   r.ID,
		SchoolID:             r.SchoolID,
		SchoolYearID:         r.SchoolYearID,
		Name:                 r.Name,
		Code:                 r.Code,
		Description:          r.Description.String,
		NumberOfInstallments: r.NumberOfInstallments,
		DiscountPercentage:   r.DiscountPercentage,
		DiscountDeadline:     r.DiscountDeadline.Ptr(),
		LateFeeType:          r.LateFeeType.String,
		LateFeeAmount:        r.LateFeeAmount,
		LateFeePercentage:    r.LateFeePercentage,
		GracePeriodDays:      r.GracePeriodDays,
		SortOrder:            r.SortOrder,
		IsActive:             r.IsActive,
		CreatedAt:            r.CreatedAt,
	}
	if len(r.InstallmentSchedule) > 0 {
		if err := r.InstallmentSchedule.Unmarshal(&p.InstallmentSchedule); err != nil {
			return fee.PaymentPlan{}, err
		}
	}
	return p, nil
}

type accountRow struct {
	ID                     string          `boil:"id"`
	SchoolID               string          `boil:"school_id"`
	StudentID              string          `boil:"student_id"`
	SchoolYearID           string          `boil:"school_year_id"`
	PaymentPlanID          null.String     `boil:"payment_plan_id"`
	GradeLevelAtAssessment string          `boil:"grade_level_at_assessment"`
	TotalAssessed          decimal.Decimal `boil:"total_assessed"`
	TotalDiscounts         decimal.Decimal `boil:"total_discounts"`
	TotalPaid              decimal.Decimal `boil:"total_paid"`
	CurrentBalance         decimal.Decimal `boil:"current_balance"`
	TotalLateFees          decimal.Decimal `boil:"total_late_fees"`
	DaysOverdue            int             `boil:"days_overdue"`
	OldestOverdueDate      null.Time       `boil:"oldest_overdue_date"`
	Status                 string          `boil:"status"`
	Notes                  null.String     `boil:"notes"`
	CreatedAt              time.Time       `boil:"created_at"`
	UpdatedAt              time.Time       `boil:"updated_at"`
}

func (r accountRow) unboil() fee.Account {
	return fee.Account{
		ID:                     r.ID,
		SchoolID:               r.SchoolID,
		StudentID:              r.StudentID,
		SchoolYearID:           r.SchoolYearID,
		PaymentPlanID:          r.PaymentPlanID.String,
		GradeLevelAtAssessment: r.GradeLevelAtAssessment,
		TotalAssessed:          r.TotalAssessed,
		TotalDiscounts:         r.TotalDiscounts,
		TotalPaid:              r.TotalPaid,
		CurrentBalance:         r.CurrentBalance,
		TotalLateFees:          r.TotalLateFees,
		DaysOverdue:            r.DaysOverdue,
		OldestOverdueDate:      r.OldestOverdueDate.Ptr(),
		Status:                 fee.AccountStatus(r.Status),
		Notes:                  r.Notes.String,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

type lineItemRow struct {
	ID             string          `boil:"id"`
	AccountID      string          `boil:"student_fee_account_id"`
	FeeStructureID null.String     `boil:"fee_structure_id"`
	FeeCategoryID  null.String     `boil:"fee_category_id"`
	Description    string          `boil:"description"`
	Amount         decimal.Decimal `boil:"amount"`
	Quantity       int             `boil:"quantity"`
	TotalAmount    decimal.Decimal `boil:"total_amount"`
}

type discountRow struct {
	ID              string              `boil:"id"`
	AccountID       string              `boil:"student_fee_account_id"`
	DiscountType    string              `boil:"discount_type"`
	DiscountName    string              `boil:"discount_name"`
	CalculationType string              `boil:"calculation_type"`
	Percentage      decimal.NullDecimal `boil:"percentage"`
	FixedAmount     decimal.NullDecimal `boil:"fixed_amount"`
	DiscountAmount  decimal.Decimal     `boil:"discount_amount"`
	AppliedTo       string              `boil:"applied_to"`
}

func (r discountRow) unboil() fee.Discount {
	d := fee.Discount{
		ID:              r.ID,
		AccountID:       r.AccountID,
		DiscountType:    fee.DiscountType(r.DiscountType),
		DiscountName:    r.DiscountName,
		CalculationType: fee.CalculationType(r.CalculationType),
		DiscountAmount:  r.DiscountAmount,
		AppliedTo:       r.AppliedTo,
	}
	if r.Percentage.Valid {
		d.Percentage = &r.Percentage.Decimal
	}
	if r.FixedAmount.Valid {
		d.FixedAmount = &r.FixedAmount.Decimal
	}
	return d
}

type scheduleRow struct {
	ID                string          `boil:"id"`
	AccountID         string          `boil:"student_fee_account_id"`
	InstallmentNumber int             `boil:"installment_number"`
	Label             string          `boil:"installment_label"`
	DueDate           time.Time       `boil:"due_date"`
	AmountDue         decimal.Decimal `boil:"amount_due"`
	AmountPaid        decimal.Decimal `boil:"amount_paid"`
	LateFeeAssessed   decimal.Decimal `boil:"late_fee_assessed"`
	Status            string          `boil:"status"`
	PaidAt            null.Time       `boil:"paid_at"`
}

func (r scheduleRow) unboil() fee.Schedule {
	return fee.Schedule{
		ID:                r.ID,
		AccountID:         r.AccountID,
		InstallmentNumber: r.InstallmentNumber,
		Label:             r.Label,
		DueDate:           r.DueDate.UTC(),
		AmountDue:         r.AmountDue,
		AmountPaid:        r.AmountPaid,
		LateFeeAssessed:   r.LateFeeAssessed,
		Status:            fee.ScheduleStatus(r.Status),
		PaidAt:            r.PaidAt.Ptr(),
	}
}

type paymentRow struct {
	ID              string          `boil:"id"`
	SchoolID        string          `boil:"school_id"`
	AccountID       string          `boil:"student_fee_account_id"`
	ScheduleID      null.String     `boil:"payment_schedule_id"`
	ORNumber        null.String     `boil:"or_number"`
	Amount          decimal.Decimal `boil:"amount"`
	PaymentDate     time.Time       `boil:"payment_date"`
	PaymentMethod   string          `boil:"payment_method"`
	ReferenceNumber null.String     `boil:"reference_number"`
	CheckNumber     null.String     `boil:"check_number"`
	CheckBank       null.String     `boil:"check_bank"`
	CheckDate       null.Time       `boil:"check_date"`
	CheckStatus     null.String     `boil:"check_status"`
	Status          string          `boil:"status"`
	Notes           null.String     `boil:"notes"`
	ReceivedBy      null.String     `boil:"received_by"`
	CreatedAt       time.Time       `boil:"created_at"`
}

func (r paymentRow) unboil() fee.Payment {
	return fee.Payment{
		ID:              r.ID,
		SchoolID:        r.SchoolID,
		AccountID:       r.AccountID,
		ScheduleID:      r.ScheduleID.String,
		ORNumber:        r.ORNumber.String,
		Amount:          r.Amount,
		PaymentDate:     r.PaymentDate.UTC(),
		PaymentMethod:   r.PaymentMethod,
		ReferenceNumber: r.ReferenceNumber.String,
		CheckNumber:     r.CheckNumber.String,
		CheckBank:       r.CheckBank.String,
		CheckDate:       r.CheckDate.Ptr(),
		CheckStatus:     r.CheckStatus.String,
		Status:          fee.PaymentStatus(r.Status),
		Notes:           r.Notes.String,
		ReceivedBy:      r.ReceivedBy.String,
		CreatedAt:       r.CreatedAt,
	}
}

// nullStr maps "" to NULL.
func nullStr(s string) null.String { return null.NewString(s, s != "") }

func nullTime(t *time.Time) null.Time { return null.TimeFromPtr(t) }

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// nullJSON maps an empty map to NULL.
func nullJSON(v map[string]interface{}) (null.JSON, error) {
	if len(v) == 0 {
		return null.JSON{}, nil
	}
	b, err := json.Marshal(v)
	return null.JSONFrom(b), err
}

func scheduleJSON(tmpl []fee.InstallmentTemplate) (types.JSON, error) {
	if tmpl == nil {
		tmpl = []fee.InstallmentTemplate{}
	}
	var j types.JSON
	err := j.Marshal(tmpl)
	return j, err
}
