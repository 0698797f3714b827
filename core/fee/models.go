package fee

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category buckets a fee structure amount.
type Category string

const (
	CategoryTuition       Category = "tuition"
	CategoryMiscellaneous Category = "miscellaneous"
	CategoryOther         Category = "other_fee"
)

// kinds a fee category may be created with; laboratory and special fees are billed as other fees
const (
	CategoryLaboratory Category = "laboratory"
	CategorySpecial    Category = "special"
)

// ParseCategory maps a stored category to one of the known buckets, defaulting to CategoryOther.
func ParseCategory(s string) Category {
	switch c := Category(s); c {
	case CategoryTuition, CategoryMiscellaneous:
		return c
	default:
		return CategoryOther
	}
}

type DiscountType string

const (
	DiscountPaymentPlan DiscountType = "payment_plan"
	DiscountScholarship DiscountType = "scholarship"
	DiscountSibling     DiscountType = "sibling"
	DiscountCustom      DiscountType = "custom"
)

type CalculationType string

const (
	CalculationPercentage CalculationType = "percentage"
	CalculationFixed      CalculationType = "fixed"
)

const (
	AppliedToTuition = "tuition"
	AppliedToAll     = "all"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountOnHold    AccountStatus = "on_hold"
	AccountSettled   AccountStatus = "settled"
	AccountCancelled AccountStatus = "cancelled"
)

type ScheduleStatus string

const (
	SchedulePending       ScheduleStatus = "pending"
	SchedulePartiallyPaid ScheduleStatus = "partially_paid"
	SchedulePaid          ScheduleStatus = "paid"
	ScheduleOverdue       ScheduleStatus = "overdue"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

const (
	MethodCash             = "cash"
	MethodCheck            = "check"
	MethodBankTransfer     = "bank_transfer"
	MethodBankDeposit      = "bank_deposit"
	MethodInternalTransfer = "internal_transfer"
)

const (
	CheckPending = "pending"
	CheckCleared = "cleared"
	CheckBounced = "bounced"
)

// student enrollment statuses set by this package
const (
	EnrollmentAssessed    = "assessed"
	EnrollmentPartialPaid = "partial_paid"
	EnrollmentFullyPaid   = "fully_paid"
	EnrollmentOnHold      = "on_hold"
	EnrollmentDropped     = "dropped"
)

// activity log actions
const (
	ActionAccountCreated  = "account_created"
	ActionPaymentRecorded = "payment_recorded"
	ActionPaymentFailed   = "payment_failed"
	ActionStatusChanged   = "status_changed"
	ActionAccountUpdated  = "account_updated"
)

const (
	LateFeeFixed      = "fixed"
	LateFeePercentage = "percentage"
	LateFeeBoth       = "both"
)

type (
	Student struct {
		ID               string `json:"id"`
		SchoolID         string `json:"school_id"`
		Name             string `json:"name"`
		GradeLevel       string `json:"grade_level"`
		SectionID        string `json:"section_id,omitempty"`
		SectionName      string `json:"section,omitempty"`
		EnrollmentStatus string `json:"enrollment_status"`
		GuardianName     string `json:"guardian_name,omitempty"`
		GuardianEmail    string `json:"guardian_email,omitempty"`
		GuardianPhone    string `json:"guardian_phone,omitempty"`
	}

	FeeCategory struct {
		ID          string   `json:"id"`
		SchoolID    string   `json:"school_id"`
		Name        string   `json:"name"`
		Code        string   `json:"code"`
		Category    Category `json:"category"`
		Description string   `json:"description,omitempty"`
		IsRequired  bool     `json:"is_required"`
		SortOrder   int      `json:"sort_order"`
		IsActive    bool     `json:"is_active"`
	}

	// FeeStructure is a chargeable item. An empty GradeLevel (SectionID) applies to every grade (section).
	FeeStructure struct {
		ID            string          `json:"id"`
		SchoolID      string          `json:"school_id"`
		SchoolYearID  string          `json:"school_year_id"`
		FeeCategoryID string          `json:"fee_category_id"`
		Name          string          `json:"name"`
		GradeLevel    string          `json:"grade_level,omitempty"`
		SectionID     string          `json:"section_id,omitempty"`
		Category      Category        `json:"category"`
		CategoryName  string          `json:"category_name,omitempty"`
		IsRequired    bool            `json:"is_required"`
		Amount        decimal.Decimal `json:"amount"`
		IsActive      bool            `json:"is_active"`
		CreatedAt     time.Time       `json:"created_at"`
		UpdatedAt     time.Time       `json:"updated_at"`
	}

	InstallmentTemplate struct {
		InstallmentNumber int             `json:"installment_number,omitempty" validate:"gte=0"`
		Label             string          `json:"label,omitempty"`
		Percentage        decimal.Decimal `json:"percentage" validate:"gt=0,lte=100"`
		DueDayOffset      int             `json:"due_day_offset,omitempty" validate:"gte=0"`
	}

	PaymentPlan struct {
		ID                   string                `json:"id"`
		SchoolID             string                `json:"school_id"`
		SchoolYearID         string                `json:"school_year_id"`
		Name                 string                `json:"name"`
		Code                 string                `json:"code"`
		Description          string                `json:"description,omitempty"`
		NumberOfInstallments int                   `json:"number_of_installments"`
		InstallmentSchedule  []InstallmentTemplate `json:"installment_schedule"`
		DiscountPercentage   decimal.Decimal       `json:"discount_percentage"`
		DiscountDeadline     *time.Time            `json:"discount_deadline,omitempty"`
		LateFeeType          string                `json:"late_fee_type,omitempty"`
		LateFeeAmount        decimal.Decimal       `json:"late_fee_amount"`
		LateFeePercentage    decimal.Decimal       `json:"late_fee_percentage"`
		GracePeriodDays      int                   `json:"grace_period_days"`
		SortOrder            int                   `json:"sort_order"`
		IsActive             bool                  `json:"is_active"`
		CreatedAt            time.Time             `json:"created_at"`
	}

	Account struct {
		ID                     string          `json:"id"`
		SchoolID               string          `json:"school_id"`
		StudentID              string          `json:"student_id"`
		SchoolYearID           string          `json:"school_year_id"`
		PaymentPlanID          string          `json:"payment_plan_id"`
		GradeLevelAtAssessment string          `json:"grade_level_at_assessment"`
		TotalAssessed          decimal.Decimal `json:"total_assessed"`
		TotalDiscounts         decimal.Decimal `json:"total_discounts"`
		TotalPaid              decimal.Decimal `json:"total_paid"`
		CurrentBalance         decimal.Decimal `json:"current_balance"`
		TotalLateFees          decimal.Decimal `json:"total_late_fees"`
		DaysOverdue            int             `json:"days_overdue"`
		OldestOverdueDate      *time.Time      `json:"oldest_overdue_date,omitempty"`
		Status                 AccountStatus   `json:"status"`
		Notes                  string          `json:"notes,omitempty"`
		CreatedAt              time.Time       `json:"created_at"`
		UpdatedAt              time.Time       `json:"updated_at"`
	}

	LineItem struct {
		ID             string          `json:"id,omitempty"`
		AccountID      string          `json:"student_fee_account_id,omitempty"`
		FeeStructureID string          `json:"fee_structure_id"`
		FeeCategoryID  string          `json:"fee_category_id"`
		Description    string          `json:"description"`
		Amount         decimal.Decimal `json:"amount"`
		Quantity       int             `json:"quantity"`
		TotalAmount    decimal.Decimal `json:"total_amount"`
	}

	Discount struct {
		ID              string           `json:"id,omitempty"`
		AccountID       string           `json:"student_fee_account_id,omitempty"`
		DiscountType    DiscountType     `json:"discount_type"`
		DiscountName    string           `json:"discount_name"`
		CalculationType CalculationType  `json:"calculation_type"`
		Percentage      *decimal.Decimal `json:"percentage,omitempty"`
		FixedAmount     *decimal.Decimal `json:"fixed_amount,omitempty"`
		DiscountAmount  decimal.Decimal  `json:"discount_amount"`
		AppliedTo       string           `json:"applied_to"`
	}

	Schedule struct {
		ID                string          `json:"id,omitempty"`
		AccountID         string          `json:"student_fee_account_id,omitempty"`
		InstallmentNumber int             `json:"installment_number"`
		Label             string          `json:"installment_label"`
		DueDate           time.Time       `json:"due_date"`
		AmountDue         decimal.Decimal `json:"amount_due"`
		AmountPaid        decimal.Decimal `json:"amount_paid"`
		LateFeeAssessed   decimal.Decimal `json:"late_fee_assessed"`
		Status            ScheduleStatus  `json:"status"`
		PaidAt            *time.Time      `json:"paid_at,omitempty"`
	}

	SiblingDiscount struct {
		ID                 string          `json:"id"`
		SchoolID           string          `json:"school_id"`
		SiblingOrderFrom   int             `json:"sibling_order_from"`
		SiblingOrderTo     *int            `json:"sibling_order_to,omitempty"` // nil: open-ended
		DiscountType       CalculationType `json:"discount_type"`
		DiscountPercentage decimal.Decimal `json:"discount_percentage"`
		DiscountAmount     decimal.Decimal `json:"discount_amount"`
		IsActive           bool            `json:"is_active"`
	}

	FamilyGroup struct {
		ID       string `json:"id"`
		SchoolID string `json:"school_id"`
		Name     string `json:"name"`
	}

	Payment struct {
		ID              string          `json:"id"`
		SchoolID        string          `json:"school_id"`
		AccountID       string          `json:"student_fee_account_id"`
		ScheduleID      string          `json:"payment_schedule_id,omitempty"`
		ORNumber        string          `json:"or_number,omitempty"`
		Amount          decimal.Decimal `json:"amount"`
		PaymentDate     time.Time       `json:"payment_date"`
		PaymentMethod   string          `json:"payment_method"`
		ReferenceNumber string          `json:"reference_number,omitempty"`
		CheckNumber     string          `json:"check_number,omitempty"`
		CheckBank       string          `json:"check_bank,omitempty"`
		CheckDate       *time.Time      `json:"check_date,omitempty"`
		CheckStatus     string          `json:"check_status,omitempty"`
		Status          PaymentStatus   `json:"status"`
		Notes           string          `json:"notes,omitempty"`
		ReceivedBy      string          `json:"received_by,omitempty"`
		CreatedAt       time.Time       `json:"created_at"`
	}

	ActivityEntry struct {
		ID               string                 `json:"id"`
		AccountID        string                 `json:"student_fee_account_id"`
		Action           string                 `json:"action"`
		Description      string                 `json:"description"`
		RelatedPaymentID string                 `json:"related_payment_id,omitempty"`
		OldValue         map[string]interface{} `json:"old_value,omitempty"`
		NewValue         map[string]interface{} `json:"new_value,omitempty"`
		CreatedAt        time.Time              `json:"created_at"`
	}
)

// AppliesToGrade reports whether the structure is charged to students of gradeLevel.
func (s FeeStructure) AppliesToGrade(gradeLevel string) bool {
	return s.GradeLevel == "" || s.GradeLevel == gradeLevel
}

// AppliesToSection reports whether the structure is charged to students of sectionID.
// Students without a section get every structure.
func (s FeeStructure) AppliesToSection(sectionID string) bool {
	return sectionID == "" || s.SectionID == "" || s.SectionID == sectionID
}

// IsOpen reports whether the installment still expects money.
func (s Schedule) IsOpen() bool {
	switch s.Status {
	case SchedulePending, SchedulePartiallyPaid, ScheduleOverdue:
		return true
	default:
		return false
	}
}

// Remaining is what is left to pay on the installment.
func (s Schedule) Remaining() decimal.Decimal {
	return decimal.Max(decimal.Zero, s.AmountDue.Sub(s.AmountPaid))
}
