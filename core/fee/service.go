package fee

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-fees/core"
)

var (
	// errors
	ErrStudentNotFound   = errors.New("student not found")
	ErrAccountNotFound   = errors.New("fee account not found")
	ErrPlanNotFound      = errors.New("payment plan not found")
	ErrStructureNotFound = errors.New("fee structure not found")
	ErrCategoryNotFound  = errors.New("fee category not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrFamilyNotFound    = errors.New("family group not found")
	ErrScheduleNotFound  = errors.New("payment schedule not found")

	ErrAccountExists   = errors.New("student already has a fee account for this school year")
	ErrPlanCodeExists  = errors.New("a payment plan with this code already exists")
	ErrPlansExist      = errors.New("payment plans already exist for this school year")
	ErrStructureExists = errors.New("a fee structure with this combination already exists for this school year")
	ErrCategoryExists  = errors.New("a fee category with this code already exists")

	ErrNoGradeLevel       = errors.New("student grade level is required")
	ErrNoFeeStructures    = errors.New("no fee structures found for this grade level, please set up fee structures first")
	ErrAccountSettled     = errors.New("account is already fully paid")
	ErrNotACheck          = errors.New("this payment is not a check")
	ErrCheckAlreadyUpdate = errors.New("check status already updated")
	ErrBadSchedulePercent = errors.New("installment percentages must add up to 100")
	ErrBadScheduleLength  = errors.New("installment schedule must have number_of_installments entries")
	ErrNothingToUpdate    = errors.New("no fields to update")
	ErrStructureInUse     = errors.New("fee structure is referenced by assessments, deactivate it and create a new one")
)

// NowFunc is the service clock.
var NowFunc = time.Now // mockable

type (
	StructureFilter struct {
		SchoolID      string
		SchoolYearID  string
		FeeCategoryID string
		GradeLevel    string // exact match
		ForGrade      string // grade_level = ForGrade OR grade_level IS NULL
		ActiveOnly    bool
		Orderings     []core.DBOrdering
	}

	CategoryFilter struct {
		SchoolID   string
		Category   Category
		ActiveOnly bool
	}

	PlanFilter struct {
		SchoolID     string
		SchoolYearID string
		Code         string
		ActiveOnly   bool
		Orderings    []core.DBOrdering
	}

	// AccountFilter results are ordered by days overdue, most overdue first, unless Newest is set.
	AccountFilter struct {
		SchoolID      string
		SchoolYearID  string
		GradeLevel    string
		PaymentPlanID string
		Statuses      []AccountStatus
		WithBalance   bool             // current_balance > 0
		MinBalance    *decimal.Decimal // current_balance >= MinBalance
		Search        string           // case-insensitive substring of the student name
		Newest        bool             // order by created_at, latest first
		Limit         int
		Offset        int
	}

	// ScheduleFilter results are ordered by account, due date and installment number.
	ScheduleFilter struct {
		AccountIDs []string
		Statuses   []ScheduleStatus
		DueBefore  time.Time
	}

	// PaymentFilter results are ordered by payment date, latest first.
	PaymentFilter struct {
		SchoolID   string
		AccountIDs []string
		Status     PaymentStatus
		From       time.Time
	}

	// Repository is the record store of the fee domain.
	// Get* methods return the matching Err*NotFound sentinel when nothing matches.
	Repository interface {
		// RunInTx runs fn against a repository bound to a single transaction.
		RunInTx(ctx context.Context, fn func(repo Repository) error) error

		GetStudent(ctx context.Context, id string) (Student, error)
		UpdateStudentStatus(ctx context.Context, id, status string) error
		GetFamilyGroup(ctx context.Context, studentID string) (FamilyGroup, error)
		// CountActiveSiblings counts the active members of the group other than studentID.
		CountActiveSiblings(ctx context.Context, groupID, studentID string) (int, error)
		// QuerySiblingDiscounts returns the active tiers of a school ordered by sibling_order_from.
		QuerySiblingDiscounts(ctx context.Context, schoolID string) ([]SiblingDiscount, error)

		GetFeeCategory(ctx context.Context, id string) (FeeCategory, error)
		// QueryFeeCategories results are ordered by sort_order and name.
		QueryFeeCategories(ctx context.Context, filter CategoryFilter) ([]FeeCategory, error)
		// CreateFeeCategory returns ErrCategoryExists when the code is taken within the school.
		CreateFeeCategory(ctx context.Context, category FeeCategory) (FeeCategory, error)

		GetFeeStructure(ctx context.Context, id string) (FeeStructure, error)
		QueryFeeStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error)
		// CreateFeeStructure and UpdateFeeStructure return ErrStructureExists when another active structure
		// has the same category, grade level and section.
		CreateFeeStructure(ctx context.Context, structure FeeStructure) (FeeStructure, error)
		UpdateFeeStructure(ctx context.Context, structure FeeStructure) error
		DeactivateFeeStructure(ctx context.Context, id string, at time.Time) error
		DeleteFeeStructure(ctx context.Context, id string) error
		// CountLineItems counts the line items assessed from a structure.
		CountLineItems(ctx context.Context, structureID string) (int, error)

		GetPaymentPlan(ctx context.Context, id, schoolYearID string) (PaymentPlan, error)
		QueryPaymentPlans(ctx context.Context, filter PlanFilter) ([]PaymentPlan, error)
		// CreatePaymentPlan returns ErrPlanCodeExists when the code is taken within the school year.
		CreatePaymentPlan(ctx context.Context, plan PaymentPlan) (PaymentPlan, error)
		// UpdatePaymentPlan returns ErrPlanCodeExists when the new code is taken within the school year.
		UpdatePaymentPlan(ctx context.Context, plan PaymentPlan) error
		DeletePaymentPlan(ctx context.Context, id string) error

		GetAccount(ctx context.Context, id string) (Account, error)
		// LockAccount reads an account and holds it until the end of the transaction.
		LockAccount(ctx context.Context, id string) (Account, error)
		GetAccountByStudent(ctx context.Context, studentID, schoolYearID string) (Account, error)
		QueryAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
		CountAccounts(ctx context.Context, filter AccountFilter) (int, error)
		// CreateAccount returns ErrAccountExists when the student already has an account for the school year.
		CreateAccount(ctx context.Context, account Account) (Account, error)
		UpdateAccount(ctx context.Context, account Account) error

		CreateLineItems(ctx context.Context, items []LineItem) ([]LineItem, error)
		QueryLineItems(ctx context.Context, accountID string) ([]LineItem, error)
		CreateDiscounts(ctx context.Context, discounts []Discount) ([]Discount, error)
		QueryDiscounts(ctx context.Context, accountID string) ([]Discount, error)
		CreateSchedules(ctx context.Context, schedules []Schedule) ([]Schedule, error)
		QuerySchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error)
		UpdateSchedule(ctx context.Context, schedule Schedule) error

		// NextReceiptNumber allocates the next official receipt number of a school for a year.
		NextReceiptNumber(ctx context.Context, schoolID string, year int) (string, error)
		CreatePayment(ctx context.Context, payment Payment) (Payment, error)
		GetPayment(ctx context.Context, id string) (Payment, error)
		UpdatePayment(ctx context.Context, payment Payment) error
		QueryPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

		CreateActivity(ctx context.Context, entry ActivityEntry) error
	}

	// Publisher publishes domain events.
	Publisher interface {
		Publish(ctx context.Context, routingKey string, payload interface{}) error
	}

	// StatementWriter renders an account statement document.
	StatementWriter interface {
		ContentType() string
		Extension() string
		WriteStatement(w io.Writer, st Statement) error
	}

	Service struct {
		repo       Repository
		engine     Engine
		mailSvc    core.EmailService
		events     Publisher
		statements StatementWriter
		logger     core.Logger
		currency   string
	}
)

func NewService(
	repo Repository,
	mailSvc core.EmailService,
	events Publisher,
	statements StatementWriter,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		repo:       repo,
		engine:     NewEngine(conf.Fees.DueDateOffsetDays, conf.Fees.InstallmentIntervalDays),
		mailSvc:    mailSvc,
		events:     events,
		statements: statements,
		logger:     logger,
		currency:   conf.Fees.Currency,
	}
}

func (svc *Service) Engine() Engine { return svc.engine }

// notFound turns the sentinel into a core.NotFoundError, wrapping anything else.
func notFound(err error, sentinel error, msg string) error {
	if errors.Cause(err) == sentinel {
		return core.NewNotFoundError(sentinel)
	}
	return errors.Wrap(err, msg)
}

func (svc *Service) publish(ctx context.Context, routingKey string, payload interface{}) {
	if svc.events == nil {
		return
	}
	if err := svc.events.Publish(ctx, routingKey, payload); err != nil {
		svc.logger.Error("publishing "+routingKey, err)
	}
}

func requiredFieldError(field string) error {
	return core.NewValidationError(
		errors.New(field+" is required"),
		core.FieldError{Field: field, Error: "this field is required"},
	)
}

func parseDate(s, field string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, core.NewValidationError(
			errors.Errorf("%s must be a date formatted as YYYY-MM-DD", field),
			core.FieldError{Field: field, Error: "must be a date formatted as YYYY-MM-DD"},
		)
	}
	return t, nil
}

const dateLayout = "2006-01-02"
