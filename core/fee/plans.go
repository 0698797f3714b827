package fee

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-fees/core"
)

type (
	NewPaymentPlan struct {
		SchoolID             string                `json:"school_id" validate:"required"`
		SchoolYearID         string                `json:"school_year_id" validate:"required"`
		Name                 string                `json:"name" validate:"required"`
		Code                 string                `json:"code,omitempty" validate:"omitempty,alphanum_"`
		Description          string                `json:"description,omitempty"`
		NumberOfInstallments int                   `json:"number_of_installments" validate:"required,min=1,max=12"`
		InstallmentSchedule  []InstallmentTemplate `json:"installment_schedule,omitempty" validate:"omitempty,dive"`
		DiscountPercentage   decimal.Decimal       `json:"discount_percentage" validate:"gte=0,lte=100"`
		DiscountDeadline     string                `json:"discount_deadline,omitempty" validate:"omitempty,date"`
		LateFeeType          string                `json:"late_fee_type,omitempty" validate:"omitempty,oneof=fixed percentage both"`
		LateFeeAmount        decimal.Decimal       `json:"late_fee_amount" validate:"gte=0"`
		LateFeePercentage    decimal.Decimal       `json:"late_fee_percentage" validate:"gte=0,lte=100"`
		GracePeriodDays      int                   `json:"grace_period_days" validate:"gte=0"`
		SortOrder            int                   `json:"sort_order"`
	}

	DefaultPlansRequest struct {
		SchoolID     string `json:"school_id" validate:"required"`
		SchoolYearID string `json:"school_year_id" validate:"required"`
	}

	PlanListRequest struct {
		SchoolID     string `query:"school_id"`
		SchoolYearID string `query:"school_year_id"`
		ActiveOnly   bool   `query:"active_only"`

		Orderings []core.DBOrdering `query:"-"` // sort_order, name
	}
)

func (p NewPaymentPlan) Validate(validate *validator.Validate) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if len(p.InstallmentSchedule) == 0 {
		return nil
	}
	if len(p.InstallmentSchedule) != p.NumberOfInstallments {
		return core.NewValidationError(
			ErrBadScheduleLength,
			core.FieldError{Field: "installment_schedule", Error: ErrBadScheduleLength.Error()},
		)
	}
	if !PercentageTotal(p.InstallmentSchedule).Equal(hundred) {
		return core.NewValidationError(
			ErrBadSchedulePercent,
			core.FieldError{Field: "installment_schedule", Error: ErrBadSchedulePercent.Error()},
		)
	}
	return nil
}

func (r DefaultPlansRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

// PlanCode derives a plan code from its installment count and a timestamp in unix milliseconds.
func PlanCode(installments int, unixMilli int64) string {
	return fmt.Sprintf("PLAN-%d-%s", installments, strings.ToUpper(strconv.FormatInt(unixMilli, 36)))
}

func (svc *Service) CreatePaymentPlan(ctx context.Context, data NewPaymentPlan) (PaymentPlan, error) {
	now := NowFunc().UTC()

	deadline, err := parseDate(data.DiscountDeadline, "discount_deadline")
	if err != nil {
		return PaymentPlan{}, err
	}

	schedule := data.InstallmentSchedule
	if len(schedule) == 0 {
		schedule = EvenInstallments(data.NumberOfInstallments, svc.engine.InstallmentIntervalDays)
	}

	code := strings.ToUpper(core.CleanString(data.Code))
	if code == "" {
		code = PlanCode(data.NumberOfInstallments, now.UnixMilli())
	}

	lateFeeType := data.LateFeeType
	if lateFeeType == "" {
		lateFeeType = LateFeeFixed
	}

	plan := PaymentPlan{
		SchoolID:             data.SchoolID,
		SchoolYearID:         data.SchoolYearID,
		Name:                 core.CleanString(data.Name),
		Code:                 code,
		Description:          core.CleanString(data.Description),
		NumberOfInstallments: data.NumberOfInstallments,
		InstallmentSchedule:  schedule,
		DiscountPercentage:   data.DiscountPercentage,
		LateFeeType:          lateFeeType,
		LateFeeAmount:        data.LateFeeAmount,
		LateFeePercentage:    data.LateFeePercentage,
		GracePeriodDays:      data.GracePeriodDays,
		SortOrder:            data.SortOrder,
		IsActive:             true,
		CreatedAt:            now,
	}
	if !deadline.IsZero() {
		plan.DiscountDeadline = &deadline
	}

	plan, err = svc.repo.CreatePaymentPlan(ctx, plan)
	if err != nil {
		if errors.Cause(err) == ErrPlanCodeExists {
			return PaymentPlan{}, core.NewConflictError(ErrPlanCodeExists, nil)
		}
		return PaymentPlan{}, errors.Wrap(err, "creating payment plan")
	}
	return plan, nil
}

func (svc *Service) ListPaymentPlans(ctx context.Context, req PlanListRequest) ([]PaymentPlan, error) {
	if len(req.Orderings) == 0 {
		req.Orderings = []core.DBOrdering{
			{Field: "sort_order", Ascending: true},
			{Field: "name", Ascending: true},
		}
	}
	plans, err := svc.repo.QueryPaymentPlans(ctx, PlanFilter{
		SchoolID:     req.SchoolID,
		SchoolYearID: req.SchoolYearID,
		ActiveOnly:   req.ActiveOnly,
		Orderings:    req.Orderings,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying payment plans")
	}
	return plans, nil
}

// CreateDefaultPaymentPlans seeds a school year with the full, semestral, quarterly and monthly plans.
// It refuses to run once the year has any plan.
func (svc *Service) CreateDefaultPaymentPlans(ctx context.Context, req DefaultPlansRequest) ([]PaymentPlan, error) {
	if req.SchoolID == "" || req.SchoolYearID == "" {
		return nil, core.NewValidationError(errors.New("school_id and school_year_id required"))
	}

	now := NowFunc().UTC()
	created := make([]PaymentPlan, 0, 4)
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		existing, err := repo.QueryPaymentPlans(ctx, PlanFilter{SchoolID: req.SchoolID, SchoolYearID: req.SchoolYearID})
		if err != nil {
			return errors.Wrap(err, "querying payment plans")
		}
		if len(existing) > 0 {
			return core.NewConflictError(ErrPlansExist, nil)
		}

		for _, plan := range DefaultPlans() {
			plan.SchoolID = req.SchoolID
			plan.SchoolYearID = req.SchoolYearID
			plan.CreatedAt = now
			saved, err := repo.CreatePaymentPlan(ctx, plan)
			if err != nil {
				return errors.Wrapf(err, "creating %s payment plan", plan.Code)
			}
			created = append(created, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DefaultPlans returns the stock plans of a school year, without school nor year.
func DefaultPlans() []PaymentPlan {
	monthly := make([]InstallmentTemplate, 0, 10)
	for i := 0; i < 10; i++ {
		monthly = append(monthly, installment(i+1, InstallmentLabel(i+1, 10), 10, i*30))
	}

	return []PaymentPlan{
		{
			Name:                 "Full Payment",
			Code:                 "FULL",
			Description:          "Pay the full amount upfront and receive a 5% early bird discount",
			NumberOfInstallments: 1,
			InstallmentSchedule:  []InstallmentTemplate{installment(1, "Full Payment", 100, 0)},
			DiscountPercentage:   decimal.NewFromInt(5),
			SortOrder:            1,
			IsActive:             true,
		},
		{
			Name:                 "Semestral Plan",
			Code:                 "SEMESTRAL",
			Description:          "Pay in two installments - first and second semester",
			NumberOfInstallments: 2,
			InstallmentSchedule: []InstallmentTemplate{
				installment(1, "First Semester", 50, 0),
				installment(2, "Second Semester", 50, 150),
			},
			LateFeeType:       LateFeePercentage,
			LateFeePercentage: decimal.NewFromInt(2),
			GracePeriodDays:   7,
			SortOrder:         2,
			IsActive:          true,
		},
		{
			Name:                 "Quarterly Plan",
			Code:                 "QUARTERLY",
			Description:          "Pay in four installments - one per quarter",
			NumberOfInstallments: 4,
			InstallmentSchedule: []InstallmentTemplate{
				installment(1, "First Quarter", 25, 0),
				installment(2, "Second Quarter", 25, 75),
				installment(3, "Third Quarter", 25, 150),
				installment(4, "Fourth Quarter", 25, 225),
			},
			LateFeeType:       LateFeePercentage,
			LateFeePercentage: decimal.NewFromInt(2),
			GracePeriodDays:   5,
			SortOrder:         3,
			IsActive:          true,
		},
		{
			Name:                 "Monthly Plan",
			Code:                 "MONTHLY",
			Description:          "Pay in 10 monthly installments throughout the school year",
			NumberOfInstallments: 10,
			InstallmentSchedule:  monthly,
			LateFeeType:          LateFeeFixed,
			LateFeeAmount:        decimal.NewFromInt(100),
			GracePeriodDays:      3,
			SortOrder:            4,
			IsActive:             true,
		},
	}
}

func installment(number int, label string, pct int64, offset int) InstallmentTemplate {
	return InstallmentTemplate{
		InstallmentNumber: number,
		Label:             label,
		Percentage:        decimal.NewFromInt(pct),
		DueDayOffset:      offset,
	}
}

// PlanUpdate changes the fields it sets. A new installment count without a schedule spreads the
// installments evenly.
type PlanUpdate struct {
	Name                 *string               `json:"name,omitempty"`
	Code                 *string               `json:"code,omitempty" validate:"omitempty,alphanum_"`
	Description          *string               `json:"description,omitempty"`
	NumberOfInstallments *int                  `json:"number_of_installments,omitempty" validate:"omitempty,min=1,max=12"`
	InstallmentSchedule  []InstallmentTemplate `json:"installment_schedule,omitempty" validate:"omitempty,dive"`
	DiscountPercentage   *decimal.Decimal      `json:"discount_percentage,omitempty"`
	DiscountDeadline     *string               `json:"discount_deadline,omitempty" validate:"omitempty,date"`
	LateFeeType          *string               `json:"late_fee_type,omitempty" validate:"omitempty,oneof=fixed percentage both"`
	LateFeeAmount        *decimal.Decimal      `json:"late_fee_amount,omitempty"`
	LateFeePercentage    *decimal.Decimal      `json:"late_fee_percentage,omitempty"`
	GracePeriodDays      *int                  `json:"grace_period_days,omitempty" validate:"omitempty,gte=0"`
	SortOrder            *int                  `json:"sort_order,omitempty"`
	IsActive             *bool                 `json:"is_active,omitempty"`
}

func (u PlanUpdate) Validate(validate *validator.Validate) error {
	if err := validate.Struct(u); err != nil {
		return err
	}
	if u.isEmpty() {
		return core.NewValidationError(ErrNothingToUpdate)
	}
	for _, f := range []struct {
		name string
		pct  *decimal.Decimal
	}{
		{"discount_percentage", u.DiscountPercentage},
		{"late_fee_percentage", u.LateFeePercentage},
	} {
		field, pct := f.name, f.pct
		if pct != nil && (pct.IsNegative() || pct.GreaterThan(hundred)) {
			return core.NewValidationError(
				errors.Errorf("%s must be between 0 and 100", field),
				core.FieldError{Field: field, Error: "must be between 0 and 100"},
			)
		}
	}
	if u.LateFeeAmount != nil && u.LateFeeAmount.IsNegative() {
		return core.NewValidationError(
			errors.New("late_fee_amount must be non-negative"),
			core.FieldError{Field: "late_fee_amount", Error: "must be non-negative"},
		)
	}
	if u.Name != nil && core.CleanString(*u.Name) == "" {
		return requiredFieldError("name")
	}
	return nil
}

func (u PlanUpdate) isEmpty() bool {
	return u.Name == nil && u.Code == nil && u.Description == nil && u.NumberOfInstallments == nil &&
		len(u.InstallmentSchedule) == 0 && u.DiscountPercentage == nil && u.DiscountDeadline == nil &&
		u.LateFeeType == nil && u.LateFeeAmount == nil && u.LateFeePercentage == nil &&
		u.GracePeriodDays == nil && u.SortOrder == nil && u.IsActive == nil
}

func (svc *Service) GetPaymentPlan(ctx context.Context, id string) (PaymentPlan, error) {
	plan, err := svc.repo.GetPaymentPlan(ctx, id, "")
	if err != nil {
		return PaymentPlan{}, notFound(err, ErrPlanNotFound, "getting payment plan")
	}
	return plan, nil
}

// UpdatePaymentPlan changes a plan. Accounts already assessed keep their schedules.
func (svc *Service) UpdatePaymentPlan(ctx context.Context, id string, data PlanUpdate) (PaymentPlan, error) {
	var plan PaymentPlan
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if plan, err = repo.GetPaymentPlan(ctx, id, ""); err != nil {
			return notFound(err, ErrPlanNotFound, "getting payment plan")
		}
		if err = svc.applyPlanUpdate(&plan, data); err != nil {
			return err
		}
		if err = repo.UpdatePaymentPlan(ctx, plan); err != nil {
			if errors.Cause(err) == ErrPlanCodeExists {
				return core.NewConflictError(ErrPlanCodeExists, nil)
			}
			return errors.Wrap(err, "updating payment plan")
		}
		return nil
	})
	if err != nil {
		return PaymentPlan{}, err
	}
	return plan, nil
}

func (svc *Service) applyPlanUpdate(p *PaymentPlan, u PlanUpdate) error {
	if u.Name != nil {
		p.Name = core.CleanString(*u.Name)
	}
	if u.Code != nil {
		if code := strings.ToUpper(core.CleanString(*u.Code)); code != "" {
			p.Code = code
		}
	}
	if u.Description != nil {
		p.Description = core.CleanString(*u.Description)
	}
	if u.DiscountPercentage != nil {
		p.DiscountPercentage = *u.DiscountPercentage
	}
	if u.DiscountDeadline != nil {
		deadline, err := parseDate(*u.DiscountDeadline, "discount_deadline")
		if err != nil {
			return err
		}
		p.DiscountDeadline = nil
		if !deadline.IsZero() {
			p.DiscountDeadline = &deadline
		}
	}
	if u.LateFeeType != nil {
		p.LateFeeType = *u.LateFeeType
	}
	if u.LateFeeAmount != nil {
		p.LateFeeAmount = *u.LateFeeAmount
	}
	if u.LateFeePercentage != nil {
		p.LateFeePercentage = *u.LateFeePercentage
	}
	if u.GracePeriodDays != nil {
		p.GracePeriodDays = *u.GracePeriodDays
	}
	if u.SortOrder != nil {
		p.SortOrder = *u.SortOrder
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}

	switch {
	case len(u.InstallmentSchedule) > 0:
		p.InstallmentSchedule = u.InstallmentSchedule
		if u.NumberOfInstallments != nil {
			p.NumberOfInstallments = *u.NumberOfInstallments
		}
	case u.NumberOfInstallments != nil && *u.NumberOfInstallments != p.NumberOfInstallments:
		p.NumberOfInstallments = *u.NumberOfInstallments
		p.InstallmentSchedule = EvenInstallments(p.NumberOfInstallments, svc.engine.InstallmentIntervalDays)
	default:
		// stored schedules are not revalidated
		return nil
	}
	if len(p.InstallmentSchedule) != p.NumberOfInstallments {
		return core.NewValidationError(
			ErrBadScheduleLength,
			core.FieldError{Field: "installment_schedule", Error: ErrBadScheduleLength.Error()},
		)
	}
	if !PercentageTotal(p.InstallmentSchedule).Equal(hundred) {
		return core.NewValidationError(
			ErrBadSchedulePercent,
			core.FieldError{Field: "installment_schedule", Error: ErrBadSchedulePercent.Error()},
		)
	}
	return nil
}

// DeletePaymentPlan removes a plan no account uses, and deactivates it otherwise.
func (svc *Service) DeletePaymentPlan(ctx context.Context, id string) (DeleteResult, error) {
	var res DeleteResult
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		plan, err := repo.GetPaymentPlan(ctx, id, "")
		if err != nil {
			return notFound(err, ErrPlanNotFound, "getting payment plan")
		}
		n, err := repo.CountAccounts(ctx, AccountFilter{PaymentPlanID: id})
		if err != nil {
			return errors.Wrap(err, "counting fee accounts")
		}
		if n > 0 {
			plan.IsActive = false
			res = DeleteResult{Deactivated: true, Message: fmt.Sprintf("Payment plan deactivated (used by %d student accounts)", n)}
			return errors.Wrap(repo.UpdatePaymentPlan(ctx, plan), "deactivating payment plan")
		}
		res = DeleteResult{Deleted: true, Message: "Payment plan deleted"}
		return errors.Wrap(repo.DeletePaymentPlan(ctx, id), "deleting payment plan")
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return res, nil
}
