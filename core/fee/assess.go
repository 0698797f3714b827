package fee

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-fees/core"
)

const (
	EventFeeAssessed     = "fee.assessed"
	EventPaymentRecorded = "payment.recorded"

	statementTemplate    = "fee_statement"
	existingAccountIDKey = "existing_account_id"
)

type (
	AssessRequest struct {
		StudentID             string           `json:"student_id" validate:"required"`
		SchoolID              string           `json:"school_id" validate:"required"`
		SchoolYearID          string           `json:"school_year_id" validate:"required"`
		PaymentPlanID         string           `json:"payment_plan_id" validate:"required"`
		GradeLevel            string           `json:"grade_level,omitempty"`
		SectionID             string           `json:"section_id,omitempty"`
		ScholarshipType       string           `json:"scholarship_type,omitempty"`
		ScholarshipPercentage decimal.Decimal  `json:"scholarship_percentage" validate:"gte=0,lte=100"`
		ScholarshipAmount     decimal.Decimal  `json:"scholarship_amount" validate:"gte=0"`
		CustomDiscounts       []CustomDiscount `json:"custom_discounts,omitempty" validate:"omitempty,dive"`
		CarryForwardBalance   decimal.Decimal  `json:"carry_forward_balance"`
		FirstDueDate          string           `json:"first_due_date,omitempty" validate:"omitempty,date"`
		Notes                 string           `json:"notes,omitempty"`
	}

	AccountSummary struct {
		ID             string          `json:"id"`
		TotalAssessed  decimal.Decimal `json:"total_assessed"`
		TotalDiscounts decimal.Decimal `json:"total_discounts"`
		NetAmount      decimal.Decimal `json:"net_amount"`
		PaymentPlan    string          `json:"payment_plan"`
		Installments   int             `json:"installments"`
	}

	AssessResult struct {
		FeeAccount       AccountSummary `json:"fee_account"`
		LineItems        []LineItem     `json:"line_items"`
		Discounts        []Discount     `json:"discounts"`
		PaymentSchedules []Schedule     `json:"payment_schedules"`
	}

	FeeAssessedEvent struct {
		AccountID      string          `json:"account_id"`
		SchoolID       string          `json:"school_id"`
		SchoolYearID   string          `json:"school_year_id"`
		StudentID      string          `json:"student_id"`
		PaymentPlan    string          `json:"payment_plan"`
		TotalAssessed  decimal.Decimal `json:"total_assessed"`
		TotalDiscounts decimal.Decimal `json:"total_discounts"`
		NetAmount      decimal.Decimal `json:"net_amount"`
		Installments   int             `json:"installments"`
		AssessedAt     time.Time       `json:"assessed_at"`
	}
)

func (r AssessRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r AssessRequest) checkRequired() error {
	for _, f := range []struct{ name, value string }{
		{"student_id", r.StudentID},
		{"school_id", r.SchoolID},
		{"school_year_id", r.SchoolYearID},
		{"payment_plan_id", r.PaymentPlanID},
	} {
		if core.CleanString(f.value) == "" {
			return requiredFieldError(f.name)
		}
	}
	return nil
}

// Assess creates the fee account of a student for a school year, with its line items, discounts and installments.
// Everything is written in one transaction: on error nothing is persisted.
func (svc *Service) Assess(ctx context.Context, req AssessRequest) (AssessResult, error) {
	if err := req.checkRequired(); err != nil {
		return AssessResult{}, err
	}
	firstDue, err := parseDate(req.FirstDueDate, "first_due_date")
	if err != nil {
		return AssessResult{}, err
	}

	student, err := svc.repo.GetStudent(ctx, req.StudentID)
	if err != nil {
		return AssessResult{}, notFound(err, ErrStudentNotFound, "getting student")
	}

	gradeLevel := coalesce(req.GradeLevel, student.GradeLevel)
	sectionID := coalesce(req.SectionID, student.SectionID)
	if gradeLevel == "" {
		return AssessResult{}, core.NewValidationError(
			ErrNoGradeLevel, core.FieldError{Field: "grade_level", Error: ErrNoGradeLevel.Error()},
		)
	}

	if err = svc.checkNotAssessed(ctx, svc.repo, req.StudentID, req.SchoolYearID); err != nil {
		return AssessResult{}, err
	}

	plan, err := svc.repo.GetPaymentPlan(ctx, req.PaymentPlanID, req.SchoolYearID)
	if err != nil {
		return AssessResult{}, notFound(err, ErrPlanNotFound, "getting payment plan")
	}

	structures, err := svc.applicableStructures(ctx, req.SchoolID, req.SchoolYearID, gradeLevel, sectionID)
	if err != nil {
		return AssessResult{}, err
	}
	if len(structures) == 0 {
		return AssessResult{}, core.NewValidationError(ErrNoFeeStructures)
	}

	siblingOrder, tiers, err := svc.siblingTiers(ctx, student)
	if err != nil {
		return AssessResult{}, err
	}

	now := NowFunc().UTC()
	a := svc.engine.Compute(AssessmentInput{
		Structures: structures,
		Plan:       plan,
		Scholarship: Scholarship{
			Type:       req.ScholarshipType,
			Percentage: req.ScholarshipPercentage,
			Amount:     req.ScholarshipAmount,
		},
		SiblingOrder:    siblingOrder,
		SiblingTiers:    tiers,
		CustomDiscounts: req.CustomDiscounts,
		CarryForward:    req.CarryForwardBalance,
		FirstDueDate:    firstDue,
		Now:             now,
	})
	if total := PercentageTotal(plan.InstallmentSchedule); !total.Equal(hundred) {
		svc.logger.Warn(
			fmt.Sprintf("payment plan %q installments add up to %s%%", plan.Name, total.String()),
			map[string]interface{}{"payment_plan_id": plan.ID, "student_id": student.ID},
		)
	}

	account := Account{
		SchoolID:               req.SchoolID,
		StudentID:              req.StudentID,
		SchoolYearID:           req.SchoolYearID,
		PaymentPlanID:          plan.ID,
		GradeLevelAtAssessment: gradeLevel,
		TotalAssessed:          a.TotalAssessed,
		TotalDiscounts:         a.TotalDiscounts,
		TotalPaid:              decimal.Zero,
		CurrentBalance:         a.NetAssessed,
		TotalLateFees:          decimal.Zero,
		Status:                 AccountActive,
		Notes:                  req.Notes,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err = svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if account, err = repo.CreateAccount(ctx, account); err != nil {
			return errors.Wrap(err, "creating fee account")
		}

		for i := range a.LineItems {
			a.LineItems[i].AccountID = account.ID
		}
		if a.LineItems, err = repo.CreateLineItems(ctx, a.LineItems); err != nil {
			return errors.Wrap(err, "creating fee line items")
		}

		if len(a.Discounts) > 0 {
			for i := range a.Discounts {
				a.Discounts[i].AccountID = account.ID
			}
			if a.Discounts, err = repo.CreateDiscounts(ctx, a.Discounts); err != nil {
				return errors.Wrap(err, "creating fee discounts")
			}
		}

		if len(a.Schedules) > 0 {
			for i := range a.Schedules {
				a.Schedules[i].AccountID = account.ID
			}
			if a.Schedules, err = repo.CreateSchedules(ctx, a.Schedules); err != nil {
				return errors.Wrap(err, "creating payment schedules")
			}
		}

		if err = repo.UpdateStudentStatus(ctx, student.ID, EnrollmentAssessed); err != nil {
			return errors.Wrap(err, "updating student status")
		}

		return errors.Wrap(repo.CreateActivity(ctx, ActivityEntry{
			AccountID: account.ID,
			Action:    ActionAccountCreated,
			Description: fmt.Sprintf(
				"Fee account created with %s. Total: %s, Discounts: %s, Net: %s",
				plan.Name,
				FormatMoney(svc.currency, a.TotalAssessed),
				FormatMoney(svc.currency, a.TotalDiscounts),
				FormatMoney(svc.currency, a.NetAssessed),
			),
			NewValue: map[string]interface{}{
				"total_assessed":     a.TotalAssessed,
				"total_discounts":    a.TotalDiscounts,
				"net_amount":         a.NetAssessed,
				"payment_plan":       plan.Name,
				"line_items_count":   len(a.LineItems),
				"installments_count": len(a.Schedules),
			},
			CreatedAt: now,
		}), "logging activity")
	})
	if err != nil {
		// lost a race against a concurrent assessment of the same student
		if errors.Cause(err) == ErrAccountExists {
			if cErr := svc.checkNotAssessed(ctx, svc.repo, req.StudentID, req.SchoolYearID); cErr != nil {
				return AssessResult{}, cErr
			}
			return AssessResult{}, core.NewConflictError(ErrAccountExists, nil)
		}
		return AssessResult{}, err
	}

	result := AssessResult{
		FeeAccount: AccountSummary{
			ID:             account.ID,
			TotalAssessed:  a.TotalAssessed,
			TotalDiscounts: a.TotalDiscounts,
			NetAmount:      a.NetAssessed,
			PaymentPlan:    plan.Name,
			Installments:   len(a.Schedules),
		},
		LineItems:        a.LineItems,
		Discounts:        a.Discounts,
		PaymentSchedules: a.Schedules,
	}

	svc.publish(ctx, EventFeeAssessed, FeeAssessedEvent{
		AccountID:      account.ID,
		SchoolID:       account.SchoolID,
		SchoolYearID:   account.SchoolYearID,
		StudentID:      account.StudentID,
		PaymentPlan:    plan.Name,
		TotalAssessed:  a.TotalAssessed,
		TotalDiscounts: a.TotalDiscounts,
		NetAmount:      a.NetAssessed,
		Installments:   len(a.Schedules),
		AssessedAt:     now,
	})
	svc.sendStatement(student, AccountDetails{
		Account:   account,
		Student:   student,
		Plan:      plan,
		LineItems: a.LineItems,
		Discounts: a.Discounts,
		Schedules: a.Schedules,
	})

	return result, nil
}

// checkNotAssessed returns a core.ConflictError holding the existing account id, if any.
func (svc *Service) checkNotAssessed(ctx context.Context, repo Repository, studentID, schoolYearID string) error {
	existing, err := repo.GetAccountByStudent(ctx, studentID, schoolYearID)
	switch {
	case err == nil:
		return core.NewConflictError(ErrAccountExists, map[string]interface{}{existingAccountIDKey: existing.ID})
	case errors.Cause(err) == ErrAccountNotFound:
		return nil
	default:
		return errors.Wrap(err, "checking existing fee account")
	}
}

func (svc *Service) applicableStructures(ctx context.Context, schoolID, schoolYearID, gradeLevel, sectionID string) ([]FeeStructure, error) {
	structures, err := svc.repo.QueryFeeStructures(ctx, StructureFilter{
		SchoolID:     schoolID,
		SchoolYearID: schoolYearID,
		ForGrade:     gradeLevel,
		ActiveOnly:   true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying fee structures")
	}
	return FilterBySection(structures, sectionID), nil
}

// siblingTiers returns the sibling order of the student and the tiers of its school.
// A student outside any family group has order 0.
func (svc *Service) siblingTiers(ctx context.Context, student Student) (int, []SiblingDiscount, error) {
	group, err := svc.repo.GetFamilyGroup(ctx, student.ID)
	if err != nil {
		if errors.Cause(err) == ErrFamilyNotFound {
			return 0, nil, nil
		}
		return 0, nil, errors.Wrap(err, "getting family group")
	}

	siblings, err := svc.repo.CountActiveSiblings(ctx, group.ID, student.ID)
	if err != nil {
		return 0, nil, errors.Wrap(err, "counting siblings")
	}

	schoolID := coalesce(group.SchoolID, student.SchoolID)
	tiers, err := svc.repo.QuerySiblingDiscounts(ctx, schoolID)
	if err != nil {
		return 0, nil, errors.Wrap(err, "querying sibling discounts")
	}
	return SiblingOrder(siblings), tiers, nil
}

// sendStatement emails the fee statement to the guardian, with the statement document attached.
func (svc *Service) sendStatement(student Student, details AccountDetails) {
	if svc.mailSvc == nil || student.GuardianEmail == "" {
		return
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: student.GuardianName, Address: student.GuardianEmail}},
		Subject:      "Fee assessment for " + student.Name,
		TemplateName: statementTemplate,
		TemplateData: svc.statementData(details),
	}
	if svc.statements != nil {
		var buf bytes.Buffer
		st := Statement{AccountDetails: details, Currency: svc.currency, GeneratedAt: NowFunc().UTC()}
		if err := svc.statements.WriteStatement(&buf, st); err != nil {
			svc.logger.Error("writing fee statement", err)
		} else if err = msg.Attach(&buf, "statement"+svc.statements.Extension(), svc.statements.ContentType()); err != nil {
			svc.logger.Error("attaching fee statement", err)
		}
	}
	svc.mailSvc.SendMessages(msg)
}

type statementLine struct {
	Label  string
	Amount string
}

type statementData struct {
	StudentName  string
	GuardianName string
	PaymentPlan  string
	Total        string
	Discounts    string
	Net          string
	LineItems    []statementLine
	Installments []statementLine
}

func (svc *Service) statementData(d AccountDetails) statementData {
	data := statementData{
		StudentName:  d.Student.Name,
		GuardianName: d.Student.GuardianName,
		PaymentPlan:  d.Plan.Name,
		Total:        FormatMoney(svc.currency, d.Account.TotalAssessed),
		Discounts:    FormatMoney(svc.currency, d.Account.TotalDiscounts),
		Net:          FormatMoney(svc.currency, d.Account.CurrentBalance),
	}
	for _, li := range d.LineItems {
		data.LineItems = append(data.LineItems, statementLine{Label: li.Description, Amount: FormatMoney(svc.currency, li.TotalAmount)})
	}
	for _, s := range d.Schedules {
		data.Installments = append(data.Installments, statementLine{
			Label:  fmt.Sprintf("%s (due %s)", s.Label, s.DueDate.Format(dateLayout)),
			Amount: FormatMoney(svc.currency, s.AmountDue),
		})
	}
	return data
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = core.CleanString(v); v != "" {
			return v
		}
	}
	return ""
}
