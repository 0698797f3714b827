package fee

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-fees/core"
)

type (
	// AccountDetails is a fee account with everything hanging off it.
	AccountDetails struct {
		Account   Account     `json:"fee_account"`
		Student   Student     `json:"student"`
		Plan      PaymentPlan `json:"payment_plan"`
		LineItems []LineItem  `json:"line_items"`
		Discounts []Discount  `json:"discounts"`
		Schedules []Schedule  `json:"payment_schedules"`
		Payments  []Payment   `json:"payments"`
	}

	// Statement is what a StatementWriter renders.
	Statement struct {
		AccountDetails
		Currency    string
		GeneratedAt time.Time
	}
)

func (svc *Service) GetAccount(ctx context.Context, id string) (AccountDetails, error) {
	if id == "" {
		return AccountDetails{}, requiredFieldError("id")
	}
	account, err := svc.repo.GetAccount(ctx, id)
	if err != nil {
		return AccountDetails{}, notFound(err, ErrAccountNotFound, "getting fee account")
	}

	d := AccountDetails{Account: account}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Student, err = svc.repo.GetStudent(gctx, account.StudentID)
		return errors.Wrap(err, "getting student")
	})
	g.Go(func() (err error) {
		d.Plan, err = svc.repo.GetPaymentPlan(gctx, account.PaymentPlanID, account.SchoolYearID)
		if errors.Cause(err) == ErrPlanNotFound {
			// the plan may have been moved to another year since
			return nil
		}
		return errors.Wrap(err, "getting payment plan")
	})
	g.Go(func() (err error) {
		d.LineItems, err = svc.repo.QueryLineItems(gctx, account.ID)
		return errors.Wrap(err, "querying line items")
	})
	g.Go(func() (err error) {
		d.Discounts, err = svc.repo.QueryDiscounts(gctx, account.ID)
		return errors.Wrap(err, "querying discounts")
	})
	g.Go(func() (err error) {
		d.Schedules, err = svc.repo.QuerySchedules(gctx, ScheduleFilter{AccountIDs: []string{account.ID}})
		return errors.Wrap(err, "querying payment schedules")
	})
	g.Go(func() (err error) {
		d.Payments, err = svc.repo.QueryPayments(gctx, PaymentFilter{AccountIDs: []string{account.ID}})
		return errors.Wrap(err, "querying payments")
	})
	if err = g.Wait(); err != nil {
		return AccountDetails{}, err
	}
	return d, nil
}

// ExportStatement renders the statement of an account into w.
func (svc *Service) ExportStatement(ctx context.Context, id string, w io.Writer) error {
	if svc.statements == nil {
		return errors.New("no statement writer configured")
	}
	d, err := svc.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	st := Statement{AccountDetails: d, Currency: svc.currency, GeneratedAt: NowFunc().UTC()}
	return errors.Wrap(svc.statements.WriteStatement(w, st), "writing fee statement")
}

// StatementFormat returns the content type and file extension of exported statements.
func (svc *Service) StatementFormat() (contentType, ext string) {
	if svc.statements == nil {
		return "", ""
	}
	return svc.statements.ContentType(), svc.statements.Extension()
}

const (
	defaultAccountPage = 50
	maxAccountPage     = 200
)

type (
	AccountListRequest struct {
		SchoolID     string `query:"school_id"`
		SchoolYearID string `query:"school_year_id"`
		Status       string `query:"status" validate:"omitempty,oneof=active on_hold settled cancelled"`
		GradeLevel   string `query:"grade_level"`
		MinBalance   string `query:"min_balance" validate:"omitempty,numeric"`
		Search       string `query:"search"`
		Limit        int    `query:"limit" validate:"gte=0"`
		Offset       int    `query:"offset" validate:"gte=0"`
	}

	Pagination struct {
		Total   int  `json:"total"`
		Limit   int  `json:"limit"`
		Offset  int  `json:"offset"`
		HasMore bool `json:"has_more"`
	}

	AccountPage struct {
		Accounts   []Account  `json:"accounts"`
		Pagination Pagination `json:"pagination"`
	}

	// AccountUpdate changes the status and/or the notes of an account. Reason goes to the activity log.
	AccountUpdate struct {
		Status string  `json:"status,omitempty" validate:"omitempty,oneof=active on_hold settled cancelled"`
		Notes  *string `json:"notes,omitempty"`
		Reason string  `json:"reason,omitempty"`
	}
)

func (r AccountListRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (u AccountUpdate) Validate(validate *validator.Validate) error {
	if err := validate.Struct(u); err != nil {
		return err
	}
	if u.Status == "" && u.Notes == nil {
		return core.NewValidationError(ErrNothingToUpdate)
	}
	return nil
}

// ListAccounts pages through fee accounts, latest first.
func (svc *Service) ListAccounts(ctx context.Context, req AccountListRequest) (AccountPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultAccountPage
	}
	if limit > maxAccountPage {
		limit = maxAccountPage
	}

	filter := AccountFilter{
		SchoolID:     req.SchoolID,
		SchoolYearID: req.SchoolYearID,
		GradeLevel:   req.GradeLevel,
		Search:       core.CleanString(req.Search),
		Newest:       true,
	}
	if req.Status != "" {
		filter.Statuses = []AccountStatus{AccountStatus(req.Status)}
	}
	if req.MinBalance != "" {
		minBalance, err := decimal.NewFromString(req.MinBalance)
		if err != nil {
			return AccountPage{}, core.NewValidationError(err, core.FieldError{Field: "min_balance", Error: "must be a number"})
		}
		filter.MinBalance = &minBalance
	}

	var page AccountPage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		page.Pagination.Total, err = svc.repo.CountAccounts(gctx, filter)
		return errors.Wrap(err, "counting fee accounts")
	})
	g.Go(func() (err error) {
		paged := filter
		paged.Limit, paged.Offset = limit, req.Offset
		page.Accounts, err = svc.repo.QueryAccounts(gctx, paged)
		return errors.Wrap(err, "querying fee accounts")
	})
	if err := g.Wait(); err != nil {
		return AccountPage{}, err
	}

	if page.Accounts == nil {
		page.Accounts = []Account{}
	}
	page.Pagination.Limit = limit
	page.Pagination.Offset = req.Offset
	page.Pagination.HasMore = page.Pagination.Total > req.Offset+limit
	return page, nil
}

// enrollmentStatusFor maps an account status to the student enrollment status it implies.
func enrollmentStatusFor(a Account) string {
	switch a.Status {
	case AccountOnHold:
		return EnrollmentOnHold
	case AccountSettled:
		return EnrollmentFullyPaid
	case AccountCancelled:
		return EnrollmentDropped
	}
	switch {
	case !a.CurrentBalance.IsPositive():
		return EnrollmentFullyPaid
	case a.TotalPaid.IsPositive():
		return EnrollmentPartialPaid
	default:
		return EnrollmentAssessed
	}
}

// UpdateAccount changes the status or the notes of an account. A status change is mirrored on the
// student enrollment status.
func (svc *Service) UpdateAccount(ctx context.Context, id string, data AccountUpdate) (Account, error) {
	if id == "" {
		return Account{}, requiredFieldError("id")
	}

	now := NowFunc().UTC()
	var account Account
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if account, err = repo.LockAccount(ctx, id); err != nil {
			return notFound(err, ErrAccountNotFound, "getting fee account")
		}
		old := map[string]interface{}{"status": account.Status, "notes": account.Notes}
		changes := make(map[string]interface{})

		action, description := ActionAccountUpdated, ""
		statusChanged := data.Status != "" && AccountStatus(data.Status) != account.Status
		if statusChanged {
			action = ActionStatusChanged
			description = fmt.Sprintf("Account status changed from %s to %s", account.Status, data.Status)
			account.Status = AccountStatus(data.Status)
			changes["status"] = account.Status
		}
		if data.Notes != nil {
			account.Notes = strings.TrimSpace(*data.Notes)
			changes["notes"] = account.Notes
			if description == "" {
				description = "Account notes updated"
			}
		}
		if len(changes) == 0 {
			return core.NewValidationError(ErrNothingToUpdate)
		}
		if data.Reason != "" {
			description += ". Reason: " + strings.TrimSpace(data.Reason)
		}

		account.UpdatedAt = now
		if err = repo.UpdateAccount(ctx, account); err != nil {
			return errors.Wrap(err, "updating fee account")
		}
		if statusChanged {
			if err = repo.UpdateStudentStatus(ctx, account.StudentID, enrollmentStatusFor(account)); err != nil {
				return errors.Wrap(err, "updating student status")
			}
		}
		return errors.Wrap(repo.CreateActivity(ctx, ActivityEntry{
			AccountID:   account.ID,
			Action:      action,
			Description: description,
			OldValue:    old,
			NewValue:    changes,
			CreatedAt:   now,
		}), "logging activity")
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}
