package fee

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-fees/core"
)

const EventCheckBounced = "payment.check_bounced"

type (
	NewPayment struct {
		AccountID       string          `json:"student_fee_account_id" validate:"required"`
		ScheduleID      string          `json:"payment_schedule_id,omitempty"`
		Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
		PaymentDate     string          `json:"payment_date,omitempty" validate:"omitempty,date"`
		PaymentMethod   string          `json:"payment_method" validate:"required,oneof=cash check bank_transfer bank_deposit internal_transfer"`
		ReferenceNumber string          `json:"reference_number,omitempty"`
		CheckNumber     string          `json:"check_number,omitempty" validate:"required_if=PaymentMethod check"`
		CheckBank       string          `json:"check_bank,omitempty" validate:"required_if=PaymentMethod check"`
		CheckDate       string          `json:"check_date,omitempty" validate:"omitempty,date"`
		Notes           string          `json:"notes,omitempty"`
		ReceivedBy      string          `json:"received_by,omitempty"`
	}

	PaymentResult struct {
		Payment  Payment  `json:"payment"`
		Warnings []string `json:"warnings"`
	}

	CheckStatusUpdate struct {
		Status    string          `json:"check_status" validate:"required,oneof=cleared bounced"`
		BounceFee decimal.Decimal `json:"bounce_fee" validate:"gte=0"`
		Notes     string          `json:"notes,omitempty"`
	}

	PaymentRecordedEvent struct {
		PaymentID      string          `json:"payment_id"`
		AccountID      string          `json:"account_id"`
		SchoolID       string          `json:"school_id"`
		ORNumber       string          `json:"or_number"`
		Amount         decimal.Decimal `json:"amount"`
		Method         string          `json:"payment_method"`
		Status         PaymentStatus   `json:"status"`
		CurrentBalance decimal.Decimal `json:"current_balance"`
		RecordedAt     time.Time       `json:"recorded_at"`
	}
)

func (p NewPayment) Validate(validate *validator.Validate) error {
	return validate.Struct(p)
}

func (u CheckStatusUpdate) Validate(validate *validator.Validate) error {
	return validate.Struct(u)
}

// ReceiptNumber formats an official receipt number, e.g. OR-2024-000042.
func ReceiptNumber(year int, seq int64) string {
	return fmt.Sprintf("OR-%d-%06d", year, seq)
}

// RecordPayment stores a manual payment. Checks stay pending until cleared; any other payment is applied at once.
func (svc *Service) RecordPayment(ctx context.Context, data NewPayment) (PaymentResult, error) {
	if data.AccountID == "" {
		return PaymentResult{}, requiredFieldError("student_fee_account_id")
	}
	if !data.Amount.IsPositive() {
		return PaymentResult{}, core.NewValidationError(
			errors.New("amount must be positive"),
			core.FieldError{Field: "amount", Error: "must be positive"},
		)
	}
	isCheck := data.PaymentMethod == MethodCheck
	if isCheck && (data.CheckNumber == "" || data.CheckBank == "") {
		return PaymentResult{}, core.NewValidationError(errors.New("check_number and check_bank are required for check payments"))
	}

	now := NowFunc().UTC()
	paymentDate, err := parseDate(data.PaymentDate, "payment_date")
	if err != nil {
		return PaymentResult{}, err
	}
	if paymentDate.IsZero() {
		paymentDate = truncateDay(now)
	}
	checkDate, err := parseDate(data.CheckDate, "check_date")
	if err != nil {
		return PaymentResult{}, err
	}

	payment := Payment{
		AccountID:       data.AccountID,
		ScheduleID:      data.ScheduleID,
		Amount:          data.Amount,
		PaymentDate:     paymentDate,
		PaymentMethod:   data.PaymentMethod,
		ReferenceNumber: core.CleanString(data.ReferenceNumber),
		Status:          PaymentCompleted,
		Notes:           data.Notes,
		ReceivedBy:      data.ReceivedBy,
		CreatedAt:       now,
	}
	if isCheck {
		payment.Status = PaymentPending
		payment.CheckStatus = CheckPending
		payment.CheckNumber = core.CleanString(data.CheckNumber)
		payment.CheckBank = core.CleanString(data.CheckBank)
		if !checkDate.IsZero() {
			payment.CheckDate = &checkDate
		}
	}

	var (
		account       Account
		balanceBefore decimal.Decimal
	)
	err = svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if account, err = repo.LockAccount(ctx, data.AccountID); err != nil {
			return notFound(err, ErrAccountNotFound, "getting fee account")
		}
		if account.Status == AccountSettled {
			return core.NewValidationError(ErrAccountSettled)
		}
		if data.ScheduleID != "" {
			if err = checkSchedule(ctx, repo, account.ID, data.ScheduleID); err != nil {
				return err
			}
		}
		balanceBefore = account.CurrentBalance
		payment.SchoolID = account.SchoolID

		if payment.ORNumber, err = repo.NextReceiptNumber(ctx, account.SchoolID, now.Year()); err != nil {
			return errors.Wrap(err, "allocating receipt number")
		}
		if payment, err = repo.CreatePayment(ctx, payment); err != nil {
			return errors.Wrap(err, "creating payment")
		}
		if payment.Status == PaymentCompleted {
			if account, err = svc.applyPayment(ctx, repo, account, payment, now); err != nil {
				return err
			}
		}

		return errors.Wrap(repo.CreateActivity(ctx, ActivityEntry{
			AccountID: account.ID,
			Action:    ActionPaymentRecorded,
			Description: fmt.Sprintf(
				"%s payment of %s recorded (OR: %s)",
				strings.ReplaceAll(payment.PaymentMethod, "_", " "),
				FormatMoney(svc.currency, payment.Amount),
				payment.ORNumber,
			),
			RelatedPaymentID: payment.ID,
			NewValue: map[string]interface{}{
				"payment_id":     payment.ID,
				"amount":         payment.Amount,
				"method":         payment.PaymentMethod,
				"or_number":      payment.ORNumber,
				"status":         payment.Status,
				"is_overpayment": data.Amount.GreaterThan(balanceBefore),
			},
			CreatedAt: now,
		}), "logging activity")
	})
	if err != nil {
		return PaymentResult{}, err
	}

	result := PaymentResult{Payment: payment, Warnings: []string{}}
	if excess := data.Amount.Sub(balanceBefore); excess.IsPositive() {
		svc.logger.Warn("overpayment recorded", map[string]interface{}{
			"payment_id": payment.ID, "account_id": account.ID, "excess": excess.String(),
		})
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"This payment exceeds the outstanding balance. Excess of %s will be credited.",
			FormatMoney(svc.currency, excess),
		))
	}

	svc.publish(ctx, EventPaymentRecorded, paymentEvent(payment, account, now))
	return result, nil
}

// UpdateCheckStatus clears or bounces a pending check payment.
func (svc *Service) UpdateCheckStatus(ctx context.Context, paymentID string, data CheckStatusUpdate) (Payment, error) {
	if paymentID == "" {
		return Payment{}, requiredFieldError("payment_id")
	}
	if data.Status != CheckCleared && data.Status != CheckBounced {
		return Payment{}, core.NewValidationError(
			errors.New("check_status must be 'cleared' or 'bounced'"),
			core.FieldError{Field: "check_status", Error: "must be 'cleared' or 'bounced'"},
		)
	}

	now := NowFunc().UTC()
	var (
		payment Payment
		account Account
	)
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if payment, err = repo.GetPayment(ctx, paymentID); err != nil {
			return notFound(err, ErrPaymentNotFound, "getting payment")
		}
		if payment.PaymentMethod != MethodCheck {
			return core.NewValidationError(ErrNotACheck)
		}
		// the account lock also serializes concurrent updates of its checks
		if account, err = repo.LockAccount(ctx, payment.AccountID); err != nil {
			return errors.Wrap(err, "getting fee account")
		}
		if payment, err = repo.GetPayment(ctx, paymentID); err != nil {
			return errors.Wrap(err, "getting payment")
		}
		if payment.CheckStatus != CheckPending {
			return core.NewValidationError(ErrCheckAlreadyUpdate)
		}
		if data.Notes != "" {
			payment.Notes = strings.TrimSpace(payment.Notes + "\n" + data.Notes)
		}

		if data.Status == CheckCleared {
			payment.CheckStatus = CheckCleared
			payment.Status = PaymentCompleted
			if err = repo.UpdatePayment(ctx, payment); err != nil {
				return errors.Wrap(err, "updating payment")
			}
			if account, err = svc.applyPayment(ctx, repo, account, payment, now); err != nil {
				return err
			}
			return errors.Wrap(repo.CreateActivity(ctx, ActivityEntry{
				AccountID:        account.ID,
				Action:           ActionPaymentRecorded,
				Description:      fmt.Sprintf("Check #%s cleared", payment.CheckNumber),
				RelatedPaymentID: payment.ID,
				OldValue:         map[string]interface{}{"check_status": CheckPending},
				NewValue:         map[string]interface{}{"check_status": CheckCleared},
				CreatedAt:        now,
			}), "logging activity")
		}

		payment.CheckStatus = CheckBounced
		payment.Status = PaymentFailed
		description := fmt.Sprintf("Check #%s bounced", payment.CheckNumber)
		if data.BounceFee.IsPositive() {
			description += ". Bounce fee: " + FormatMoney(svc.currency, data.BounceFee)
			payment.Notes = strings.TrimSpace(payment.Notes + "\n" + description)

			account.TotalLateFees = account.TotalLateFees.Add(data.BounceFee)
			account.CurrentBalance = account.CurrentBalance.Add(data.BounceFee)
			if account.Status == AccountSettled && account.CurrentBalance.IsPositive() {
				account.Status = AccountActive
			}
			account.UpdatedAt = now
			if err = repo.UpdateAccount(ctx, account); err != nil {
				return errors.Wrap(err, "updating fee account")
			}
		}
		if err = repo.UpdatePayment(ctx, payment); err != nil {
			return errors.Wrap(err, "updating payment")
		}
		return errors.Wrap(repo.CreateActivity(ctx, ActivityEntry{
			AccountID:        account.ID,
			Action:           ActionPaymentFailed,
			Description:      description,
			RelatedPaymentID: payment.ID,
			NewValue: map[string]interface{}{
				"check_status": CheckBounced,
				"bounce_fee":   data.BounceFee,
			},
			CreatedAt: now,
		}), "logging activity")
	})
	if err != nil {
		return Payment{}, err
	}

	if payment.Status == PaymentCompleted {
		svc.publish(ctx, EventPaymentRecorded, paymentEvent(payment, account, now))
	} else {
		svc.publish(ctx, EventCheckBounced, paymentEvent(payment, account, now))
	}
	return payment, nil
}

func checkSchedule(ctx context.Context, repo Repository, accountID, scheduleID string) error {
	schedules, err := repo.QuerySchedules(ctx, ScheduleFilter{AccountIDs: []string{accountID}})
	if err != nil {
		return errors.Wrap(err, "querying payment schedules")
	}
	for _, s := range schedules {
		if s.ID == scheduleID {
			return nil
		}
	}
	return core.NewNotFoundError(ErrScheduleNotFound)
}

// applyPayment credits a completed payment to the account and its open installments, then settles the account
// and updates the student enrollment status.
func (svc *Service) applyPayment(ctx context.Context, repo Repository, account Account, payment Payment, now time.Time) (Account, error) {
	schedules, err := repo.QuerySchedules(ctx, ScheduleFilter{AccountIDs: []string{account.ID}})
	if err != nil {
		return Account{}, errors.Wrap(err, "querying payment schedules")
	}

	for _, s := range Allocate(schedules, payment.ScheduleID, payment.Amount, payment.PaymentDate) {
		if err = repo.UpdateSchedule(ctx, s); err != nil {
			return Account{}, errors.Wrap(err, "updating payment schedule")
		}
		for i := range schedules {
			if schedules[i].ID == s.ID {
				schedules[i] = s
			}
		}
	}

	account.TotalPaid = account.TotalPaid.Add(payment.Amount)
	account.CurrentBalance = account.CurrentBalance.Sub(payment.Amount)
	account.DaysOverdue, account.OldestOverdueDate = OverdueState(schedules, now)
	account.UpdatedAt = now

	status := EnrollmentPartialPaid
	if !account.CurrentBalance.IsPositive() {
		account.Status = AccountSettled
		status = EnrollmentFullyPaid
	}
	if err = repo.UpdateAccount(ctx, account); err != nil {
		return Account{}, errors.Wrap(err, "updating fee account")
	}
	if err = repo.UpdateStudentStatus(ctx, account.StudentID, status); err != nil {
		return Account{}, errors.Wrap(err, "updating student status")
	}
	return account, nil
}

// Allocate spreads amount over the open installments, the targeted one first and then by due date.
// It returns the installments it changed.
func Allocate(schedules []Schedule, targetID string, amount decimal.Decimal, paidOn time.Time) []Schedule {
	ordered := make([]Schedule, 0, len(schedules))
	for _, s := range schedules {
		if s.ID == targetID && s.IsOpen() {
			ordered = append(ordered, s)
		}
	}
	for _, s := range schedules {
		if s.ID != targetID && s.IsOpen() {
			ordered = append(ordered, s)
		}
	}

	var changed []Schedule
	left := amount
	for _, s := range ordered {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(left, s.Remaining())
		if !take.IsPositive() {
			continue
		}
		left = left.Sub(take)
		s.AmountPaid = s.AmountPaid.Add(take)

		switch {
		case !s.Remaining().IsPositive():
			s.Status = SchedulePaid
			paidAt := paidOn
			s.PaidAt = &paidAt
		case s.Status != ScheduleOverdue:
			s.Status = SchedulePartiallyPaid
		}
		changed = append(changed, s)
	}
	return changed
}

func paymentEvent(p Payment, a Account, at time.Time) PaymentRecordedEvent {
	return PaymentRecordedEvent{
		PaymentID:      p.ID,
		AccountID:      a.ID,
		SchoolID:       a.SchoolID,
		ORNumber:       p.ORNumber,
		Amount:         p.Amount,
		Method:         p.PaymentMethod,
		Status:         p.Status,
		CurrentBalance: a.CurrentBalance,
		RecordedAt:     at,
	}
}
