package fee_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
	"github.com/trezcool/masomo-fees/services/email"
	"github.com/trezcool/masomo-fees/services/events"
	"github.com/trezcool/masomo-fees/services/export"
	"github.com/trezcool/masomo-fees/tests"
)

type fixture struct {
	*testutil.School
	svc    *fee.Service
	events *eventsvc.LogPublisher
}

func setup(t *testing.T) fixture {
	testutil.FreezeTime(t)
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	testutil.ParseTemplates(conf, logger)
	emailsvc.ResetSentMessages()

	school := testutil.SeedSchool(t)
	events := eventsvc.NewLogPublisher(nil)
	svc := fee.NewService(
		school.Repo,
		emailsvc.NewConsoleServiceMock(conf, logger),
		events,
		exportsvc.NewExcelWriter(),
		logger,
		conf,
	)
	return fixture{School: school, svc: svc, events: events}
}

func (f fixture) assessRequest(plan string) fee.AssessRequest {
	return fee.AssessRequest{
		StudentID:     f.Student.ID,
		SchoolID:      testutil.SchoolID,
		SchoolYearID:  testutil.SchoolYearID,
		PaymentPlanID: f.Plans[plan].ID,
	}
}

func (f fixture) assess(t *testing.T, plan string) fee.AssessResult {
	t.Helper()
	res, err := f.svc.Assess(context.Background(), f.assessRequest(plan))
	require.NoError(t, err)
	return res
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertDecimal(t *testing.T, want int64, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, got.Equal(dec(want)), "%s = %s; want %d", field, got, want)
}

func TestService_Assess(t *testing.T) {
	f := setup(t)
	req := f.assessRequest("FULL")
	req.ScholarshipType = "Academic Scholarship"
	req.ScholarshipPercentage = dec(50)

	res, err := f.svc.Assess(context.Background(), req)
	require.NoError(t, err)

	assertDecimal(t, 25000, res.FeeAccount.TotalAssessed, "total_assessed")
	assertDecimal(t, 11000, res.FeeAccount.TotalDiscounts, "total_discounts")
	assertDecimal(t, 14000, res.FeeAccount.NetAmount, "net_amount")
	assert.Equal(t, "Full Payment", res.FeeAccount.PaymentPlan)
	assert.Equal(t, 1, res.FeeAccount.Installments)
	assert.Len(t, res.LineItems, 2)

	require.Len(t, res.Discounts, 2)
	assert.Equal(t, "Full Payment Discount", res.Discounts[0].DiscountName)
	assertDecimal(t, 1000, res.Discounts[0].DiscountAmount, "plan discount")
	assert.Equal(t, "Academic Scholarship", res.Discounts[1].DiscountName)
	assertDecimal(t, 10000, res.Discounts[1].DiscountAmount, "scholarship")

	require.Len(t, res.PaymentSchedules, 1)
	sched := res.PaymentSchedules[0]
	assert.Equal(t, time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC), sched.DueDate)
	assertDecimal(t, 14000, sched.AmountDue, "amount_due")
	assert.Equal(t, fee.SchedulePending, sched.Status)

	details, err := f.svc.GetAccount(context.Background(), res.FeeAccount.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.AccountActive, details.Account.Status)
	assertDecimal(t, 14000, details.Account.CurrentBalance, "current_balance")
	assert.True(t, details.Account.TotalPaid.IsZero())
	assert.Equal(t, testutil.GradeLevel, details.Account.GradeLevelAtAssessment)
	assert.Len(t, details.Schedules, 1)

	assert.Equal(t, fee.EnrollmentAssessed, f.DB.Student(f.Student.ID).EnrollmentStatus)

	activity := f.DB.Activity(res.FeeAccount.ID)
	require.Len(t, activity, 1)
	assert.Equal(t, fee.ActionAccountCreated, activity[0].Action)
	assert.Equal(t, "Fee account created with Full Payment. Total: PHP 25,000, Discounts: PHP 11,000, Net: PHP 14,000", activity[0].Description)

	published := f.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, fee.EventFeeAssessed, published[0].RoutingKey)

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "maria@example.com", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "Amount due: PHP 14,000")
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "statement.xlsx", sent[0].Attachments[0].Filename)
}

func TestService_Assess_Installments(t *testing.T) {
	f := setup(t)
	res := f.assess(t, "QUARTERLY")

	require.Len(t, res.PaymentSchedules, 4)
	assert.Empty(t, res.Discounts)
	for i, s := range res.PaymentSchedules {
		assert.Equal(t, i+1, s.InstallmentNumber)
		assertDecimal(t, 6250, s.AmountDue, s.Label)
	}
	assert.Equal(t, "First Quarter", res.PaymentSchedules[0].Label)
	assert.Equal(t, time.Date(2024, 8, 22, 0, 0, 0, 0, time.UTC), res.PaymentSchedules[1].DueDate)
}

func TestService_Assess_FirstDueDate(t *testing.T) {
	f := setup(t)
	req := f.assessRequest("SEMESTRAL")
	req.FirstDueDate = "2024-07-01"

	res, err := f.svc.Assess(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC), res.PaymentSchedules[0].DueDate)

	req.FirstDueDate = "07/01/2024"
	req.StudentID = testutil.AddStudent(t, f.DB, "Other", "").ID
	_, err = f.svc.Assess(context.Background(), req)
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "first_due_date", vErr.Fields[0].Field)
}

func TestService_Assess_Discounts(t *testing.T) {
	f := setup(t)

	// two other active siblings and one inactive
	group := f.DB.AddFamilyGroup(fee.FamilyGroup{SchoolID: testutil.SchoolID, Name: "Dela Cruz"})
	f.DB.AddFamilyMember(group.ID, f.Student.ID, true)
	for _, active := range []bool{true, true, false} {
		sib := testutil.AddStudent(t, f.DB, "Sibling", "")
		f.DB.AddFamilyMember(group.ID, sib.ID, active)
	}
	to := 2
	f.DB.AddSiblingDiscount(fee.SiblingDiscount{
		SchoolID: testutil.SchoolID, SiblingOrderFrom: 2, SiblingOrderTo: &to,
		DiscountType: fee.CalculationPercentage, DiscountPercentage: dec(5), IsActive: true,
	})
	f.DB.AddSiblingDiscount(fee.SiblingDiscount{
		SchoolID: testutil.SchoolID, SiblingOrderFrom: 3,
		DiscountType: fee.CalculationPercentage, DiscountPercentage: dec(10), IsActive: true,
	})

	req := f.assessRequest("MONTHLY")
	req.CustomDiscounts = []fee.CustomDiscount{
		{Name: "Employee Discount", Type: fee.CalculationPercentage, Value: dec(10), AppliesTo: fee.AppliedToAll},
	}
	res, err := f.svc.Assess(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Discounts, 2)
	assert.Equal(t, "Sibling Discount (Child #3)", res.Discounts[0].DiscountName)
	assertDecimal(t, 2000, res.Discounts[0].DiscountAmount, "sibling discount")
	assert.Equal(t, fee.DiscountCustom, res.Discounts[1].DiscountType)
	assertDecimal(t, 2500, res.Discounts[1].DiscountAmount, "custom discount")
	assertDecimal(t, 20500, res.FeeAccount.NetAmount, "net_amount")
	assert.Len(t, res.PaymentSchedules, 10)
}

func TestService_Assess_Sections(t *testing.T) {
	f := setup(t)
	testutil.AddStructure(t, f.Repo, f.Tuition, "Science Lab Fee", "S1", 3000)

	tests := []struct {
		name      string
		section   string
		wantTotal int64
	}{
		{"other section", "S2", 25000},
		{"same section", "S1", 28000},
		{"no section", "", 28000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := testutil.AddStudent(t, f.DB, "Student "+tc.name, tc.section)
			req := f.assessRequest("FULL")
			req.StudentID = st.ID
			res, err := f.svc.Assess(context.Background(), req)
			require.NoError(t, err)
			assertDecimal(t, tc.wantTotal, res.FeeAccount.TotalAssessed, "total_assessed")
		})
	}
}

func TestService_Assess_Errors(t *testing.T) {
	f := setup(t)
	first := f.assess(t, "FULL")

	t.Run("already assessed", func(t *testing.T) {
		_, err := f.svc.Assess(context.Background(), f.assessRequest("FULL"))
		var cErr *core.ConflictError
		require.True(t, errors.As(err, &cErr), "err = %v", err)
		assert.Equal(t, fee.ErrAccountExists, cErr.Err)
		assert.Equal(t, first.FeeAccount.ID, cErr.Data["existing_account_id"])
	})

	t.Run("missing field", func(t *testing.T) {
		req := f.assessRequest("FULL")
		req.PaymentPlanID = " "
		_, err := f.svc.Assess(context.Background(), req)
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "payment_plan_id", vErr.Fields[0].Field)
	})

	t.Run("unknown student", func(t *testing.T) {
		req := f.assessRequest("FULL")
		req.StudentID = "nobody"
		_, err := f.svc.Assess(context.Background(), req)
		var nErr *core.NotFoundError
		require.True(t, errors.As(err, &nErr))
		assert.Equal(t, fee.ErrStudentNotFound, nErr.Err)
	})

	t.Run("plan of another year", func(t *testing.T) {
		req := f.assessRequest("FULL")
		req.StudentID = testutil.AddStudent(t, f.DB, "Pedro", "").ID
		req.SchoolYearID = "sy-2025"
		_, err := f.svc.Assess(context.Background(), req)
		var nErr *core.NotFoundError
		require.True(t, errors.As(err, &nErr))
		assert.Equal(t, fee.ErrPlanNotFound, nErr.Err)
	})

	t.Run("no grade level", func(t *testing.T) {
		st := f.DB.AddStudent(fee.Student{SchoolID: testutil.SchoolID, Name: "No Grade"})
		req := f.assessRequest("FULL")
		req.StudentID = st.ID
		_, err := f.svc.Assess(context.Background(), req)
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, fee.ErrNoGradeLevel, vErr.Err)
	})

	t.Run("no fee structures", func(t *testing.T) {
		before := f.DB.Counts()
		st := testutil.AddStudent(t, f.DB, "Grade 8", "")
		req := f.assessRequest("FULL")
		req.StudentID = st.ID
		req.GradeLevel = "Grade 8"
		_, err := f.svc.Assess(context.Background(), req)
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, fee.ErrNoFeeStructures, vErr.Err)
		assert.Equal(t, before, f.DB.Counts())
	})
}

func TestService_Assess_Rollback(t *testing.T) {
	f := setup(t)
	f.DB.FailOn("CreateSchedules", errors.New("disk full"))

	_, err := f.svc.Assess(context.Background(), f.assessRequest("QUARTERLY"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	for table, n := range f.DB.Counts() {
		assert.Zerof(t, n, "%s rows left after rollback", table)
	}
	assert.Equal(t, "enrolled", f.DB.Student(f.Student.ID).EnrollmentStatus)
	assert.Empty(t, f.events.Events())
	assert.Empty(t, emailsvc.SentMessages())

	// the student can be assessed once the store recovers
	f.assess(t, "QUARTERLY")
}

func TestService_Preview(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := fee.PreviewRequest{StudentID: f.Student.ID, SchoolYearID: testutil.SchoolYearID}

	res, err := f.svc.Preview(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.AlreadyAssessed)
	assert.Equal(t, f.Student.Name, res.Student.Name)
	assert.Len(t, res.Fees, 2)
	assertDecimal(t, 20000, res.Summary.Tuition, "tuition")
	assertDecimal(t, 5000, res.Summary.Miscellaneous, "miscellaneous")
	assertDecimal(t, 25000, res.Summary.Total, "total")
	require.Len(t, res.PaymentPlans, 4)
	assert.Equal(t, "FULL", res.PaymentPlans[0].Code)
	assert.Equal(t, "MONTHLY", res.PaymentPlans[3].Code)
	assert.Equal(t, 0, f.DB.Counts()["accounts"])

	assessed := f.assess(t, "FULL")
	res, err = f.svc.Preview(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.AlreadyAssessed)
	assert.Equal(t, assessed.FeeAccount.ID, res.ExistingAccount.ID)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out, 2)
	assert.Equal(t, true, out["already_assessed"])

	_, err = f.svc.Preview(ctx, fee.PreviewRequest{StudentID: f.Student.ID})
	var vErr *core.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestService_RecordPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.assess(t, "SEMESTRAL").FeeAccount // 2 x 12,500

	res, err := f.svc.RecordPayment(ctx, fee.NewPayment{
		AccountID:     account.ID,
		Amount:        dec(15000),
		PaymentMethod: fee.MethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, "OR-2024-000001", res.Payment.ORNumber)
	assert.Equal(t, fee.PaymentCompleted, res.Payment.Status)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), res.Payment.PaymentDate)
	assert.Empty(t, res.Warnings)

	details, err := f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assertDecimal(t, 15000, details.Account.TotalPaid, "total_paid")
	assertDecimal(t, 10000, details.Account.CurrentBalance, "current_balance")
	assert.Equal(t, fee.SchedulePaid, details.Schedules[0].Status)
	assert.Equal(t, fee.SchedulePartiallyPaid, details.Schedules[1].Status)
	assertDecimal(t, 2500, details.Schedules[1].AmountPaid, "amount_paid")
	assert.Equal(t, fee.EnrollmentPartialPaid, f.DB.Student(f.Student.ID).EnrollmentStatus)

	// overpaying settles the account
	res, err = f.svc.RecordPayment(ctx, fee.NewPayment{
		AccountID:       account.ID,
		Amount:          dec(10500),
		PaymentMethod:   fee.MethodBankTransfer,
		ReferenceNumber: " BT-42 ",
		PaymentDate:     "2024-06-02",
	})
	require.NoError(t, err)
	assert.Equal(t, "OR-2024-000002", res.Payment.ORNumber)
	assert.Equal(t, "BT-42", res.Payment.ReferenceNumber)
	assert.Equal(t, []string{"This payment exceeds the outstanding balance. Excess of PHP 500 will be credited."}, res.Warnings)

	details, err = f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.AccountSettled, details.Account.Status)
	assertDecimal(t, -500, details.Account.CurrentBalance, "current_balance")
	assert.Equal(t, fee.EnrollmentFullyPaid, f.DB.Student(f.Student.ID).EnrollmentStatus)
	assert.Len(t, details.Payments, 2)

	_, err = f.svc.RecordPayment(ctx, fee.NewPayment{AccountID: account.ID, Amount: dec(1), PaymentMethod: fee.MethodCash})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, fee.ErrAccountSettled, vErr.Err)

	var recorded int
	for _, e := range f.DB.Activity(account.ID) {
		if e.Action == fee.ActionPaymentRecorded {
			recorded++
		}
	}
	assert.Equal(t, 2, recorded)
}

func TestService_RecordPayment_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.assess(t, "FULL").FeeAccount

	tests := []struct {
		name string
		data fee.NewPayment
		want interface{}
	}{
		{"zero amount", fee.NewPayment{AccountID: account.ID, PaymentMethod: fee.MethodCash}, &core.ValidationError{}},
		{"check without bank", fee.NewPayment{AccountID: account.ID, Amount: dec(10), PaymentMethod: fee.MethodCheck, CheckNumber: "1"}, &core.ValidationError{}},
		{"unknown account", fee.NewPayment{AccountID: "nope", Amount: dec(10), PaymentMethod: fee.MethodCash}, &core.NotFoundError{}},
		{"unknown schedule", fee.NewPayment{AccountID: account.ID, ScheduleID: "nope", Amount: dec(10), PaymentMethod: fee.MethodCash}, &core.NotFoundError{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordPayment(ctx, tc.data)
			require.Error(t, err)
			switch tc.want.(type) {
			case *core.ValidationError:
				var vErr *core.ValidationError
				assert.True(t, errors.As(err, &vErr), "err = %v", err)
			case *core.NotFoundError:
				var nErr *core.NotFoundError
				assert.True(t, errors.As(err, &nErr), "err = %v", err)
			}
		})
	}
	assert.Zero(t, f.DB.Counts()["payments"])
}

func TestService_UpdateCheckStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.assess(t, "SEMESTRAL").FeeAccount

	newCheck := func(number string) fee.Payment {
		res, err := f.svc.RecordPayment(ctx, fee.NewPayment{
			AccountID:     account.ID,
			Amount:        dec(12500),
			PaymentMethod: fee.MethodCheck,
			CheckNumber:   number,
			CheckBank:     "BDO",
			CheckDate:     "2024-06-05",
		})
		require.NoError(t, err)
		assert.Equal(t, fee.PaymentPending, res.Payment.Status)
		assert.Equal(t, fee.CheckPending, res.Payment.CheckStatus)
		return res.Payment
	}

	cleared := newCheck("1001")
	details, err := f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assertDecimal(t, 25000, details.Account.CurrentBalance, "balance before clearing")

	p, err := f.svc.UpdateCheckStatus(ctx, cleared.ID, fee.CheckStatusUpdate{Status: fee.CheckCleared})
	require.NoError(t, err)
	assert.Equal(t, fee.PaymentCompleted, p.Status)
	details, err = f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assertDecimal(t, 12500, details.Account.CurrentBalance, "balance after clearing")
	assert.Equal(t, fee.SchedulePaid, details.Schedules[0].Status)

	_, err = f.svc.UpdateCheckStatus(ctx, cleared.ID, fee.CheckStatusUpdate{Status: fee.CheckBounced})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, fee.ErrCheckAlreadyUpdate, vErr.Err)

	bounced := newCheck("1002")
	p, err = f.svc.UpdateCheckStatus(ctx, bounced.ID, fee.CheckStatusUpdate{Status: fee.CheckBounced, BounceFee: dec(500)})
	require.NoError(t, err)
	assert.Equal(t, fee.PaymentFailed, p.Status)
	assert.Contains(t, p.Notes, "Bounce fee: PHP 500")

	details, err = f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assertDecimal(t, 13000, details.Account.CurrentBalance, "balance after bounce")
	assertDecimal(t, 500, details.Account.TotalLateFees, "late fees")
	assertDecimal(t, 12500, details.Account.TotalPaid, "total_paid")

	activity := f.DB.Activity(account.ID)
	assert.Equal(t, fee.ActionPaymentFailed, activity[len(activity)-1].Action)

	keys := make([]string, 0)
	for _, e := range f.events.Events() {
		keys = append(keys, e.RoutingKey)
	}
	assert.Contains(t, keys, fee.EventCheckBounced)

	cash, err := f.svc.RecordPayment(ctx, fee.NewPayment{AccountID: account.ID, Amount: dec(100), PaymentMethod: fee.MethodCash})
	require.NoError(t, err)
	_, err = f.svc.UpdateCheckStatus(ctx, cash.Payment.ID, fee.CheckStatusUpdate{Status: fee.CheckCleared})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, fee.ErrNotACheck, vErr.Err)
}

func TestService_MarkOverdue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.assess(t, "QUARTERLY").FeeAccount // due 06-08, 08-22, 11-05, 01-19

	res, err := f.svc.MarkOverdue(ctx, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, res.SchedulesMarked)
	assert.Equal(t, 1, res.AccountsRefreshed)

	details, err := f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 85, details.Account.DaysOverdue)
	require.NotNil(t, details.Account.OldestOverdueDate)
	assert.Equal(t, time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC), *details.Account.OldestOverdueDate)
	assert.Equal(t, fee.ScheduleOverdue, details.Schedules[0].Status)
	assert.Equal(t, fee.ScheduleOverdue, details.Schedules[1].Status)
	assert.Equal(t, fee.SchedulePending, details.Schedules[2].Status)

	// same day again: nothing changes
	res, err = f.svc.MarkOverdue(ctx, time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, res.SchedulesMarked)
	assert.Zero(t, res.AccountsRefreshed)
}

func TestService_CollectionRisk(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	late := f.assess(t, "SEMESTRAL").FeeAccount
	current := testutil.AddStudent(t, f.DB, "Ana Santos", "")
	req := f.assessRequest("MONTHLY")
	req.StudentID = current.ID
	req.FirstDueDate = "2024-08-01"
	_, err := f.svc.Assess(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.MarkOverdue(ctx, time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	report, err := f.svc.CollectionRisk(ctx, fee.RiskRequest{SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID})
	require.NoError(t, err)
	assert.Equal(t, "PHP", report.Currency)
	require.Len(t, report.Students, 2)

	top := report.Students[0]
	assert.Equal(t, late.ID, top.AccountID)
	assert.Equal(t, 42, top.DaysOverdue)
	// 30 (days) + 25 (balance) + 8 (missed)
	assert.Equal(t, 63, top.RiskScore)
	assert.Equal(t, fee.RiskHigh, top.RiskLevel)
	assert.Equal(t, "Send formal reminder + offer payment plan discussion", top.SuggestedAction)
	assert.Equal(t, "3 monthly installments of ₱8,334", top.RecommendedPlan)
	require.Len(t, top.PaymentHistory, 1)
	assert.Equal(t, "missed", top.PaymentHistory[0].Status)
	assert.Equal(t, "Maria Dela Cruz", top.GuardianName)

	assert.Equal(t, fee.RiskMedium, report.Students[1].RiskLevel)
	assert.Zero(t, report.Students[1].DaysOverdue)
	require.NotNil(t, report.Students[1].NextDueDate)
	assert.Equal(t, time.Date(2024, 8, 8, 0, 0, 0, 0, time.UTC), *report.Students[1].NextDueDate)

	assert.Equal(t, 2, report.Summary.StudentsWithBalance)
	assert.Equal(t, 1, report.Summary.HighCount)
	assert.Equal(t, 1, report.Summary.MediumCount)
	assert.Equal(t, 42, report.Summary.AvgDaysOverdue)
	assertDecimal(t, 50000, report.Summary.TotalOutstanding, "total_outstanding")
	assert.Equal(t, 0, report.Summary.CollectionRate)

	report, err = f.svc.CollectionRisk(ctx, fee.RiskRequest{SchoolID: testutil.SchoolID, MinRiskLevel: fee.RiskHigh})
	require.NoError(t, err)
	assert.Len(t, report.Students, 1)

	report, err = f.svc.CollectionRisk(ctx, fee.RiskRequest{SchoolID: "empty-school"})
	require.NoError(t, err)
	assert.Empty(t, report.Students)
	assert.Equal(t, 100, report.Summary.CollectionRate)
}

func TestService_PaymentPlans(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateDefaultPaymentPlans(ctx, fee.DefaultPlansRequest{SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID})
	var cErr *core.ConflictError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, fee.ErrPlansExist, cErr.Err)

	plans, err := f.svc.CreateDefaultPaymentPlans(ctx, fee.DefaultPlansRequest{SchoolID: testutil.SchoolID, SchoolYearID: "sy-2025"})
	require.NoError(t, err)
	assert.Len(t, plans, 4)

	plan, err := f.svc.CreatePaymentPlan(ctx, fee.NewPaymentPlan{
		SchoolID:             testutil.SchoolID,
		SchoolYearID:         "sy-2025",
		Name:                 "Three Terms",
		NumberOfInstallments: 3,
		DiscountPercentage:   dec(2),
	})
	require.NoError(t, err)
	assert.Equal(t, fee.PlanCode(3, testutil.Now.UnixMilli()), plan.Code)
	assert.Len(t, plan.InstallmentSchedule, 3)
	assert.True(t, fee.PercentageTotal(plan.InstallmentSchedule).Equal(dec(100)))

	_, err = f.svc.CreatePaymentPlan(ctx, fee.NewPaymentPlan{
		SchoolID: testutil.SchoolID, SchoolYearID: "sy-2025", Name: "Again", Code: "FULL", NumberOfInstallments: 1,
	})
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, fee.ErrPlanCodeExists, cErr.Err)

	listed, err := f.svc.ListPaymentPlans(ctx, fee.PlanListRequest{SchoolID: testutil.SchoolID, SchoolYearID: "sy-2025"})
	require.NoError(t, err)
	assert.Len(t, listed, 5)
}

func TestService_FeeStructures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	lab := f.DB.AddFeeCategory(fee.FeeCategory{SchoolID: testutil.SchoolID, Name: "Laboratory", Code: "LAB", Category: fee.CategoryOther})

	created, err := f.svc.CreateFeeStructures(ctx, fee.BulkFeeStructures{
		SchoolID:     testutil.SchoolID,
		SchoolYearID: testutil.SchoolYearID,
		Structures: []fee.NewFeeStructure{
			{SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID, FeeCategoryID: lab.ID, Name: "Lab Fee", GradeLevel: "Grade 8", Amount: dec(1500)},
			{SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID, FeeCategoryID: lab.ID, Name: "Lab Fee", GradeLevel: "Grade 9", Amount: dec(1800)},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, fee.CategoryOther, created[0].Category)
	assert.True(t, created[0].IsActive)

	_, err = f.svc.CreateFeeStructures(ctx, fee.BulkFeeStructures{
		SchoolID:     testutil.SchoolID,
		SchoolYearID: testutil.SchoolYearID,
		Structures: []fee.NewFeeStructure{
			{SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID, FeeCategoryID: lab.ID, Name: "Lab Fee", GradeLevel: "Grade 10", Amount: dec(2000)},
			{SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID, FeeCategoryID: lab.ID, Name: "Lab Fee", GradeLevel: "Grade 8", Amount: dec(1500)},
		},
	})
	var cErr *core.ConflictError
	require.True(t, errors.As(err, &cErr), "err = %v", err)
	assert.Equal(t, fee.ErrStructureExists, cErr.Err)

	// the batch is all or none
	listed, err := f.svc.ListFeeStructures(ctx, fee.StructureListRequest{SchoolID: testutil.SchoolID, FeeCategoryID: lab.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = f.svc.CreateFeeStructure(ctx, fee.NewFeeStructure{
		SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID, FeeCategoryID: "nope", Name: "Ghost",
	})
	var nErr *core.NotFoundError
	require.True(t, errors.As(err, &nErr))
	assert.Equal(t, fee.ErrCategoryNotFound, nErr.Err)

	require.NoError(t, f.svc.DeactivateFeeStructure(ctx, created[0].ID))
	listed, err = f.svc.ListFeeStructures(ctx, fee.StructureListRequest{SchoolID: testutil.SchoolID, FeeCategoryID: lab.ID, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	err = f.svc.DeactivateFeeStructure(ctx, "nope")
	assert.True(t, errors.As(err, &nErr))
}

func TestService_ExportStatement(t *testing.T) {
	f := setup(t)
	account := f.assess(t, "FULL").FeeAccount

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportStatement(context.Background(), account.ID, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")), "not a zip archive")

	ct, ext := f.svc.StatementFormat()
	assert.Equal(t, ".xlsx", ext)
	assert.NotEmpty(t, ct)

	err := f.svc.ExportStatement(context.Background(), "nope", &buf)
	var nErr *core.NotFoundError
	assert.True(t, errors.As(err, &nErr))
}

func TestService_RecordPayment_Concurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.assess(t, "QUARTERLY").FeeAccount // 4 x 6,250

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(ctx, fee.NewPayment{AccountID: account.ID, Amount: dec(1000), PaymentMethod: fee.MethodCash})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	details, err := f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assertDecimal(t, n*1000, details.Account.TotalPaid, "total_paid")
	assertDecimal(t, 25000-n*1000, details.Account.CurrentBalance, "current_balance")
	assert.Len(t, details.Payments, n)

	paid := decimal.Zero
	for _, s := range details.Schedules {
		paid = paid.Add(s.AmountPaid)
	}
	assertDecimal(t, n*1000, paid, "schedules amount_paid")

	receipts := make(map[string]bool, n)
	for _, p := range details.Payments {
		receipts[p.ORNumber] = true
	}
	assert.Len(t, receipts, n)
}

func TestService_UpdateAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.assess(t, "FULL").FeeAccount

	updated, err := f.svc.UpdateAccount(ctx, account.ID, fee.AccountUpdate{Status: "on_hold", Reason: "guardian request"})
	require.NoError(t, err)
	assert.Equal(t, fee.AccountOnHold, updated.Status)
	assert.Equal(t, fee.EnrollmentOnHold, f.DB.Student(f.Student.ID).EnrollmentStatus)

	activity := f.DB.Activity(account.ID)
	last := activity[len(activity)-1]
	assert.Equal(t, fee.ActionStatusChanged, last.Action)
	assert.Equal(t, "Account status changed from active to on_hold. Reason: guardian request", last.Description)
	assert.Equal(t, fee.AccountActive, last.OldValue["status"])

	notes := " call before June 15 "
	updated, err = f.svc.UpdateAccount(ctx, account.ID, fee.AccountUpdate{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "call before June 15", updated.Notes)
	assert.Equal(t, fee.AccountOnHold, updated.Status)
	activity = f.DB.Activity(account.ID)
	assert.Equal(t, fee.ActionAccountUpdated, activity[len(activity)-1].Action)
	assert.Equal(t, "Account notes updated", activity[len(activity)-1].Description)

	// back to active: the enrollment status follows the balance
	_, err = f.svc.UpdateAccount(ctx, account.ID, fee.AccountUpdate{Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, fee.EnrollmentAssessed, f.DB.Student(f.Student.ID).EnrollmentStatus)

	_, err = f.svc.UpdateAccount(ctx, account.ID, fee.AccountUpdate{Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, fee.EnrollmentDropped, f.DB.Student(f.Student.ID).EnrollmentStatus)

	_, err = f.svc.UpdateAccount(ctx, account.ID, fee.AccountUpdate{Status: "cancelled"})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "err = %v", err)
	assert.Equal(t, fee.ErrNothingToUpdate, vErr.Err)

	_, err = f.svc.UpdateAccount(ctx, "nope", fee.AccountUpdate{Status: "active"})
	var nErr *core.NotFoundError
	assert.True(t, errors.As(err, &nErr))
}

func TestService_ListAccounts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	juan := f.assess(t, "FULL").FeeAccount // net 24,000

	for _, name := range []string{"Ana Reyes", "Jose Rizal", "Andres Bonifacio"} {
		st := testutil.AddStudent(t, f.DB, name, "")
		req := f.assessRequest("QUARTERLY") // net 25,000
		req.StudentID = st.ID
		_, err := f.svc.Assess(ctx, req)
		require.NoError(t, err)
	}
	_, err := f.svc.RecordPayment(ctx, fee.NewPayment{AccountID: juan.ID, Amount: dec(24000), PaymentMethod: fee.MethodCash})
	require.NoError(t, err)

	tests := []struct {
		name      string
		req       fee.AccountListRequest
		wantCount int
		wantTotal int
		wantMore  bool
	}{
		{"all", fee.AccountListRequest{SchoolID: testutil.SchoolID}, 4, 4, false},
		{"page", fee.AccountListRequest{SchoolID: testutil.SchoolID, Limit: 3}, 3, 4, true},
		{"last page", fee.AccountListRequest{SchoolID: testutil.SchoolID, Limit: 3, Offset: 3}, 1, 4, false},
		{"status", fee.AccountListRequest{Status: "settled"}, 1, 1, false},
		{"school year", fee.AccountListRequest{SchoolYearID: "sy-2025"}, 0, 0, false},
		{"grade level", fee.AccountListRequest{GradeLevel: testutil.GradeLevel}, 4, 4, false},
		{"min balance", fee.AccountListRequest{MinBalance: "1"}, 3, 3, false},
		{"search", fee.AccountListRequest{Search: " an "}, 3, 3, false},
		{"search is case insensitive", fee.AccountListRequest{Search: "RIZAL"}, 1, 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page, err := f.svc.ListAccounts(ctx, tc.req)
			require.NoError(t, err)
			assert.Len(t, page.Accounts, tc.wantCount)
			assert.Equal(t, tc.wantTotal, page.Pagination.Total)
			assert.Equal(t, tc.wantMore, page.Pagination.HasMore)
		})
	}

	page, err := f.svc.ListAccounts(ctx, fee.AccountListRequest{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 200, page.Pagination.Limit)
	page, err = f.svc.ListAccounts(ctx, fee.AccountListRequest{})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Pagination.Limit)
}

func TestService_FeeCategories(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	lab, err := f.svc.CreateFeeCategory(ctx, fee.NewFeeCategory{
		SchoolID: testutil.SchoolID, Name: " Laboratory ", Code: "lab", Category: "laboratory", SortOrder: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "LAB", lab.Code)
	assert.Equal(t, "Laboratory", lab.Name)
	assert.Equal(t, fee.CategoryLaboratory, lab.Category)
	assert.True(t, lab.IsRequired)
	assert.True(t, lab.IsActive)

	optional := false
	special, err := f.svc.CreateFeeCategory(ctx, fee.NewFeeCategory{
		SchoolID: testutil.SchoolID, Name: "Field Trip", Category: "special", IsRequired: &optional, SortOrder: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, fee.CategoryCode("special", testutil.Now.UnixMilli()), special.Code)
	assert.False(t, special.IsRequired)

	_, err = f.svc.CreateFeeCategory(ctx, fee.NewFeeCategory{SchoolID: testutil.SchoolID, Name: "Lab 2", Code: "LAB", Category: "laboratory"})
	var cErr *core.ConflictError
	require.True(t, errors.As(err, &cErr), "err = %v", err)
	assert.Equal(t, fee.ErrCategoryExists, cErr.Err)

	// codes are unique per school
	_, err = f.svc.CreateFeeCategory(ctx, fee.NewFeeCategory{SchoolID: "school-2", Name: "Laboratory", Code: "LAB", Category: "laboratory"})
	require.NoError(t, err)

	listed, err := f.svc.ListFeeCategories(ctx, fee.CategoryListRequest{SchoolID: testutil.SchoolID})
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.Equal(t, []string{"TUITION", "MISC", "LAB", special.Code}, []string{listed[0].Code, listed[1].Code, listed[2].Code, listed[3].Code})

	listed, err = f.svc.ListFeeCategories(ctx, fee.CategoryListRequest{SchoolID: testutil.SchoolID, Category: "laboratory"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestService_FeeStructures_Recreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	lab := f.DB.AddFeeCategory(fee.FeeCategory{SchoolID: testutil.SchoolID, Name: "Laboratory", Code: "LAB", Category: fee.CategoryLaboratory})
	newLab := fee.NewFeeStructure{
		SchoolID: testutil.SchoolID, SchoolYearID: testutil.SchoolYearID, FeeCategoryID: lab.ID,
		Name: "Lab Fee", GradeLevel: testutil.GradeLevel, Amount: dec(1500),
	}

	old, err := f.svc.CreateFeeStructure(ctx, newLab)
	require.NoError(t, err)
	f.assess(t, "FULL")

	_, err = f.svc.CreateFeeStructure(ctx, newLab)
	var cErr *core.ConflictError
	require.True(t, errors.As(err, &cErr), "err = %v", err)
	assert.Equal(t, fee.ErrStructureExists, cErr.Err)
	assert.Equal(t, old.ID, cErr.Data["existing_structure_id"])

	// re-pricing an assessed structure: deactivate it, then create its replacement
	require.NoError(t, f.svc.DeactivateFeeStructure(ctx, old.ID))
	newLab.Amount = dec(1800)
	replacement, err := f.svc.CreateFeeStructure(ctx, newLab)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, replacement.ID)

	// the old one cannot come back while its replacement is active
	active := true
	_, err = f.svc.UpdateFeeStructure(ctx, old.ID, fee.StructureUpdate{IsActive: &active})
	require.True(t, errors.As(err, &cErr), "err = %v", err)
	assert.Equal(t, fee.ErrStructureExists, cErr.Err)

	listed, err := f.svc.ListFeeStructures(ctx, fee.StructureListRequest{FeeCategoryID: lab.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestService_UpdateFeeStructure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	lab := f.DB.AddFeeCategory(fee.FeeCategory{SchoolID: testutil.SchoolID, Name: "Laboratory", Code: "LAB", Category: fee.CategoryLaboratory})
	structure := testutil.AddStructure(t, f.Repo, lab, "Lab Fee", "", 1500)

	amount := dec(1800)
	updated, err := f.svc.UpdateFeeStructure(ctx, structure.ID, fee.StructureUpdate{Amount: &amount})
	require.NoError(t, err)
	assertDecimal(t, 1800, updated.Amount, "amount")

	f.assess(t, "FULL")

	amount = dec(2000)
	_, err = f.svc.UpdateFeeStructure(ctx, structure.ID, fee.StructureUpdate{Amount: &amount})
	var cErr *core.ConflictError
	require.True(t, errors.As(err, &cErr), "err = %v", err)
	assert.Equal(t, fee.ErrStructureInUse, cErr.Err)
	assert.Equal(t, 1, cErr.Data["line_item_count"])

	name := "Science Lab Fee"
	updated, err = f.svc.UpdateFeeStructure(ctx, structure.ID, fee.StructureUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Science Lab Fee", updated.Name)
	assertDecimal(t, 1800, updated.Amount, "amount")

	fetched, err := f.svc.GetFeeStructure(ctx, structure.ID)
	require.NoError(t, err)
	assert.Equal(t, "Science Lab Fee", fetched.Name)

	_, err = f.svc.UpdateFeeStructure(ctx, "nope", fee.StructureUpdate{Name: &name})
	var nErr *core.NotFoundError
	assert.True(t, errors.As(err, &nErr))
}

func TestService_DeleteFeeStructure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	lab := f.DB.AddFeeCategory(fee.FeeCategory{SchoolID: testutil.SchoolID, Name: "Laboratory", Code: "LAB", Category: fee.CategoryLaboratory})
	unused := testutil.AddStructure(t, f.Repo, lab, "Lab Fee", "", 1500)

	res, err := f.svc.DeleteFeeStructure(ctx, unused.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.DeleteResult{Deleted: true, Message: "Fee structure deleted"}, res)
	_, err = f.svc.GetFeeStructure(ctx, unused.ID)
	var nErr *core.NotFoundError
	assert.True(t, errors.As(err, &nErr))

	account := f.assess(t, "FULL").FeeAccount
	tuition, err := f.svc.ListFeeStructures(ctx, fee.StructureListRequest{FeeCategoryID: f.Tuition.ID})
	require.NoError(t, err)
	require.Len(t, tuition, 1)

	res, err = f.svc.DeleteFeeStructure(ctx, tuition[0].ID)
	require.NoError(t, err)
	assert.Equal(t, fee.DeleteResult{Deactivated: true, Message: "Fee structure deactivated (has associated fee assessments)"}, res)
	kept, err := f.svc.GetFeeStructure(ctx, tuition[0].ID)
	require.NoError(t, err)
	assert.False(t, kept.IsActive)

	details, err := f.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, details.LineItems, 2)
}

func TestService_UpdatePaymentPlan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	quarterly := f.Plans["QUARTERLY"]

	three := 3
	plan, err := f.svc.UpdatePaymentPlan(ctx, quarterly.ID, fee.PlanUpdate{NumberOfInstallments: &three})
	require.NoError(t, err)
	assert.Equal(t, 3, plan.NumberOfInstallments)
	require.Len(t, plan.InstallmentSchedule, 3)
	assertDecimal(t, 34, plan.InstallmentSchedule[0].Percentage, "first installment")
	assert.True(t, fee.PercentageTotal(plan.InstallmentSchedule).Equal(dec(100)))

	fetched, err := f.svc.GetPaymentPlan(ctx, quarterly.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, fetched.NumberOfInstallments)

	code := "full"
	_, err = f.svc.UpdatePaymentPlan(ctx, quarterly.ID, fee.PlanUpdate{Code: &code})
	var cErr *core.ConflictError
	require.True(t, errors.As(err, &cErr), "err = %v", err)
	assert.Equal(t, fee.ErrPlanCodeExists, cErr.Err)

	two := 2
	_, err = f.svc.UpdatePaymentPlan(ctx, quarterly.ID, fee.PlanUpdate{
		NumberOfInstallments: &two,
		InstallmentSchedule: []fee.InstallmentTemplate{
			{InstallmentNumber: 1, Percentage: dec(60)},
			{InstallmentNumber: 2, Percentage: dec(30)},
		},
	})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "err = %v", err)
	assert.Equal(t, fee.ErrBadSchedulePercent, vErr.Err)

	_, err = f.svc.UpdatePaymentPlan(ctx, "nope", fee.PlanUpdate{NumberOfInstallments: &two})
	var nErr *core.NotFoundError
	assert.True(t, errors.As(err, &nErr))
}

func TestService_DeletePaymentPlan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.assess(t, "FULL")

	res, err := f.svc.DeletePaymentPlan(ctx, f.Plans["MONTHLY"].ID)
	require.NoError(t, err)
	assert.Equal(t, fee.DeleteResult{Deleted: true, Message: "Payment plan deleted"}, res)
	_, err = f.svc.GetPaymentPlan(ctx, f.Plans["MONTHLY"].ID)
	var nErr *core.NotFoundError
	assert.True(t, errors.As(err, &nErr))

	res, err = f.svc.DeletePaymentPlan(ctx, f.Plans["FULL"].ID)
	require.NoError(t, err)
	assert.Equal(t, fee.DeleteResult{Deactivated: true, Message: "Payment plan deactivated (used by 1 student accounts)"}, res)
	plan, err := f.svc.GetPaymentPlan(ctx, f.Plans["FULL"].ID)
	require.NoError(t, err)
	assert.False(t, plan.IsActive)
}
