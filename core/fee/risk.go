package fee

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

const (
	defaultRiskLimit = 50
	maxRiskLimit     = 100
	historyLength    = 5
	accountScanLimit = 200
)

var riskRanks = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

func (l RiskLevel) rank() int { return riskRanks[l] }

type (
	RiskRequest struct {
		SchoolID     string    `query:"school_id"`
		SchoolYearID string    `query:"school_year_id"`
		GradeLevel   string    `query:"grade_level"`
		MinRiskLevel RiskLevel `query:"min_risk_level" validate:"omitempty,oneof=low medium high critical"`
		Limit        int       `query:"limit" validate:"gte=0"`
	}

	HistoryItem struct {
		Date   time.Time       `json:"date"`
		Amount decimal.Decimal `json:"amount"`
		Status string          `json:"status"` // paid, partial or missed
		Method string          `json:"method,omitempty"`
	}

	StudentRisk struct {
		AccountID       string          `json:"id"`
		StudentID       string          `json:"student_id"`
		StudentName     string          `json:"student_name"`
		GuardianName    string          `json:"guardian_name"`
		GuardianEmail   string          `json:"guardian_email"`
		GuardianPhone   string          `json:"guardian_phone"`
		GradeLevel      string          `json:"grade_level"`
		SectionName     string          `json:"section_name"`
		TotalBalance    decimal.Decimal `json:"total_balance"`
		DaysOverdue     int             `json:"days_overdue"`
		RiskLevel       RiskLevel       `json:"risk_level"`
		RiskScore       int             `json:"risk_score"`
		PaymentHistory  []HistoryItem   `json:"payment_history"`
		SuggestedAction string          `json:"suggested_action"`
		RecommendedPlan string          `json:"recommended_plan,omitempty"`
		LastPaymentDate *time.Time      `json:"last_payment_date"`
		NextDueDate     *time.Time      `json:"next_due_date"`
		AccountStatus   AccountStatus   `json:"account_status"`
	}

	RiskSummary struct {
		StudentsWithBalance int             `json:"total_students_with_balance"`
		TotalOutstanding    decimal.Decimal `json:"total_outstanding"`
		CriticalCount       int             `json:"critical_count"`
		HighCount           int             `json:"high_risk_count"`
		MediumCount         int             `json:"medium_risk_count"`
		LowCount            int             `json:"low_risk_count"`
		AvgDaysOverdue      int             `json:"avg_days_overdue"`
		CollectionRate      int             `json:"collection_rate"`
		CollectedThisMonth  decimal.Decimal `json:"total_collected_this_month"`
	}

	RiskReport struct {
		Students    []StudentRisk `json:"students"`
		Summary     RiskSummary   `json:"summary"`
		Currency    string        `json:"currency"`
		GeneratedAt time.Time     `json:"generated_at"`
	}

	// RiskFactors are the inputs of ScoreRisk.
	RiskFactors struct {
		DaysOverdue     int
		Balance         decimal.Decimal
		Missed, Partial int
		OnHold          bool
	}
)

func (r RiskRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

var (
	balance10k = decimal.NewFromInt(10000)
	balance15k = decimal.NewFromInt(15000)
	balance20k = decimal.NewFromInt(20000)
	balance25k = decimal.NewFromInt(25000)
	balance30k = decimal.NewFromInt(30000)
)

// ScoreRisk scores how likely an account is to stay unpaid, from 0 to 100.
func ScoreRisk(f RiskFactors) int {
	score := 0
	switch {
	case f.DaysOverdue > 60:
		score += 40
	case f.DaysOverdue > 30:
		score += 30
	case f.DaysOverdue > 14:
		score += 20
	case f.DaysOverdue > 0:
		score += 10
	}

	switch {
	case f.Balance.GreaterThan(balance30k):
		score += 30
	case f.Balance.GreaterThan(balance20k):
		score += 25
	case f.Balance.GreaterThan(balance15k):
		score += 20
	case f.Balance.GreaterThan(balance10k):
		score += 10
	}

	score += f.Missed*8 + f.Partial*4
	if f.OnHold {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func LevelOf(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 25:
		return RiskMedium
	default:
		return RiskLow
	}
}

func SuggestedAction(level RiskLevel, daysOverdue int, status AccountStatus) string {
	if status == AccountOnHold {
		return "Account on hold - Contact required to discuss payment arrangement"
	}
	switch level {
	case RiskCritical:
		return "Immediate phone call to guardian + formal notice + consider payment plan"
	case RiskHigh:
		if daysOverdue > 30 {
			return "Send formal reminder + offer payment plan discussion"
		}
		return "Personal email reminder with payment options"
	case RiskMedium:
		return "Send friendly email reminder with online payment link"
	default:
		return "Include in standard monthly statement"
	}
}

// RecommendedPlan proposes a way to split a large balance, or "" when none is needed.
func RecommendedPlan(currency string, balance decimal.Decimal, daysOverdue int) string {
	switch {
	case balance.GreaterThan(balance25k):
		return fmt.Sprintf("4 monthly installments of %s", FormatMoneySymbol(currency, balance.Div(decimal.NewFromInt(4)).Ceil()))
	case balance.GreaterThan(balance15k):
		return fmt.Sprintf("3 monthly installments of %s", FormatMoneySymbol(currency, balance.Div(decimal.NewFromInt(3)).Ceil()))
	case balance.GreaterThan(balance10k) && daysOverdue > 30:
		return fmt.Sprintf("2 payments of %s", FormatMoneySymbol(currency, balance.Div(decimal.NewFromInt(2)).Ceil()))
	default:
		return ""
	}
}

// CollectionRisk ranks the accounts with an outstanding balance by how likely they are to stay unpaid.
func (svc *Service) CollectionRisk(ctx context.Context, req RiskRequest) (RiskReport, error) {
	minLevel := req.MinRiskLevel
	if _, ok := riskRanks[minLevel]; !ok {
		minLevel = RiskLow
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRiskLimit
	}
	if limit > maxRiskLimit {
		limit = maxRiskLimit
	}

	now := NowFunc().UTC()
	report := RiskReport{
		Students:    []StudentRisk{},
		Summary:     RiskSummary{CollectionRate: 100},
		Currency:    svc.currency,
		GeneratedAt: now,
	}

	accounts, err := svc.repo.QueryAccounts(ctx, AccountFilter{
		SchoolID:     req.SchoolID,
		SchoolYearID: req.SchoolYearID,
		GradeLevel:   req.GradeLevel,
		Statuses:     []AccountStatus{AccountActive, AccountOnHold},
		WithBalance:  true,
		Limit:        accountScanLimit,
	})
	if err != nil {
		return RiskReport{}, errors.Wrap(err, "querying fee accounts")
	}
	if len(accounts) == 0 {
		return report, nil
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}

	var (
		payments, monthly []Payment
		schedules         []Schedule
		students          = make([]Student, len(accounts))
		totalAccounts     int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		payments, err = svc.repo.QueryPayments(gctx, PaymentFilter{AccountIDs: ids, Status: PaymentCompleted})
		return errors.Wrap(err, "querying payments")
	})
	g.Go(func() (err error) {
		schedules, err = svc.repo.QuerySchedules(gctx, ScheduleFilter{
			AccountIDs: ids,
			Statuses:   []ScheduleStatus{SchedulePending, ScheduleOverdue, SchedulePartiallyPaid},
		})
		return errors.Wrap(err, "querying payment schedules")
	})
	g.Go(func() (err error) {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		monthly, err = svc.repo.QueryPayments(gctx, PaymentFilter{SchoolID: req.SchoolID, Status: PaymentCompleted, From: monthStart})
		return errors.Wrap(err, "querying payments of the month")
	})
	g.Go(func() (err error) {
		totalAccounts, err = svc.repo.CountAccounts(gctx, AccountFilter{SchoolID: req.SchoolID, SchoolYearID: req.SchoolYearID})
		return errors.Wrap(err, "counting fee accounts")
	})
	g.Go(func() error {
		for i, a := range accounts {
			s, err := svc.repo.GetStudent(gctx, a.StudentID)
			if err != nil && errors.Cause(err) != ErrStudentNotFound {
				return errors.Wrap(err, "getting student")
			}
			students[i] = s
		}
		return nil
	})
	if err = g.Wait(); err != nil {
		return RiskReport{}, err
	}

	paymentsByAccount := make(map[string][]Payment)
	for _, p := range payments {
		paymentsByAccount[p.AccountID] = append(paymentsByAccount[p.AccountID], p)
	}
	schedulesByAccount := make(map[string][]Schedule)
	for _, s := range schedules {
		schedulesByAccount[s.AccountID] = append(schedulesByAccount[s.AccountID], s)
	}

	var (
		atRisk          []StudentRisk
		overdueDays     int
		overdueAccounts int
	)
	for i, a := range accounts {
		report.Summary.TotalOutstanding = report.Summary.TotalOutstanding.Add(a.CurrentBalance)
		if a.DaysOverdue > 0 {
			overdueDays += a.DaysOverdue
			overdueAccounts++
		}

		r := svc.assessRisk(a, students[i], paymentsByAccount[a.ID], schedulesByAccount[a.ID])
		if r.RiskLevel.rank() < minLevel.rank() {
			continue
		}
		atRisk = append(atRisk, r)

		switch r.RiskLevel {
		case RiskCritical:
			report.Summary.CriticalCount++
		case RiskHigh:
			report.Summary.HighCount++
		case RiskMedium:
			report.Summary.MediumCount++
		default:
			report.Summary.LowCount++
		}
	}

	sort.SliceStable(atRisk, func(i, j int) bool { return atRisk[i].RiskScore > atRisk[j].RiskScore })
	if len(atRisk) > limit {
		report.Students = atRisk[:limit]
	} else if atRisk != nil {
		report.Students = atRisk
	}

	report.Summary.StudentsWithBalance = len(atRisk)
	if overdueAccounts > 0 {
		report.Summary.AvgDaysOverdue = int(math.Round(float64(overdueDays) / float64(overdueAccounts)))
	}
	if totalAccounts > 0 {
		report.Summary.CollectionRate = int(math.Round(float64(totalAccounts-len(atRisk)) / float64(totalAccounts) * 100))
	}
	for _, p := range monthly {
		report.Summary.CollectedThisMonth = report.Summary.CollectedThisMonth.Add(p.Amount)
	}
	return report, nil
}

// assessRisk scores one account. payments are ordered latest first and schedules by due date.
func (svc *Service) assessRisk(a Account, st Student, payments []Payment, schedules []Schedule) StudentRisk {
	history := make([]HistoryItem, 0, historyLength)
	for i, p := range payments {
		if i == historyLength {
			break
		}
		history = append(history, HistoryItem{Date: p.PaymentDate, Amount: p.Amount, Status: "paid", Method: p.PaymentMethod})
	}

	var missed, partial int
	var nextDue *time.Time
	for _, s := range schedules {
		switch s.Status {
		case ScheduleOverdue:
			item := HistoryItem{Date: s.DueDate, Amount: s.AmountDue.Sub(s.AmountPaid), Status: "missed"}
			if s.AmountPaid.IsPositive() {
				item.Status = "partial"
				partial++
			} else {
				missed++
			}
			history = append(history, item)
		case SchedulePending, SchedulePartiallyPaid:
			if nextDue == nil {
				due := s.DueDate
				nextDue = &due
			}
		}
	}
	if len(history) > historyLength {
		history = history[:historyLength]
	}

	score := ScoreRisk(RiskFactors{
		DaysOverdue: a.DaysOverdue,
		Balance:     a.CurrentBalance,
		Missed:      missed,
		Partial:     partial,
		OnHold:      a.Status == AccountOnHold,
	})
	level := LevelOf(score)

	r := StudentRisk{
		AccountID:       a.ID,
		StudentID:       a.StudentID,
		StudentName:     coalesce(st.Name, "Unknown"),
		GuardianName:    coalesce(st.GuardianName, "Parent/Guardian"),
		GuardianEmail:   st.GuardianEmail,
		GuardianPhone:   st.GuardianPhone,
		GradeLevel:      coalesce(st.GradeLevel, a.GradeLevelAtAssessment),
		SectionName:     st.SectionName,
		TotalBalance:    a.CurrentBalance,
		DaysOverdue:     a.DaysOverdue,
		RiskLevel:       level,
		RiskScore:       score,
		PaymentHistory:  history,
		SuggestedAction: SuggestedAction(level, a.DaysOverdue, a.Status),
		RecommendedPlan: RecommendedPlan(svc.currency, a.CurrentBalance, a.DaysOverdue),
		NextDueDate:     nextDue,
		AccountStatus:   a.Status,
	}
	if len(payments) > 0 {
		last := payments[0].PaymentDate
		r.LastPaymentDate = &last
	}
	return r
}
