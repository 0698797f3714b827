package fee

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultDueDateOffsetDays       = 7
	defaultInstallmentIntervalDays = 30
)

// Totals holds the per-category sums of the applicable fee structures.
type Totals struct {
	Tuition       decimal.Decimal `json:"tuition"`
	Miscellaneous decimal.Decimal `json:"miscellaneous"`
	Other         decimal.Decimal `json:"other"`
}

func (t *Totals) add(c Category, amount decimal.Decimal) {
	switch c {
	case CategoryTuition:
		t.Tuition = t.Tuition.Add(amount)
	case CategoryMiscellaneous:
		t.Miscellaneous = t.Miscellaneous.Add(amount)
	default:
		t.Other = t.Other.Add(amount)
	}
}

func (t Totals) Sum() decimal.Decimal {
	return t.Tuition.Add(t.Miscellaneous).Add(t.Other)
}

// FilterBySection keeps the structures charged to a student of sectionID.
func FilterBySection(structures []FeeStructure, sectionID string) []FeeStructure {
	if sectionID == "" {
		return structures
	}
	applicable := make([]FeeStructure, 0, len(structures))
	for _, s := range structures {
		if s.AppliesToSection(sectionID) {
			applicable = append(applicable, s)
		}
	}
	return applicable
}

// Summarize buckets the structures by category and snapshots them as line items.
func Summarize(structures []FeeStructure) (Totals, []LineItem) {
	var totals Totals
	items := make([]LineItem, 0, len(structures))
	for _, s := range structures {
		totals.add(ParseCategory(string(s.Category)), s.Amount)
		items = append(items, LineItem{
			FeeStructureID: s.ID,
			FeeCategoryID:  s.FeeCategoryID,
			Description:    s.Name,
			Amount:         s.Amount,
			Quantity:       1,
			TotalAmount:    s.Amount,
		})
	}
	return totals, items
}

// Engine computes fee assessments. It does no I/O.
type Engine struct {
	// DueDateOffsetDays is always added to the first due date, even when one is given.
	DueDateOffsetDays int
	// InstallmentIntervalDays spaces installments that carry no due_day_offset.
	InstallmentIntervalDays int
}

func NewEngine(dueDateOffsetDays, installmentIntervalDays int) Engine {
	if installmentIntervalDays <= 0 {
		installmentIntervalDays = defaultInstallmentIntervalDays
	}
	if dueDateOffsetDays < 0 {
		dueDateOffsetDays = defaultDueDateOffsetDays
	}
	return Engine{
		DueDateOffsetDays:       dueDateOffsetDays,
		InstallmentIntervalDays: installmentIntervalDays,
	}
}

type AssessmentInput struct {
	Structures      []FeeStructure // already filtered by grade and section
	Plan            PaymentPlan
	Scholarship     Scholarship
	SiblingOrder    int // 0: the student is not in a family group
	SiblingTiers    []SiblingDiscount
	CustomDiscounts []CustomDiscount
	CarryForward    decimal.Decimal
	FirstDueDate    time.Time // zero: Now
	Now             time.Time
}

type Assessment struct {
	Totals         Totals
	TotalAssessed  decimal.Decimal
	TotalDiscounts decimal.Decimal
	NetAssessed    decimal.Decimal
	LineItems      []LineItem
	Discounts      []Discount
	Schedules      []Schedule
}

func (e Engine) Compute(in AssessmentInput) Assessment {
	totals, items := Summarize(in.Structures)

	assessed := totals.Sum()
	if in.CarryForward.IsPositive() {
		assessed = assessed.Add(in.CarryForward)
	}

	rules := make([]discountRule, 0, 3+len(in.CustomDiscounts))
	if r, ok := planDiscount(in.Plan); ok {
		rules = append(rules, r)
	}
	if r, ok := scholarshipDiscount(in.Scholarship); ok {
		rules = append(rules, r)
	}
	if r, ok := siblingDiscount(in.SiblingOrder, in.SiblingTiers); ok {
		rules = append(rules, r)
	}
	for _, c := range in.CustomDiscounts {
		rules = append(rules, customDiscount(c))
	}
	discounts, totalDiscounts := foldDiscounts(rules, bases{tuition: totals.Tuition, assessed: assessed})

	net := decimal.Max(decimal.Zero, assessed.Sub(totalDiscounts))

	return Assessment{
		Totals:         totals,
		TotalAssessed:  assessed,
		TotalDiscounts: totalDiscounts,
		NetAssessed:    net,
		LineItems:      items,
		Discounts:      discounts,
		Schedules:      e.BuildSchedule(net, in.Plan.InstallmentSchedule, in.FirstDueDate, in.Now),
	}
}

// BuildSchedule splits net over the plan installments.
// Amounts are rounded half away from zero to whole currency units, independently per installment.
func (e Engine) BuildSchedule(net decimal.Decimal, tmpl []InstallmentTemplate, firstDue, now time.Time) []Schedule {
	start := firstDue
	if start.IsZero() {
		start = now
	}
	base := truncateDay(start).AddDate(0, 0, e.DueDateOffsetDays)

	schedules := make([]Schedule, 0, len(tmpl))
	for i, inst := range tmpl {
		offset := inst.DueDayOffset
		if offset <= 0 {
			offset = i * e.InstallmentIntervalDays
		}
		number := inst.InstallmentNumber
		if number == 0 {
			number = i + 1
		}
		label := inst.Label
		if label == "" {
			label = fmt.Sprintf("Installment %d", i+1)
		}

		schedules = append(schedules, Schedule{
			InstallmentNumber: number,
			Label:             label,
			DueDate:           base.AddDate(0, 0, offset),
			AmountDue:         net.Mul(inst.Percentage).Div(hundred).Round(0),
			AmountPaid:        decimal.Zero,
			LateFeeAssessed:   decimal.Zero,
			Status:            SchedulePending,
		})
	}
	return schedules
}

// PercentageTotal sums the installment percentages. Plans are expected to total 100.
func PercentageTotal(tmpl []InstallmentTemplate) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range tmpl {
		total = total.Add(inst.Percentage)
	}
	return total
}

var (
	semesterLabels = []string{"First Semester", "Second Semester"}
	quarterLabels  = []string{"First Quarter", "Second Quarter", "Third Quarter", "Fourth Quarter"}
	// the school year starts in June
	monthLabels = []string{
		"June", "July", "August", "September", "October", "November",
		"December", "January", "February", "March", "April", "May",
	}
)

// InstallmentLabel names installment number (1-based) of a plan of total installments.
func InstallmentLabel(number, total int) string {
	switch {
	case total == 1:
		return "Full Payment"
	case total == 2 && number <= 2:
		return semesterLabels[number-1]
	case total == 4 && number <= 4:
		return quarterLabels[number-1]
	case (total == 10 || total == 12) && number <= len(monthLabels):
		return monthLabels[number-1]
	default:
		return fmt.Sprintf("Installment %d", number)
	}
}

// EvenInstallments spreads 100% over n installments in whole percents, the remainder going to the first one.
func EvenInstallments(n, intervalDays int) []InstallmentTemplate {
	if n < 1 {
		return nil
	}
	each := 100 / n
	remainder := 100 - each*n

	schedule := make([]InstallmentTemplate, 0, n)
	for i := 0; i < n; i++ {
		pct := each
		if i == 0 {
			pct += remainder
		}
		schedule = append(schedule, InstallmentTemplate{
			InstallmentNumber: i + 1,
			Label:             InstallmentLabel(i+1, n),
			Percentage:        decimal.NewFromInt(int64(pct)),
			DueDayOffset:      i * intervalDays,
		})
	}
	return schedule
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
