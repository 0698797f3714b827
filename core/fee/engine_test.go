package fee

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func intPtr(v int) *int { return &v }

func structure(category Category, amount int64) FeeStructure {
	return FeeStructure{Name: string(category), Category: category, Amount: d(amount)}
}

func TestEngineCompute(t *testing.T) {
	now := time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)
	e := NewEngine(7, 30)
	full := []InstallmentTemplate{{Percentage: d(100)}}

	tests := []struct {
		name          string
		in            AssessmentInput
		wantAssessed  decimal.Decimal
		wantDiscounts decimal.Decimal
		wantNet       decimal.Decimal
		wantKinds     []DiscountType
	}{
		{
			name: "plan and scholarship stack on tuition",
			in: AssessmentInput{
				Structures:  []FeeStructure{structure(CategoryTuition, 20000), structure(CategoryMiscellaneous, 5000)},
				Plan:        PaymentPlan{Name: "Full Payment", DiscountPercentage: d(5), InstallmentSchedule: full},
				Scholarship: Scholarship{Type: "Academic", Percentage: d(50)},
				Now:         now,
			},
			wantAssessed:  d(25000),
			wantDiscounts: d(11000),
			wantNet:       d(14000),
			wantKinds:     []DiscountType{DiscountPaymentPlan, DiscountScholarship},
		},
		{
			name: "custom discount on all uses the undiscounted total",
			in: AssessmentInput{
				Structures:      []FeeStructure{structure(CategoryTuition, 20000), structure(CategoryMiscellaneous, 5000)},
				Plan:            PaymentPlan{Name: "Full Payment", DiscountPercentage: d(5), InstallmentSchedule: full},
				CustomDiscounts: []CustomDiscount{{Name: "Employee", Type: CalculationPercentage, Value: d(10), AppliesTo: AppliedToAll}},
				Now:             now,
			},
			wantAssessed:  d(25000),
			wantDiscounts: d(3500),
			wantNet:       d(21500),
			wantKinds:     []DiscountType{DiscountPaymentPlan, DiscountCustom},
		},
		{
			name: "discounts are not compounded",
			in: AssessmentInput{
				Structures: []FeeStructure{structure(CategoryTuition, 10000)},
				Plan:       PaymentPlan{Name: "Plan", DiscountPercentage: d(10), InstallmentSchedule: full},
				CustomDiscounts: []CustomDiscount{
					{Name: "Loyalty", Type: CalculationPercentage, Value: d(20), AppliesTo: AppliedToTuition},
				},
				Now: now,
			},
			wantAssessed:  d(10000),
			wantDiscounts: d(3000),
			wantNet:       d(7000),
			wantKinds:     []DiscountType{DiscountPaymentPlan, DiscountCustom},
		},
		{
			name: "net never goes negative",
			in: AssessmentInput{
				Structures:  []FeeStructure{structure(CategoryTuition, 1000)},
				Plan:        PaymentPlan{Name: "Plan", InstallmentSchedule: full},
				Scholarship: Scholarship{Amount: d(5000)},
				Now:         now,
			},
			wantAssessed:  d(1000),
			wantDiscounts: d(5000),
			wantNet:       d(0),
			wantKinds:     []DiscountType{DiscountScholarship},
		},
		{
			name: "carry forward adds to assessed, unknown category is other",
			in: AssessmentInput{
				Structures:   []FeeStructure{structure(CategoryTuition, 10000), structure("books", 1500)},
				Plan:         PaymentPlan{Name: "Plan", InstallmentSchedule: full},
				CarryForward: d(2500),
				Now:          now,
			},
			wantAssessed:  d(14000),
			wantDiscounts: d(0),
			wantNet:       d(14000),
		},
		{
			name: "negative carry forward is ignored",
			in: AssessmentInput{
				Structures:   []FeeStructure{structure(CategoryTuition, 10000)},
				Plan:         PaymentPlan{Name: "Plan", InstallmentSchedule: full},
				CarryForward: d(-500),
				Now:          now,
			},
			wantAssessed:  d(10000),
			wantDiscounts: d(0),
			wantNet:       d(10000),
		},
		{
			name: "sibling tier",
			in: AssessmentInput{
				Structures:   []FeeStructure{structure(CategoryTuition, 10000)},
				Plan:         PaymentPlan{Name: "Plan", InstallmentSchedule: full},
				SiblingOrder: 3,
				SiblingTiers: []SiblingDiscount{
					{SiblingOrderFrom: 2, SiblingOrderTo: intPtr(2), DiscountType: CalculationPercentage, DiscountPercentage: d(5)},
					{SiblingOrderFrom: 3, DiscountType: CalculationPercentage, DiscountPercentage: d(10)},
				},
				Now: now,
			},
			wantAssessed:  d(10000),
			wantDiscounts: d(1000),
			wantNet:       d(9000),
			wantKinds:     []DiscountType{DiscountSibling},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := e.Compute(tt.in)
			if !a.TotalAssessed.Equal(tt.wantAssessed) {
				t.Errorf("TotalAssessed = %s; want %s", a.TotalAssessed, tt.wantAssessed)
			}
			if !a.TotalDiscounts.Equal(tt.wantDiscounts) {
				t.Errorf("TotalDiscounts = %s; want %s", a.TotalDiscounts, tt.wantDiscounts)
			}
			if !a.NetAssessed.Equal(tt.wantNet) {
				t.Errorf("NetAssessed = %s; want %s", a.NetAssessed, tt.wantNet)
			}
			if len(a.Discounts) != len(tt.wantKinds) {
				t.Fatalf("len(Discounts) = %d; want %d", len(a.Discounts), len(tt.wantKinds))
			}
			for i, kind := range tt.wantKinds {
				if a.Discounts[i].DiscountType != kind {
					t.Errorf("Discounts[%d].DiscountType = %s; want %s", i, a.Discounts[i].DiscountType, kind)
				}
			}
			if len(a.LineItems) != len(tt.in.Structures) {
				t.Errorf("len(LineItems) = %d; want %d", len(a.LineItems), len(tt.in.Structures))
			}
		})
	}
}

func TestDiscountDetails(t *testing.T) {
	e := NewEngine(7, 30)
	a := e.Compute(AssessmentInput{
		Structures:      []FeeStructure{structure(CategoryTuition, 20000), structure(CategoryMiscellaneous, 5000)},
		Plan:            PaymentPlan{Name: "Full Payment", DiscountPercentage: d(5)},
		Scholarship:     Scholarship{Percentage: d(10), Amount: d(3000)},
		SiblingOrder:    2,
		SiblingTiers:    []SiblingDiscount{{SiblingOrderFrom: 2, DiscountType: CalculationFixed, DiscountAmount: d(500)}},
		CustomDiscounts: []CustomDiscount{{Name: "Promo", Type: CalculationFixed, Value: d(250)}},
		Now:             time.Now(),
	})

	want := []struct {
		name      string
		calc      CalculationType
		amount    decimal.Decimal
		appliedTo string
	}{
		{"Full Payment Discount", CalculationPercentage, d(1000), AppliedToTuition},
		{"Scholarship", CalculationPercentage, d(2000), AppliedToTuition}, // percentage wins over amount
		{"Sibling Discount (Child #2)", CalculationFixed, d(500), AppliedToTuition},
		{"Promo", CalculationFixed, d(250), AppliedToAll},
	}
	if len(a.Discounts) != len(want) {
		t.Fatalf("len(Discounts) = %d; want %d", len(a.Discounts), len(want))
	}
	for i, w := range want {
		got := a.Discounts[i]
		if got.DiscountName != w.name || got.CalculationType != w.calc || !got.DiscountAmount.Equal(w.amount) || got.AppliedTo != w.appliedTo {
			t.Errorf("Discounts[%d] = {%s %s %s %s}; want {%s %s %s %s}", i,
				got.DiscountName, got.CalculationType, got.DiscountAmount, got.AppliedTo,
				w.name, w.calc, w.amount, w.appliedTo)
		}
	}
	if a.Discounts[0].Percentage == nil || !a.Discounts[0].Percentage.Equal(d(5)) {
		t.Errorf("plan discount percentage = %v; want 5", a.Discounts[0].Percentage)
	}
	if a.Discounts[2].FixedAmount == nil || !a.Discounts[2].FixedAmount.Equal(d(500)) {
		t.Errorf("sibling discount fixed amount = %v; want 500", a.Discounts[2].FixedAmount)
	}
}

func TestMatchSiblingTier(t *testing.T) {
	tiers := []SiblingDiscount{
		{ID: "second", SiblingOrderFrom: 2, SiblingOrderTo: intPtr(2)},
		{ID: "third-plus", SiblingOrderFrom: 3},
	}
	tests := []struct {
		order  int
		wantID string
	}{
		{1, ""},
		{2, "second"},
		{3, "third-plus"},
		{7, "third-plus"},
	}
	for _, tt := range tests {
		tier, ok := MatchSiblingTier(tt.order, tiers)
		if ok != (tt.wantID != "") || tier.ID != tt.wantID {
			t.Errorf("MatchSiblingTier(%d) = %q, %v; want %q", tt.order, tier.ID, ok, tt.wantID)
		}
	}
	if got := SiblingOrder(2); got != 3 {
		t.Errorf("SiblingOrder(2) = %d; want 3", got)
	}
}

func TestBuildSchedule(t *testing.T) {
	now := time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)
	e := NewEngine(7, 30)

	t.Run("offsets from now plus 7 days", func(t *testing.T) {
		got := e.BuildSchedule(d(10000), []InstallmentTemplate{
			{Percentage: d(50)},
			{Percentage: d(50), DueDayOffset: 150, Label: "Second Semester", InstallmentNumber: 2},
		}, time.Time{}, now)

		if len(got) != 2 {
			t.Fatalf("len = %d; want 2", len(got))
		}
		if want := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC); !got[0].DueDate.Equal(want) {
			t.Errorf("first due = %s; want %s", got[0].DueDate, want)
		}
		if want := time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC); !got[1].DueDate.Equal(want) {
			t.Errorf("second due = %s; want %s", got[1].DueDate, want)
		}
		if got[0].Label != "Installment 1" || got[0].InstallmentNumber != 1 {
			t.Errorf("defaults = %q #%d; want \"Installment 1\" #1", got[0].Label, got[0].InstallmentNumber)
		}
		if got[1].Label != "Second Semester" {
			t.Errorf("label = %q; want \"Second Semester\"", got[1].Label)
		}
		for _, s := range got {
			if !s.AmountDue.Equal(d(5000)) || s.Status != SchedulePending || !s.AmountPaid.IsZero() {
				t.Errorf("schedule = %s %s %s; want 5000 pending 0", s.AmountDue, s.Status, s.AmountPaid)
			}
		}
	})

	t.Run("first due date still gets the offset", func(t *testing.T) {
		first := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
		got := e.BuildSchedule(d(9000), []InstallmentTemplate{{Percentage: d(100)}}, first, now)
		if want := time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC); !got[0].DueDate.Equal(want) {
			t.Errorf("due = %s; want %s", got[0].DueDate, want)
		}
	})

	t.Run("missing offsets are spaced by the interval", func(t *testing.T) {
		got := e.BuildSchedule(d(9000), []InstallmentTemplate{{Percentage: d(50)}, {Percentage: d(50)}}, time.Time{}, now)
		if diff := got[1].DueDate.Sub(got[0].DueDate); diff != 30*24*time.Hour {
			t.Errorf("interval = %s; want 720h", diff)
		}
	})

	t.Run("rounding error stays within a few units", func(t *testing.T) {
		net := d(10001)
		got := e.BuildSchedule(net, EvenInstallments(3, 30), time.Time{}, now)
		sum := decimal.Zero
		for _, s := range got {
			if !s.AmountDue.Equal(s.AmountDue.Round(0)) {
				t.Errorf("amount %s is not whole", s.AmountDue)
			}
			sum = sum.Add(s.AmountDue)
		}
		if diff := sum.Sub(net).Abs(); diff.GreaterThan(d(3)) {
			t.Errorf("sum %s differs from %s by %s", sum, net, diff)
		}
	})

	t.Run("half rounds up", func(t *testing.T) {
		got := e.BuildSchedule(d(1001), []InstallmentTemplate{{Percentage: d(50)}, {Percentage: d(50)}}, time.Time{}, now)
		if !got[0].AmountDue.Equal(d(501)) {
			t.Errorf("amount = %s; want 501", got[0].AmountDue)
		}
	})

	t.Run("percentages are not checked", func(t *testing.T) {
		got := e.BuildSchedule(d(1000), []InstallmentTemplate{{Percentage: d(60)}, {Percentage: d(60)}}, time.Time{}, now)
		if sum := got[0].AmountDue.Add(got[1].AmountDue); !sum.Equal(d(1200)) {
			t.Errorf("sum = %s; want 1200", sum)
		}
	})
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(-1, 0)
	if e.DueDateOffsetDays != 7 || e.InstallmentIntervalDays != 30 {
		t.Errorf("NewEngine(-1, 0) = %+v; want offset 7, interval 30", e)
	}
	if e = NewEngine(0, 15); e.DueDateOffsetDays != 0 || e.InstallmentIntervalDays != 15 {
		t.Errorf("NewEngine(0, 15) = %+v; want offset 0, interval 15", e)
	}
}

func TestFilterBySection(t *testing.T) {
	structures := []FeeStructure{
		{ID: "all"},
		{ID: "s1", SectionID: "S1"},
		{ID: "s2", SectionID: "S2"},
	}
	tests := []struct {
		section string
		want    []string
	}{
		{"", []string{"all", "s1", "s2"}},
		{"S1", []string{"all", "s1"}},
		{"S3", []string{"all"}},
	}
	for _, tt := range tests {
		got := FilterBySection(structures, tt.section)
		if len(got) != len(tt.want) {
			t.Errorf("FilterBySection(%q) = %d structures; want %d", tt.section, len(got), len(tt.want))
			continue
		}
		for i, id := range tt.want {
			if got[i].ID != id {
				t.Errorf("FilterBySection(%q)[%d] = %s; want %s", tt.section, i, got[i].ID, id)
			}
		}
	}
}

func TestInstallmentLabel(t *testing.T) {
	tests := []struct {
		number, total int
		want          string
	}{
		{1, 1, "Full Payment"},
		{2, 2, "Second Semester"},
		{3, 4, "Third Quarter"},
		{1, 10, "June"},
		{8, 10, "January"},
		{12, 12, "May"},
		{2, 3, "Installment 2"},
	}
	for _, tt := range tests {
		if got := InstallmentLabel(tt.number, tt.total); got != tt.want {
			t.Errorf("InstallmentLabel(%d, %d) = %q; want %q", tt.number, tt.total, got, tt.want)
		}
	}
}

func TestEvenInstallments(t *testing.T) {
	got := EvenInstallments(3, 30)
	wantPct := []int64{34, 33, 33}
	if len(got) != 3 {
		t.Fatalf("len = %d; want 3", len(got))
	}
	for i, inst := range got {
		if !inst.Percentage.Equal(d(wantPct[i])) || inst.DueDayOffset != i*30 || inst.InstallmentNumber != i+1 {
			t.Errorf("[%d] = %+v", i, inst)
		}
	}
	if total := PercentageTotal(got); !total.Equal(d(100)) {
		t.Errorf("total = %s; want 100", total)
	}
	if EvenInstallments(0, 30) != nil {
		t.Error("EvenInstallments(0) should be nil")
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		amount     decimal.Decimal
		want, sign string
	}{
		{d(25000), "PHP 25,000", "₱25,000"},
		{decimal.RequireFromString("1234567.5"), "PHP 1,234,567.50", "₱1,234,567.50"},
		{d(0), "PHP 0", "₱0"},
	}
	for _, tt := range tests {
		if got := FormatMoney("PHP", tt.amount); got != tt.want {
			t.Errorf("FormatMoney(%s) = %q; want %q", tt.amount, got, tt.want)
		}
		if got := FormatMoneySymbol("PHP", tt.amount); got != tt.sign {
			t.Errorf("FormatMoneySymbol(%s) = %q; want %q", tt.amount, got, tt.sign)
		}
	}
	if got := FormatMoneySymbol("KES", d(100)); got != "KES 100" {
		t.Errorf("FormatMoneySymbol(KES) = %q; want \"KES 100\"", got)
	}
}

func TestCodes(t *testing.T) {
	if got := PlanCode(4, 1700000000000); got != "PLAN-4-LOYW3V28" {
		t.Errorf("PlanCode() = %q; want PLAN-4-LOYW3V28", got)
	}
	if got := ReceiptNumber(2024, 42); got != "OR-2024-000042" {
		t.Errorf("ReceiptNumber() = %q; want OR-2024-000042", got)
	}
}
