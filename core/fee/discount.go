package fee

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// discountBase names the pre-discount total a percentage discount is taken from.
type discountBase int

const (
	baseTuition discountBase = iota
	baseAssessed
)

// bases holds the pre-discount totals. Every discount is computed against them, never against a discounted total.
type bases struct {
	tuition  decimal.Decimal
	assessed decimal.Decimal
}

func (b bases) of(base discountBase) decimal.Decimal {
	if base == baseTuition {
		return b.tuition
	}
	return b.assessed
}

// descriptor is either a percentage of a base or a fixed amount.
type descriptor interface {
	amount(b bases) decimal.Decimal
	calculation() CalculationType
}

type percentageOf struct {
	base discountBase
	pct  decimal.Decimal
}

func (p percentageOf) amount(b bases) decimal.Decimal {
	return b.of(p.base).Mul(p.pct).Div(hundred)
}

func (p percentageOf) calculation() CalculationType { return CalculationPercentage }

type fixedAmount struct {
	value decimal.Decimal
}

func (f fixedAmount) amount(bases) decimal.Decimal  { return f.value }
func (f fixedAmount) calculation() CalculationType { return CalculationFixed }

type discountRule struct {
	kind      DiscountType
	name      string
	appliedTo string
	desc      descriptor
}

func (r discountRule) apply(b bases) Discount {
	d := Discount{
		DiscountType:    r.kind,
		DiscountName:    r.name,
		CalculationType: r.desc.calculation(),
		DiscountAmount:  r.desc.amount(b).Round(2),
		AppliedTo:       r.appliedTo,
	}
	switch desc := r.desc.(type) {
	case percentageOf:
		pct := desc.pct
		d.Percentage = &pct
	case fixedAmount:
		amt := desc.value
		d.FixedAmount = &amt
	}
	return d
}

// Scholarship is a percentage of tuition or, when no percentage is set, a fixed amount.
type Scholarship struct {
	Type       string
	Percentage decimal.Decimal
	Amount     decimal.Decimal
}

type CustomDiscount struct {
	Name      string          `json:"name" validate:"required"`
	Type      CalculationType `json:"type" validate:"required,oneof=percentage fixed"`
	Value     decimal.Decimal `json:"value" validate:"gte=0"`
	AppliesTo string          `json:"applies_to,omitempty" validate:"omitempty,oneof=tuition all"`
}

func planDiscount(plan PaymentPlan) (discountRule, bool) {
	if !plan.DiscountPercentage.IsPositive() {
		return discountRule{}, false
	}
	return discountRule{
		kind:      DiscountPaymentPlan,
		name:      plan.Name + " Discount",
		appliedTo: AppliedToTuition,
		desc:      percentageOf{base: baseTuition, pct: plan.DiscountPercentage},
	}, true
}

func scholarshipDiscount(s Scholarship) (discountRule, bool) {
	name := s.Type
	if name == "" {
		name = "Scholarship"
	}
	rule := discountRule{kind: DiscountScholarship, name: name, appliedTo: AppliedToTuition}

	switch {
	case s.Percentage.IsPositive():
		rule.desc = percentageOf{base: baseTuition, pct: s.Percentage}
	case s.Amount.IsPositive():
		rule.desc = fixedAmount{value: s.Amount}
	default:
		return discountRule{}, false
	}
	return rule, true
}

// SiblingOrder is the 1-based rank of a student given the number of other active members of their family group.
func SiblingOrder(otherActiveMembers int) int {
	return otherActiveMembers + 1
}

// MatchSiblingTier returns the first tier whose [from, to] range holds order. A nil `to` is open-ended.
func MatchSiblingTier(order int, tiers []SiblingDiscount) (SiblingDiscount, bool) {
	for _, t := range tiers {
		if order >= t.SiblingOrderFrom && (t.SiblingOrderTo == nil || order <= *t.SiblingOrderTo) {
			return t, true
		}
	}
	return SiblingDiscount{}, false
}

func siblingDiscount(order int, tiers []SiblingDiscount) (discountRule, bool) {
	if order < 1 {
		return discountRule{}, false
	}
	tier, ok := MatchSiblingTier(order, tiers)
	if !ok {
		return discountRule{}, false
	}

	rule := discountRule{
		kind:      DiscountSibling,
		name:      fmt.Sprintf("Sibling Discount (Child #%d)", order),
		appliedTo: AppliedToTuition,
	}
	if tier.DiscountType == CalculationPercentage {
		rule.desc = percentageOf{base: baseTuition, pct: tier.DiscountPercentage}
	} else {
		rule.desc = fixedAmount{value: tier.DiscountAmount}
	}
	return rule, true
}

func customDiscount(c CustomDiscount) discountRule {
	rule := discountRule{kind: DiscountCustom, name: c.Name, appliedTo: c.AppliesTo}
	if rule.appliedTo == "" {
		rule.appliedTo = AppliedToAll
	}

	base := baseAssessed
	if c.AppliesTo == AppliedToTuition {
		base = baseTuition
	}
	if c.Type == CalculationPercentage {
		rule.desc = percentageOf{base: base, pct: c.Value}
	} else {
		rule.desc = fixedAmount{value: c.Value}
	}
	return rule
}

// foldDiscounts applies every rule against the same pre-discount bases and sums the results.
func foldDiscounts(rules []discountRule, b bases) ([]Discount, decimal.Decimal) {
	discounts := make([]Discount, 0, len(rules))
	total := decimal.Zero
	for _, r := range rules {
		d := r.apply(b)
		discounts = append(discounts, d)
		total = total.Add(d.DiscountAmount)
	}
	return discounts, total
}
