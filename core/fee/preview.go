package fee

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-fees/core"
)

type (
	PreviewRequest struct {
		StudentID    string `query:"student_id" validate:"required"`
		SchoolYearID string `query:"school_year_id" validate:"required"`
	}

	PreviewStudent struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		GradeLevel string `json:"grade_level"`
		Section    string `json:"section,omitempty"`
	}

	PreviewFee struct {
		ID           string          `json:"id"`
		Name         string          `json:"name"`
		Category     string          `json:"category"`
		CategoryType Category        `json:"category_type"`
		Amount       decimal.Decimal `json:"amount"`
		IsRequired   bool            `json:"is_required"`
	}

	PreviewSummary struct {
		Totals
		Total decimal.Decimal `json:"total"`
	}

	PreviewResult struct {
		AlreadyAssessed bool            `json:"already_assessed"`
		ExistingAccount *Account        `json:"existing_account,omitempty"`
		Student         *PreviewStudent `json:"student,omitempty"`
		Fees            []PreviewFee    `json:"fees"`
		Summary         *PreviewSummary `json:"summary,omitempty"`
		PaymentPlans    []PaymentPlan   `json:"payment_plans"`
	}
)

// MarshalJSON only renders the existing account of an already assessed student.
func (r PreviewResult) MarshalJSON() ([]byte, error) {
	if r.AlreadyAssessed {
		return json.Marshal(struct {
			AlreadyAssessed bool     `json:"already_assessed"`
			ExistingAccount *Account `json:"existing_account"`
		}{true, r.ExistingAccount})
	}
	type preview PreviewResult // drops the method
	return json.Marshal(preview(r))
}

func (r PreviewRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

// Preview shows what Assess would charge the student, without writing anything.
func (svc *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	if req.StudentID == "" {
		return PreviewResult{}, requiredFieldError("student_id")
	}
	if req.SchoolYearID == "" {
		return PreviewResult{}, requiredFieldError("school_year_id")
	}

	student, err := svc.repo.GetStudent(ctx, req.StudentID)
	if err != nil {
		return PreviewResult{}, notFound(err, ErrStudentNotFound, "getting student")
	}

	existing, err := svc.repo.GetAccountByStudent(ctx, student.ID, req.SchoolYearID)
	switch {
	case err == nil:
		return PreviewResult{AlreadyAssessed: true, ExistingAccount: &existing}, nil
	case errors.Cause(err) != ErrAccountNotFound:
		return PreviewResult{}, errors.Wrap(err, "checking existing fee account")
	}

	var (
		structures []FeeStructure
		plans      []PaymentPlan
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		structures, err = svc.applicableStructures(gctx, student.SchoolID, req.SchoolYearID, student.GradeLevel, student.SectionID)
		return err
	})
	g.Go(func() error {
		var err error
		plans, err = svc.repo.QueryPaymentPlans(gctx, PlanFilter{
			SchoolID:     student.SchoolID,
			SchoolYearID: req.SchoolYearID,
			ActiveOnly:   true,
			Orderings:    []core.DBOrdering{{Field: "sort_order", Ascending: true}},
		})
		return errors.Wrap(err, "querying payment plans")
	})
	if err = g.Wait(); err != nil {
		return PreviewResult{}, err
	}

	if plans == nil {
		plans = []PaymentPlan{}
	}
	totals, _ := Summarize(structures)
	fees := make([]PreviewFee, 0, len(structures))
	for _, s := range structures {
		fees = append(fees, PreviewFee{
			ID:           s.ID,
			Name:         s.Name,
			Category:     s.CategoryName,
			CategoryType: ParseCategory(string(s.Category)),
			Amount:       s.Amount,
			IsRequired:   s.IsRequired,
		})
	}

	return PreviewResult{
		Student: &PreviewStudent{
			ID:         student.ID,
			Name:       student.Name,
			GradeLevel: student.GradeLevel,
			Section:    student.SectionName,
		},
		Fees:         fees,
		Summary:      &PreviewSummary{Totals: totals, Total: totals.Sum()},
		PaymentPlans: plans,
	}, nil
}
