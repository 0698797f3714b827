package fee

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-fees/core"
)

type (
	NewFeeStructure struct {
		SchoolID      string          `json:"school_id" validate:"required"`
		SchoolYearID  string          `json:"school_year_id" validate:"required"`
		FeeCategoryID string          `json:"fee_category_id" validate:"required"`
		Name          string          `json:"name" validate:"required"`
		GradeLevel    string          `json:"grade_level,omitempty"`
		SectionID     string          `json:"section_id,omitempty"`
		Amount        decimal.Decimal `json:"amount" validate:"gte=0"`
	}

	BulkFeeStructures struct {
		SchoolID     string            `json:"school_id" validate:"required"`
		SchoolYearID string            `json:"school_year_id" validate:"required"`
		Structures   []NewFeeStructure `json:"structures" validate:"required,min=1,dive"`
	}

	// StructureUpdate changes the fields it sets.
	StructureUpdate struct {
		Name       *string          `json:"name,omitempty"`
		GradeLevel *string          `json:"grade_level,omitempty"` // "" applies to every grade
		SectionID  *string          `json:"section_id,omitempty"`  // "" applies to every section
		Amount     *decimal.Decimal `json:"amount,omitempty"`
		IsActive   *bool            `json:"is_active,omitempty"`
	}

	// DeleteResult tells whether a record was removed or, being referenced, only deactivated.
	DeleteResult struct {
		Deleted     bool   `json:"deleted"`
		Deactivated bool   `json:"deactivated"`
		Message     string `json:"message"`
	}

	StructureListRequest struct {
		SchoolID      string `query:"school_id"`
		SchoolYearID  string `query:"school_year_id"`
		FeeCategoryID string `query:"fee_category_id"`
		GradeLevel    string `query:"grade_level"`
		ActiveOnly    bool   `query:"active_only"`

		Orderings []core.DBOrdering `query:"-"` // grade_level, name
	}
)

func (s NewFeeStructure) Validate(validate *validator.Validate) error {
	return validate.Struct(s)
}

func (u StructureUpdate) Validate(_ *validator.Validate) error {
	if u.Name == nil && u.GradeLevel == nil && u.SectionID == nil && u.Amount == nil && u.IsActive == nil {
		return core.NewValidationError(ErrNothingToUpdate)
	}
	if u.Name != nil && core.CleanString(*u.Name) == "" {
		return core.NewValidationError(errors.New("name is required"), core.FieldError{Field: "name", Error: "this field is required"})
	}
	if u.Amount != nil && u.Amount.IsNegative() {
		return core.NewValidationError(
			errors.New("amount must be non-negative"),
			core.FieldError{Field: "amount", Error: "must be non-negative"},
		)
	}
	return nil
}

func (u StructureUpdate) reprices(s FeeStructure) bool {
	return (u.Amount != nil && !u.Amount.Equal(s.Amount)) ||
		(u.GradeLevel != nil && core.CleanString(*u.GradeLevel) != s.GradeLevel) ||
		(u.SectionID != nil && core.CleanString(*u.SectionID) != s.SectionID)
}

func (u StructureUpdate) apply(s *FeeStructure) {
	if u.Name != nil {
		s.Name = core.CleanString(*u.Name)
	}
	if u.GradeLevel != nil {
		s.GradeLevel = core.CleanString(*u.GradeLevel)
	}
	if u.SectionID != nil {
		s.SectionID = core.CleanString(*u.SectionID)
	}
	if u.Amount != nil {
		s.Amount = *u.Amount
	}
	if u.IsActive != nil {
		s.IsActive = *u.IsActive
	}
}

// Validate fills every structure with the school and year of the batch before validating them.
func (b *BulkFeeStructures) Validate(validate *validator.Validate) error {
	for i := range b.Structures {
		b.Structures[i].SchoolID = b.SchoolID
		b.Structures[i].SchoolYearID = b.SchoolYearID
	}
	return validate.Struct(b)
}

func (svc *Service) CreateFeeStructure(ctx context.Context, data NewFeeStructure) (FeeStructure, error) {
	var created FeeStructure
	err := svc.repo.RunInTx(ctx, func(repo Repository) (err error) {
		created, err = svc.createFeeStructure(ctx, repo, data)
		return err
	})
	return created, err
}

// CreateFeeStructures creates a batch of structures for a school year, all or none.
func (svc *Service) CreateFeeStructures(ctx context.Context, data BulkFeeStructures) ([]FeeStructure, error) {
	created := make([]FeeStructure, 0, len(data.Structures))
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		for _, s := range data.Structures {
			s.SchoolID, s.SchoolYearID = data.SchoolID, data.SchoolYearID
			structure, err := svc.createFeeStructure(ctx, repo, s)
			if err != nil {
				return err
			}
			created = append(created, structure)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (svc *Service) createFeeStructure(ctx context.Context, repo Repository, data NewFeeStructure) (FeeStructure, error) {
	category, err := repo.GetFeeCategory(ctx, data.FeeCategoryID)
	if err != nil || category.SchoolID != data.SchoolID {
		if err == nil || errors.Cause(err) == ErrCategoryNotFound {
			return FeeStructure{}, core.NewNotFoundError(ErrCategoryNotFound)
		}
		return FeeStructure{}, errors.Wrap(err, "getting fee category")
	}

	gradeLevel := core.CleanString(data.GradeLevel)
	sectionID := core.CleanString(data.SectionID)

	now := NowFunc().UTC()
	structure := FeeStructure{
		SchoolID:      data.SchoolID,
		SchoolYearID:  data.SchoolYearID,
		FeeCategoryID: category.ID,
		Name:          core.CleanString(data.Name),
		GradeLevel:    gradeLevel,
		SectionID:     sectionID,
		Category:      ParseCategory(string(category.Category)),
		CategoryName:  category.Name,
		IsRequired:    category.IsRequired,
		Amount:        data.Amount,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = checkDuplicateStructure(ctx, repo, structure); err != nil {
		return FeeStructure{}, err
	}

	structure, err = repo.CreateFeeStructure(ctx, structure)
	if err != nil {
		if errors.Cause(err) == ErrStructureExists {
			return FeeStructure{}, core.NewConflictError(ErrStructureExists, nil)
		}
		return FeeStructure{}, errors.Wrap(err, "creating fee structure")
	}
	return structure, nil
}

func (svc *Service) ListFeeStructures(ctx context.Context, req StructureListRequest) ([]FeeStructure, error) {
	if len(req.Orderings) == 0 {
		req.Orderings = []core.DBOrdering{
			{Field: "grade_level", Ascending: true},
			{Field: "name", Ascending: true},
		}
	}
	structures, err := svc.repo.QueryFeeStructures(ctx, StructureFilter{
		SchoolID:      req.SchoolID,
		SchoolYearID:  req.SchoolYearID,
		FeeCategoryID: req.FeeCategoryID,
		GradeLevel:    req.GradeLevel,
		ActiveOnly:    req.ActiveOnly,
		Orderings:     req.Orderings,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying fee structures")
	}
	return structures, nil
}

// checkDuplicateStructure fails when another active structure of the school year charges the same category
// to the same grade level and section. Deactivated structures are ignored.
func checkDuplicateStructure(ctx context.Context, repo Repository, s FeeStructure) error {
	if !s.IsActive {
		return nil
	}
	siblings, err := repo.QueryFeeStructures(ctx, StructureFilter{
		SchoolID:      s.SchoolID,
		SchoolYearID:  s.SchoolYearID,
		FeeCategoryID: s.FeeCategoryID,
		ActiveOnly:    true,
	})
	if err != nil {
		return errors.Wrap(err, "querying fee structures")
	}
	for _, o := range siblings {
		if o.ID != s.ID && o.GradeLevel == s.GradeLevel && o.SectionID == s.SectionID {
			return core.NewConflictError(ErrStructureExists, map[string]interface{}{"existing_structure_id": o.ID})
		}
	}
	return nil
}

func (svc *Service) GetFeeStructure(ctx context.Context, id string) (FeeStructure, error) {
	structure, err := svc.repo.GetFeeStructure(ctx, id)
	if err != nil {
		return FeeStructure{}, notFound(err, ErrStructureNotFound, "getting fee structure")
	}
	return structure, nil
}

// UpdateFeeStructure changes a structure. Once assessed, its amount, grade level and section are frozen:
// deactivate it and create a replacement instead.
func (svc *Service) UpdateFeeStructure(ctx context.Context, id string, data StructureUpdate) (FeeStructure, error) {
	var structure FeeStructure
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if structure, err = repo.GetFeeStructure(ctx, id); err != nil {
			return notFound(err, ErrStructureNotFound, "getting fee structure")
		}

		repriced := data.reprices(structure)
		if repriced {
			n, err := repo.CountLineItems(ctx, structure.ID)
			if err != nil {
				return errors.Wrap(err, "counting line items")
			}
			if n > 0 {
				return core.NewConflictError(ErrStructureInUse, map[string]interface{}{"line_item_count": n})
			}
		}

		data.apply(&structure)
		structure.UpdatedAt = NowFunc().UTC()
		if err = checkDuplicateStructure(ctx, repo, structure); err != nil {
			return err
		}
		if err = repo.UpdateFeeStructure(ctx, structure); err != nil {
			if errors.Cause(err) == ErrStructureExists {
				return core.NewConflictError(ErrStructureExists, nil)
			}
			return errors.Wrap(err, "updating fee structure")
		}
		return nil
	})
	if err != nil {
		return FeeStructure{}, err
	}
	return structure, nil
}

// DeactivateFeeStructure soft-deletes a structure. Existing line items keep their snapshot.
func (svc *Service) DeactivateFeeStructure(ctx context.Context, id string) error {
	if _, err := svc.repo.GetFeeStructure(ctx, id); err != nil {
		return notFound(err, ErrStructureNotFound, "getting fee structure")
	}
	return errors.Wrap(svc.repo.DeactivateFeeStructure(ctx, id, NowFunc().UTC()), "deactivating fee structure")
}

// DeleteFeeStructure removes a structure nothing was assessed from, and deactivates it otherwise.
func (svc *Service) DeleteFeeStructure(ctx context.Context, id string) (DeleteResult, error) {
	var res DeleteResult
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		if _, err := repo.GetFeeStructure(ctx, id); err != nil {
			return notFound(err, ErrStructureNotFound, "getting fee structure")
		}
		n, err := repo.CountLineItems(ctx, id)
		if err != nil {
			return errors.Wrap(err, "counting line items")
		}
		if n > 0 {
			res = DeleteResult{Deactivated: true, Message: "Fee structure deactivated (has associated fee assessments)"}
			return errors.Wrap(repo.DeactivateFeeStructure(ctx, id, NowFunc().UTC()), "deactivating fee structure")
		}
		res = DeleteResult{Deleted: true, Message: "Fee structure deleted"}
		return errors.Wrap(repo.DeleteFeeStructure(ctx, id), "deleting fee structure")
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return res, nil
}
