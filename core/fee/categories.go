package fee

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core"
)

type (
	NewFeeCategory struct {
		SchoolID    string `json:"school_id" validate:"required"`
		Name        string `json:"name" validate:"required"`
		Code        string `json:"code,omitempty" validate:"omitempty,alphanum_"`
		Category    string `json:"category" validate:"required,oneof=tuition miscellaneous laboratory special other_fee"`
		Description string `json:"description,omitempty"`
		IsRequired  *bool  `json:"is_required,omitempty"`
		SortOrder   int    `json:"sort_order"`
	}

	CategoryListRequest struct {
		SchoolID   string `query:"school_id"`
		Category   string `query:"category"`
		ActiveOnly bool   `query:"active_only"`
	}
)

func (c NewFeeCategory) Validate(validate *validator.Validate) error {
	return validate.Struct(c)
}

// CategoryCode derives a fee category code from its kind and a timestamp in unix milliseconds.
func CategoryCode(category string, unixMilli int64) string {
	return fmt.Sprintf("%s-%s", strings.ToUpper(category), strings.ToUpper(strconv.FormatInt(unixMilli, 36)))
}

func (svc *Service) CreateFeeCategory(ctx context.Context, data NewFeeCategory) (FeeCategory, error) {
	now := NowFunc().UTC()

	code := strings.ToUpper(core.CleanString(data.Code))
	if code == "" {
		code = CategoryCode(data.Category, now.UnixMilli())
	}
	isRequired := true
	if data.IsRequired != nil {
		isRequired = *data.IsRequired
	}

	category, err := svc.repo.CreateFeeCategory(ctx, FeeCategory{
		SchoolID:    data.SchoolID,
		Name:        core.CleanString(data.Name),
		Code:        code,
		Category:    Category(data.Category),
		Description: core.CleanString(data.Description),
		IsRequired:  isRequired,
		SortOrder:   data.SortOrder,
		IsActive:    true,
	})
	if err != nil {
		if errors.Cause(err) == ErrCategoryExists {
			return FeeCategory{}, core.NewConflictError(ErrCategoryExists, nil)
		}
		return FeeCategory{}, errors.Wrap(err, "creating fee category")
	}
	return category, nil
}

func (svc *Service) ListFeeCategories(ctx context.Context, req CategoryListRequest) ([]FeeCategory, error) {
	categories, err := svc.repo.QueryFeeCategories(ctx, CategoryFilter{
		SchoolID:   req.SchoolID,
		Category:   Category(req.Category),
		ActiveOnly: req.ActiveOnly,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying fee categories")
	}
	return categories, nil
}
