package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core/fee"
)

type categoryApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerCategoryAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := categoryApi{svc: svc, validate: validate}

	cg := g.Group("/fee-categories")
	cg.GET("", api.query)
	cg.POST("", api.create)
}

func (api *categoryApi) query(ctx echo.Context) error {
	var data fee.CategoryListRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to CategoryListRequest")
	}

	categories, err := api.svc.ListFeeCategories(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	if categories == nil {
		categories = []fee.FeeCategory{}
	}
	return ctx.JSON(http.StatusOK, categories)
}

func (api *categoryApi) create(ctx echo.Context) error {
	var data fee.NewFeeCategory
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeeCategory")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	category, err := api.svc.CreateFeeCategory(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, category)
}
