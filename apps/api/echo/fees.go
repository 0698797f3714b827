package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
)

type feeApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerFeeAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := feeApi{svc: svc, validate: validate}

	fg := g.Group("/fees")
	fg.POST("/assess", api.assess)
	fg.GET("/preview", api.preview)
	fg.POST("/mark-overdue", api.markOverdue)

	ag := g.Group("/fee-accounts")
	ag.GET("", api.queryAccounts)
	ag.GET("/:id", api.retrieveAccount)
	ag.PATCH("/:id", api.updateAccount)
	ag.GET("/:id/statement", api.exportStatement)
}

// Handlers

func (api *feeApi) assess(ctx echo.Context) error {
	var data fee.AssessRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssessRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Assess(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *feeApi) preview(ctx echo.Context) error {
	var data fee.PreviewRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to PreviewRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Preview(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

// markOverdue runs the overdue sweep on demand; `?as_of=YYYY-MM-DD` defaults to today.
func (api *feeApi) markOverdue(ctx echo.Context) error {
	var asOf time.Time
	if s := core.CleanString(ctx.QueryParam("as_of")); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "as_of", Error: "as_of must be a date formatted as YYYY-MM-DD"})
		}
		asOf = t
	}

	res, err := api.svc.MarkOverdue(ctx.Request().Context(), asOf)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *feeApi) queryAccounts(ctx echo.Context) error {
	var data fee.AccountListRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to AccountListRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	page, err := api.svc.ListAccounts(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *feeApi) updateAccount(ctx echo.Context) error {
	var data fee.AccountUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AccountUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	account, err := api.svc.UpdateAccount(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, account)
}

func (api *feeApi) retrieveAccount(ctx echo.Context) error {
	res, err := api.svc.GetAccount(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *feeApi) exportStatement(ctx echo.Context) error {
	id := ctx.Param("id")

	var buf bytes.Buffer
	if err := api.svc.ExportStatement(ctx.Request().Context(), id, &buf); err != nil {
		return err
	}

	contentType, ext := api.svc.StatementFormat()
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "statement-"+id+ext))
	return ctx.Blob(http.StatusOK, contentType, buf.Bytes())
}
