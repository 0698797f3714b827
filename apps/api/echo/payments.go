package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core/fee"
)

type paymentApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerPaymentAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := paymentApi{svc: svc, validate: validate}

	pg := g.Group("/payments")
	pg.POST("", api.create)
	pg.PATCH("/:id/check", api.updateCheck)
}

// Handlers

func (api *paymentApi) create(ctx echo.Context) error {
	var data fee.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.RecordPayment(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *paymentApi) updateCheck(ctx echo.Context) error {
	var data fee.CheckStatusUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckStatusUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	payment, err := api.svc.UpdateCheckStatus(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, payment)
}
