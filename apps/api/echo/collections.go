package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core/fee"
)

type collectionApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerCollectionAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := collectionApi{svc: svc, validate: validate}
	g.GET("/collections/risk", api.risk)
}

func (api *collectionApi) risk(ctx echo.Context) error {
	var data fee.RiskRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to RiskRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	report, err := api.svc.CollectionRisk(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, report)
}
