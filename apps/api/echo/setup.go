package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core/fee"
)

// payment plans & fee structures: the per school year setup assessments read from.

type planApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerPlanAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := planApi{svc: svc, validate: validate}

	pg := g.Group("/payment-plans")
	pg.GET("", api.query)
	pg.POST("", api.create)
	pg.PUT("/defaults", api.createDefaults)
	pg.GET("/:id", api.retrieve)
	pg.PATCH("/:id", api.update)
	pg.DELETE("/:id", api.destroy)
}

func (api *planApi) query(ctx echo.Context) error {
	var data fee.PlanListRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to PlanListRequest")
	}
	var ord Ordering
	ord.Bind(ctx)
	data.Orderings = ord.Orderings

	plans, err := api.svc.ListPaymentPlans(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	if plans == nil {
		plans = []fee.PaymentPlan{}
	}
	return ctx.JSON(http.StatusOK, plans)
}

func (api *planApi) create(ctx echo.Context) error {
	var data fee.NewPaymentPlan
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPaymentPlan")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	plan, err := api.svc.CreatePaymentPlan(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, plan)
}

func (api *planApi) createDefaults(ctx echo.Context) error {
	var data fee.DefaultPlansRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DefaultPlansRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	plans, err := api.svc.CreateDefaultPaymentPlans(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, plans)
}

func (api *planApi) retrieve(ctx echo.Context) error {
	plan, err := api.svc.GetPaymentPlan(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, plan)
}

func (api *planApi) update(ctx echo.Context) error {
	var data fee.PlanUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PlanUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	plan, err := api.svc.UpdatePaymentPlan(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, plan)
}

// destroy deletes an unused plan, or deactivates it when accounts use it.
func (api *planApi) destroy(ctx echo.Context) error {
	res, err := api.svc.DeletePaymentPlan(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

type structureApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerStructureAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := structureApi{svc: svc, validate: validate}

	sg := g.Group("/fee-structures")
	sg.GET("", api.query)
	sg.POST("", api.create)
	sg.POST("/bulk", api.createBulk)
	sg.GET("/:id", api.retrieve)
	sg.PATCH("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
	sg.POST("/:id/deactivate", api.deactivate)
}

func (api *structureApi) query(ctx echo.Context) error {
	var data fee.StructureListRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to StructureListRequest")
	}
	var ord Ordering
	ord.Bind(ctx)
	data.Orderings = ord.Orderings

	structures, err := api.svc.ListFeeStructures(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	if structures == nil {
		structures = []fee.FeeStructure{}
	}
	return ctx.JSON(http.StatusOK, structures)
}

func (api *structureApi) create(ctx echo.Context) error {
	var data fee.NewFeeStructure
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeeStructure")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	structure, err := api.svc.CreateFeeStructure(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, structure)
}

func (api *structureApi) createBulk(ctx echo.Context) error {
	var data fee.BulkFeeStructures
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkFeeStructures")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	structures, err := api.svc.CreateFeeStructures(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, structures)
}

func (api *structureApi) deactivate(ctx echo.Context) error {
	if err := api.svc.DeactivateFeeStructure(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *structureApi) retrieve(ctx echo.Context) error {
	structure, err := api.svc.GetFeeStructure(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, structure)
}

func (api *structureApi) update(ctx echo.Context) error {
	var data fee.StructureUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StructureUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	structure, err := api.svc.UpdateFeeStructure(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, structure)
}

// destroy deletes a structure no assessment references, and deactivates it otherwise.
func (api *structureApi) destroy(ctx echo.Context) error {
	res, err := api.svc.DeleteFeeStructure(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}
