package rest

import (
	"github.com/gofiber/fiber/v2"

	domainInstance "github.com/atendezap/zapdesk/domains/instance"
	pkgError "github.com/atendezap/zapdesk/pkg/error"
	"github.com/atendezap/zapdesk/pkg/utils"
)

type Instance struct {
	Service domainInstance.IInstanceUsecase
}

func InitRestInstance(app fiber.Router, service domainInstance.IInstanceUsecase) Instance {
	rest := Instance{Service: service}
	app.Get("/api/instances", rest.List)
	app.Get("/api/instances/resolve", rest.Resolve)
	app.Get("/api/instances/:id", rest.GetByID)

	return rest
}

func (handler *Instance) List(c *fiber.Ctx) error {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		utils.PanicIfNeeded(pkgError.ValidationError("tenantId query parameter is required"))
	}

	instances, err := handler.Service.List(c.UserContext(), tenantID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instances retrieved",
		Results: instances,
	})
}

// Resolve runs the active-instance selection and returns the pick, so
// operators can see which instance an unrouted event would bind to.
func (handler *Instance) Resolve(c *fiber.Ctx) error {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		utils.PanicIfNeeded(pkgError.ValidationError("tenantId query parameter is required"))
	}

	instance, err := handler.Service.SelectActive(c.UserContext(), tenantID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Active instance resolved",
		Results: instance,
	})
}

func (handler *Instance) GetByID(c *fiber.Ctx) error {
	instance, err := handler.Service.GetByID(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance retrieved",
		Results: instance,
	})
}
