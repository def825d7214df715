package rest

import (
	"github.com/gofiber/fiber/v2"

	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	pkgError "github.com/atendezap/zapdesk/pkg/error"
	"github.com/atendezap/zapdesk/pkg/utils"
)

type Queue struct {
	Service domainQueue.IQueueUsecase
}

func InitRestQueue(app fiber.Router, service domainQueue.IQueueUsecase) Queue {
	rest := Queue{Service: service}
	app.Get("/api/queues/default", rest.GetDefault)

	return rest
}

// GetDefault resolves (and optionally provisions) the tenant's default
// queue. `?provision=true` forces provisioning instead of reporting absence.
func (handler *Queue) GetDefault(c *fiber.Ctx) error {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		utils.PanicIfNeeded(pkgError.ValidationError("tenantId query parameter is required"))
	}

	provision := c.Query("provision") == "true"
	queueID, provisioned, err := handler.Service.GetDefaultQueueID(c.UserContext(), tenantID, provision)
	utils.PanicIfNeeded(err)

	if queueID == "" {
		return c.Status(fiber.StatusNotFound).JSON(utils.ResponseData{
			Status:  404,
			Code:    "QUEUE_NOT_FOUND",
			Message: "Tenant has no default queue",
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Default queue resolved",
		Results: map[string]any{
			"queue_id":        queueID,
			"was_provisioned": provisioned,
		},
	})
}
