package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atendezap/zapdesk/domains/health"
	"github.com/atendezap/zapdesk/pkg/utils"
)

type Health struct {
	Service health.IHealthUsecase
}

func InitRestHealth(app fiber.Router, service health.IHealthUsecase) Health {
	handler := Health{Service: service}

	app.Get("/health", handler.GetStatus)
	app.Post("/health/check", handler.CheckAll)

	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	records := h.Service.GetStatus(c.UserContext())

	status := 200
	for _, record := range records {
		if record.Status == health.StatusError {
			status = fiber.StatusServiceUnavailable
			break
		}
	}

	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    "SUCCESS",
		Message: "Health status retrieved",
		Results: records,
	})
}

func (h *Health) CheckAll(c *fiber.Ctx) error {
	records := h.Service.CheckAll(c.UserContext())

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "All probes executed",
		Results: records,
	})
}
