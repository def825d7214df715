package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atendezap/zapdesk/pkg/metrics"
)

type Monitoring struct {
	Registry *metrics.Registry
}

func InitRestMonitoring(app fiber.Router, registry *metrics.Registry) Monitoring {
	rest := Monitoring{Registry: registry}
	app.Get("/api/metrics", rest.GetSnapshot)

	return rest
}

func (handler *Monitoring) GetSnapshot(c *fiber.Ctx) error {
	return c.JSON(handler.Registry.Snapshot())
}
