package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atendezap/zapdesk/pkg/jobs"
)

type WorkerPool struct {
	Pool *jobs.Pool
}

func InitRestWorkerPool(app fiber.Router, pool *jobs.Pool) WorkerPool {
	rest := WorkerPool{Pool: pool}
	app.Get("/api/jobs/stats", rest.GetStats)

	return rest
}

func (handler *WorkerPool) GetStats(c *fiber.Ctx) error {
	return c.JSON(handler.Pool.GetStats())
}
