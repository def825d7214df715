package rest

import (
	"github.com/gofiber/fiber/v2"

	domainCache "github.com/atendezap/zapdesk/domains/cache"
	"github.com/atendezap/zapdesk/pkg/utils"
)

type Cache struct {
	Service domainCache.ICacheUsecase
}

func InitRestCache(app fiber.Router, service domainCache.ICacheUsecase) Cache {
	rest := Cache{Service: service}
	app.Get("/api/caches", rest.GetStats)
	app.Delete("/api/caches", rest.FlushAll)
	app.Delete("/api/caches/:kind", rest.Flush)

	return rest
}

func (handler *Cache) GetStats(c *fiber.Ctx) error {
	stats, err := handler.Service.GetStats(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Cache stats retrieved",
		Results: stats,
	})
}

func (handler *Cache) FlushAll(c *fiber.Ctx) error {
	err := handler.Service.FlushAll(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "All caches flushed",
	})
}

func (handler *Cache) Flush(c *fiber.Ctx) error {
	kind := domainCache.Kind(c.Params("kind"))
	err := handler.Service.Flush(c.UserContext(), kind)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Cache flushed",
		Results: map[string]any{"kind": kind},
	})
}
