package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atendezap/zapdesk/core/config"
)

type App struct{}

func InitRestApp(app fiber.Router) App {
	rest := App{}
	app.Get("/app/version", rest.GetVersion)
	app.Get("/app/settings", rest.GetSettings)

	return rest
}

func (handler *App) GetVersion(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version":     config.Global.App.Version,
		"environment": config.Global.App.Environment,
		"server_id":   config.Global.App.ServerID,
	})
}

// GetSettings exposes the effective configuration with secrets redacted.
func (handler *App) GetSettings(c *fiber.Ctx) error {
	return c.JSON(config.GetAllSettings())
}
