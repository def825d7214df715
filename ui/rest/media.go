package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atendezap/zapdesk/infrastructure/blob"
	"github.com/atendezap/zapdesk/pkg/utils"
)

type Media struct {
	Store *blob.Store
}

func InitRestMedia(app fiber.Router, store *blob.Store) Media {
	rest := Media{Store: store}
	app.Get("/media/:tenant/:file", rest.Serve)

	return rest
}

// Serve streams a stored attachment. The exp/sig query pair comes from the
// signed URL the pipeline attached to the activity metadata.
func (handler *Media) Serve(c *fiber.Ctx) error {
	path, err := handler.Store.Resolve(
		c.Params("tenant"),
		c.Params("file"),
		c.Query("exp"),
		c.Query("sig"),
	)
	utils.PanicIfNeeded(err)

	return c.SendFile(path)
}
