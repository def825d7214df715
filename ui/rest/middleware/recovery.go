package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	pkgError "github.com/atendezap/zapdesk/pkg/error"
	"github.com/atendezap/zapdesk/pkg/utils"
)

// Recovery converts handler panics into the standard response envelope.
// Handlers bail out through utils.PanicIfNeeded; typed errors keep their
// status and code, anything else becomes an opaque 500 so internal detail
// never reaches the caller. The request id lands in Results so a client
// report can be matched to the server log line.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			requestID, _ := ctx.Locals("requestid").(string)

			res := utils.ResponseData{
				Status:  fiber.StatusInternalServerError,
				Code:    "INTERNAL_SERVER_ERROR",
				Message: "Unexpected server error",
			}
			if requestID != "" {
				res.Results = map[string]any{"requestId": requestID}
			}

			if typed, ok := recovered.(pkgError.GenericError); ok {
				res.Status = typed.StatusCode()
				res.Code = typed.ErrCode()
				res.Message = typed.Error()
				logrus.Warnf("[API] Request %s failed: %s %s", requestID, res.Code, res.Message)
			} else {
				logrus.Errorf("[API] Panic recovered on %s %s (request %s): %v",
					ctx.Method(), ctx.Path(), requestID, recovered)
			}

			_ = ctx.Status(res.Status).JSON(res)
		}()

		return ctx.Next()
	}
}
