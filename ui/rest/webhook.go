package rest

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	domainCampaign "github.com/atendezap/zapdesk/domains/campaign"
	domainInbound "github.com/atendezap/zapdesk/domains/inbound"
	"github.com/atendezap/zapdesk/pkg/utils"
	"github.com/atendezap/zapdesk/validations"
)

type Webhook struct {
	Inbound   domainInbound.IInboundUsecase
	Campaigns domainCampaign.ICampaignUsecase
	Secret    []byte
}

func InitRestWebhook(app fiber.Router, inbound domainInbound.IInboundUsecase, campaigns domainCampaign.ICampaignUsecase, secret string) Webhook {
	rest := Webhook{Inbound: inbound, Campaigns: campaigns, Secret: []byte(secret)}
	app.Post("/webhooks/broker", rest.ReceiveEvent)
	app.Post("/webhooks/broker/allocations", rest.ReceiveAllocation)

	return rest
}

// ReceiveEvent is the broker intake. Events are acknowledged as soon as they
// land on the worker pool; data-quality drops inside the pipeline never come
// back as errors, so the broker only retries on saturation.
func (handler *Webhook) ReceiveEvent(c *fiber.Ctx) error {
	body := c.Body()
	if len(handler.Secret) > 0 {
		if !utils.ValidSignature(body, handler.Secret, c.Get("X-Hub-Signature-256")) {
			logrus.Warn("[WEBHOOK] Rejected event with invalid signature")
			return c.Status(fiber.StatusUnauthorized).JSON(utils.ResponseData{
				Status:  401,
				Code:    "INVALID_SIGNATURE",
				Message: "Signature verification failed",
			})
		}
	}

	var evt domainInbound.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
			Status:  400,
			Code:    "INVALID_PAYLOAD",
			Message: "Malformed JSON body",
		})
	}

	err := validations.ValidateInboundEvent(c.UserContext(), evt)
	utils.PanicIfNeeded(err)

	if c.Query("sync") == "true" {
		result, err := handler.Inbound.ProcessMessage(c.UserContext(), evt)
		utils.PanicIfNeeded(err)
		return c.JSON(utils.ResponseData{
			Status:  200,
			Code:    "SUCCESS",
			Message: "Event processed",
			Results: result,
		})
	}

	if !handler.Inbound.Dispatch(evt) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  503,
			Code:    "QUEUE_SATURATED",
			Message: "Worker pool is full, retry later",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  202,
		Code:    "ACCEPTED",
		Message: "Event queued for processing",
		Results: map[string]any{"request_id": evt.RequestID()},
	})
}

func (handler *Webhook) ReceiveAllocation(c *fiber.Ctx) error {
	body := c.Body()
	if len(handler.Secret) > 0 {
		if !utils.ValidSignature(body, handler.Secret, c.Get("X-Hub-Signature-256")) {
			return c.Status(fiber.StatusUnauthorized).JSON(utils.ResponseData{
				Status:  401,
				Code:    "INVALID_SIGNATURE",
				Message: "Signature verification failed",
			})
		}
	}

	var request AllocationRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
			Status:  400,
			Code:    "INVALID_PAYLOAD",
			Message: "Malformed JSON body",
		})
	}

	input := request.toProcessInput()
	err := validations.ValidateAllocationRequest(c.UserContext(), input)
	utils.PanicIfNeeded(err)

	report, err := handler.Campaigns.DeliverForInstance(c.UserContext(), input)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Allocation batch processed",
		Results: report,
	})
}
