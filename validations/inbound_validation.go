package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainCampaign "github.com/atendezap/zapdesk/domains/campaign"
	domainInbound "github.com/atendezap/zapdesk/domains/inbound"
	pkgError "github.com/atendezap/zapdesk/pkg/error"
)

// ValidateInboundEvent checks the structural minimum before the event enters
// the pipeline. Semantic drops (unknown tenant, empty content) stay in the
// pipeline itself so they come back as Result reasons, not 400s.
func ValidateInboundEvent(ctx context.Context, evt domainInbound.Event) error {
	err := validation.ValidateStructWithContext(ctx, &evt,
		validation.Field(&evt.Direction, validation.Required, validation.In(
			domainInbound.DirectionIncoming, domainInbound.DirectionOutgoing,
		)),
	)
	if err == nil {
		err = validation.ValidateStructWithContext(ctx, &evt.Contact,
			validation.Field(&evt.Contact.Phone, validation.Required),
		)
	}

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateAllocationRequest(ctx context.Context, input domainCampaign.ProcessInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.TenantID, validation.Required),
		validation.Field(&input.InstanceID, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	if input.Document == "" && input.LeadID == "" {
		return pkgError.ValidationError("either document or lead_id is required")
	}

	return nil
}
