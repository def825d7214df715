package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	domainLead "github.com/atendezap/zapdesk/domains/lead"
	"github.com/atendezap/zapdesk/domains/realtime"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/dedupe"
	"github.com/atendezap/zapdesk/pkg/metrics"
)

const activityDedupeScope = "activity"

type leadService struct {
	repo            domainLead.ILeadRepository
	registry        dedupe.Registry
	registryTTL     time.Duration
	notifier        realtime.Notifier
	metrics         metrics.Recorder
	previewMaxRunes int
}

func NewLeadService(
	repo domainLead.ILeadRepository,
	registry dedupe.Registry,
	registryTTL time.Duration,
	notifier realtime.Notifier,
	recorder metrics.Recorder,
	previewMaxRunes int,
) domainLead.ILeadUsecase {
	if previewMaxRunes <= 0 {
		previewMaxRunes = 160
	}
	return &leadService{
		repo:            repo,
		registry:        registry,
		registryTTL:     registryTTL,
		notifier:        notifier,
		metrics:         recorder,
		previewMaxRunes: previewMaxRunes,
	}
}

// UpsertFromInbound guarantees at most one activity and one emission pair
// per message id, while the lead's LastContactAt advances on every delivery
// including redelivered duplicates.
func (s *leadService) UpsertFromInbound(ctx context.Context, input domainLead.UpsertInput) (domainLead.UpsertResult, error) {
	occurredAt := input.MessageCreatedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	lead, created, err := s.upsertLead(ctx, input, occurredAt)
	if err != nil {
		return domainLead.UpsertResult{}, err
	}

	result := domainLead.UpsertResult{Lead: lead, LeadCreated: created}

	if s.alreadyRecorded(ctx, input) {
		s.metrics.Count("lead.activity.deduped", 1)
		result.Deduplicated = true
		return result, nil
	}

	activity, err := s.repo.CreateActivity(ctx, domainLead.Activity{
		TenantID:   input.TenantID,
		LeadID:     lead.ID,
		Type:       domainLead.ActivityWhatsAppReplied,
		OccurredAt: occurredAt,
		Metadata: map[string]any{
			"ticketId":          input.TicketID,
			"instanceId":        input.InstanceID,
			"providerMessageId": input.ProviderMessageID,
			"messageId":         input.MessageID,
			"contactId":         input.ContactID,
			"preview":           boundedPreview(input.MessageText, s.previewMaxRunes),
		},
	})
	if err != nil {
		// The unique index on (tenant, messageId) closes the probe-then-
		// insert race: a concurrent delivery already recorded the activity.
		if store.IsUniqueViolation(err) {
			logrus.Debugf("[LEAD] Activity for message %s already recorded by a concurrent delivery", input.MessageID)
			s.registerMessage(ctx, input)
			s.metrics.Count("lead.activity.deduped", 1)
			result.Deduplicated = true
			return result, nil
		}
		return domainLead.UpsertResult{}, err
	}

	s.registerMessage(ctx, input)
	s.metrics.Count("lead.activity.created", 1)

	payload := map[string]any{"lead": lead, "leadActivity": activity}
	s.notifier.EmitToTenant(input.TenantID, realtime.EventLeadsUpdated, payload)
	s.notifier.EmitToTenant(input.TenantID, realtime.EventLeadActivitiesNew, payload)
	if input.TicketID != "" {
		s.notifier.EmitToTicket(input.TicketID, realtime.EventLeadsUpdated, payload)
		s.notifier.EmitToTicket(input.TicketID, realtime.EventLeadActivitiesNew, payload)
	}

	result.Activity = &activity
	return result, nil
}

// upsertLead creates the lead on first contact or advances LastContactAt on
// an existing one. Status and source are never regressed from here.
func (s *leadService) upsertLead(ctx context.Context, input domainLead.UpsertInput, occurredAt time.Time) (domainLead.Lead, bool, error) {
	existing, err := s.repo.GetByTenantAndContact(ctx, input.TenantID, input.ContactID)
	if err == nil {
		advanced, advErr := s.repo.AdvanceLastContact(ctx, existing.ID, occurredAt)
		if advErr != nil {
			return domainLead.Lead{}, false, advErr
		}
		return advanced, false, nil
	}
	if !store.IsNotFound(err) {
		return domainLead.Lead{}, false, err
	}

	created, err := s.repo.Create(ctx, domainLead.Lead{
		TenantID:      input.TenantID,
		ContactID:     input.ContactID,
		Status:        domainLead.StatusNew,
		Source:        domainLead.SourceWhatsApp,
		LastContactAt: occurredAt,
	})
	if err == nil {
		return created, true, nil
	}
	if !store.IsUniqueViolation(err) {
		return domainLead.Lead{}, false, err
	}

	// One lead per (tenant, contact): reuse the concurrent winner.
	winner, err := s.repo.GetByTenantAndContact(ctx, input.TenantID, input.ContactID)
	if err != nil {
		return domainLead.Lead{}, false, err
	}
	advanced, err := s.repo.AdvanceLastContact(ctx, winner.ID, occurredAt)
	if err != nil {
		return domainLead.Lead{}, false, err
	}
	return advanced, false, nil
}

// alreadyRecorded is the activity dedup probe: the TTL registry absorbs hot
// redeliveries without a store round-trip, the indexed metadata.messageId
// lookup is the durable check behind it.
func (s *leadService) alreadyRecorded(ctx context.Context, input domainLead.UpsertInput) bool {
	if input.MessageID == "" {
		return false
	}
	if s.registry.Seen(ctx, s.dedupeKey(input)) {
		return true
	}
	if _, err := s.repo.FindActivityByMessageID(ctx, input.TenantID, input.MessageID); err == nil {
		s.registerMessage(ctx, input)
		return true
	}
	return false
}

func (s *leadService) registerMessage(ctx context.Context, input domainLead.UpsertInput) {
	if input.MessageID == "" {
		return
	}
	s.registry.Register(ctx, s.dedupeKey(input), s.registryTTL)
}

func (s *leadService) dedupeKey(input domainLead.UpsertInput) string {
	return dedupe.Key(input.TenantID, activityDedupeScope, input.MessageID)
}

func boundedPreview(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}
