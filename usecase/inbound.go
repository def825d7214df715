package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	domainContact "github.com/atendezap/zapdesk/domains/contact"
	"github.com/atendezap/zapdesk/domains/inbound"
	domainInstance "github.com/atendezap/zapdesk/domains/instance"
	domainLead "github.com/atendezap/zapdesk/domains/lead"
	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	domainTicket "github.com/atendezap/zapdesk/domains/ticket"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/jobs"
	"github.com/atendezap/zapdesk/pkg/metrics"
)

// processTimeout bounds one pipeline pass when the event rides the worker
// pool. Inline media download is the only slow stage and it degrades to the
// deferred path on its own, so this is a backstop, not a tuning knob.
const processTimeout = 2 * time.Minute

type inboundService struct {
	instances domainInstance.IInstanceUsecase
	queues    domainQueue.IQueueUsecase
	contacts  domainContact.IContactUsecase
	tickets   domainTicket.ITicketUsecase
	leads     domainLead.ILeadUsecase
	media     IMediaUsecase
	pool      *jobs.Pool
	metrics   metrics.Recorder
}

func NewInboundService(
	instances domainInstance.IInstanceUsecase,
	queues domainQueue.IQueueUsecase,
	contacts domainContact.IContactUsecase,
	tickets domainTicket.ITicketUsecase,
	leads domainLead.ILeadUsecase,
	media IMediaUsecase,
	pool *jobs.Pool,
	recorder metrics.Recorder,
) inbound.IInboundUsecase {
	return &inboundService{
		instances: instances,
		queues:    queues,
		contacts:  contacts,
		tickets:   tickets,
		leads:     leads,
		media:     media,
		pool:      pool,
		metrics:   recorder,
	}
}

// ProcessMessage runs one event through the full pipeline: instance
// resolution, queue ensure, contact resolve, ticket ensure, media ingest,
// lead/activity upsert. Data-quality problems never come back as errors; they
// return Result{Persisted: false, Reason} so at-least-once brokers do not
// retry them. The error return is reserved for infrastructure failures that a
// redelivery might actually fix.
func (s *inboundService) ProcessMessage(ctx context.Context, evt inbound.Event) (inbound.Result, error) {
	started := time.Now()
	requestID := evt.RequestID()

	if evt.Direction != "" && evt.Direction != inbound.DirectionIncoming {
		return s.drop(evt, started, "non-incoming event ignored", inbound.Result{}), nil
	}
	if strings.TrimSpace(evt.Message.ID) == "" {
		return s.drop(evt, started, "message id missing", inbound.Result{}), nil
	}
	if strings.TrimSpace(evt.Contact.Phone) == "" {
		return s.drop(evt, started, "contact phone missing", inbound.Result{}), nil
	}

	inst, dropReason, err := s.resolveInstance(ctx, evt)
	if err != nil {
		return s.fail(evt, started, "provision", inbound.Result{}, err)
	}
	if dropReason != "" {
		return s.drop(evt, started, dropReason, inbound.Result{TenantID: evt.TenantID}), nil
	}

	result := inbound.Result{TenantID: inst.TenantID, InstanceID: inst.ID}

	ensure := s.queues.EnsureInboundQueue(ctx, domainQueue.EnsureInput{
		TenantID:   inst.TenantID,
		RequestID:  requestID,
		InstanceID: inst.ID,
	})
	if ensure.QueueID == nil {
		reason := "default queue unavailable"
		if ensure.Failure != nil {
			reason = fmt.Sprintf("default queue unavailable: %s", ensure.Failure.Reason)
		}
		return s.drop(evt, started, reason, result), nil
	}
	result.QueueID = *ensure.QueueID
	result.QueueProvisioned = ensure.WasProvisioned

	contact, err := s.contacts.Resolve(ctx, domainContact.ResolveInput{
		TenantID:    inst.TenantID,
		Phone:       evt.Contact.Phone,
		DisplayName: evt.Contact.Name,
		Tags:        eventTags(evt.Metadata),
	})
	if err != nil {
		return s.fail(evt, started, "contact", result, fmt.Errorf("contact resolve: %w", err))
	}
	result.ContactID = contact.ID

	tk, err := s.tickets.EnsureForContact(ctx, domainTicket.EnsureInput{
		TenantID:  inst.TenantID,
		ContactID: contact.ID,
		QueueID:   result.QueueID,
		Subject:   ticketSubject(contact, evt.Message),
		Extra:     ticketExtra(evt),
	})
	if err != nil {
		return s.fail(evt, started, "ticket", result, fmt.Errorf("ticket ensure: %w", err))
	}
	result.TicketID = tk.ID

	if evt.Message.HasMedia() {
		result.MediaPending = s.media.Ingest(ctx, MediaIngestInput{
			TenantID:   inst.TenantID,
			InstanceID: inst.ID,
			TicketID:   tk.ID,
			ChatKey:    evt.ChatKey(),
		}, &evt.Message)
	}

	up, err := s.leads.UpsertFromInbound(ctx, domainLead.UpsertInput{
		TenantID:          inst.TenantID,
		ContactID:         contact.ID,
		TicketID:          tk.ID,
		InstanceID:        inst.ID,
		ProviderMessageID: providerMessageID(evt),
		MessageID:         evt.Message.ID,
		MessageText:       evt.Message.Content(),
		MessageCreatedAt:  evt.Timestamp,
	})
	if err != nil {
		return s.fail(evt, started, "lead", result, fmt.Errorf("lead upsert: %w", err))
	}
	result.LeadID = up.Lead.ID
	result.ActivityDeduped = up.Deduplicated
	result.Persisted = true

	s.metrics.Count("inbound.persisted", 1)
	s.metrics.Event(metrics.Event{
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
		TenantID:   inst.TenantID,
		InstanceID: inst.ID,
		Stage:      "intake",
		Status:     "ok",
		DurationMs: time.Since(started).Milliseconds(),
	})
	logrus.Infof("[PIPELINE] Message %s persisted for tenant %s (ticket %s, lead %s, request %s)",
		evt.Message.ID, inst.TenantID, tk.ID, up.Lead.ID, requestID)

	return result, nil
}

// Dispatch enqueues the event on the sharded pool. Saturation drops the event
// and returns false so the intake can answer 503 and the broker redelivers.
func (s *inboundService) Dispatch(evt inbound.Event) bool {
	ok := s.pool.TryDispatch(jobs.Job{
		TenantID: shardTenant(evt),
		ChatKey:  evt.ChatKey(),
		Name:     "inbound",
		Handler: func(ctx context.Context) error {
			procCtx, cancel := context.WithTimeout(ctx, processTimeout)
			defer cancel()
			res, err := s.ProcessMessage(procCtx, evt)
			if err != nil {
				return err
			}
			if !res.Persisted {
				logrus.Debugf("[PIPELINE] Async drop for message %s: %s", evt.Message.ID, res.Reason)
			}
			return nil
		},
	})
	if !ok {
		s.metrics.Count("inbound.saturated", 1)
		logrus.Warnf("[PIPELINE] Worker pool saturated, rejecting message %s", evt.Message.ID)
	}
	return ok
}

// resolveInstance binds the event to a channel instance: explicit id lookup,
// then metadata-driven auto-provision, then the tenant's deterministic active
// pick. A non-empty dropReason means the message cannot be attributed to any
// channel and must be dropped as data, not retried.
func (s *inboundService) resolveInstance(ctx context.Context, evt inbound.Event) (domainInstance.Instance, string, error) {
	if evt.InstanceID != "" {
		inst, err := s.instances.GetByID(ctx, evt.InstanceID)
		if err == nil {
			return inst, "", nil
		}
		if !store.IsNotFound(err) {
			return domainInstance.Instance{}, "", fmt.Errorf("instance lookup: %w", err)
		}
		// Unknown explicit id: auto-provision may still bind it from the
		// event metadata.
	}

	res := s.instances.AttemptAutoProvision(ctx, domainInstance.AutoProvisionInput{
		InstanceID: evt.InstanceID,
		Metadata:   evt.Metadata,
		RequestID:  evt.RequestID(),
	})
	switch res.Outcome {
	case domainInstance.OutcomeCreated, domainInstance.OutcomeReused:
		return *res.Instance, "", nil
	case domainInstance.OutcomeFailed:
		return domainInstance.Instance{}, "instance provisioning failed: " + res.Reason, nil
	}

	if evt.TenantID == "" {
		return domainInstance.Instance{}, "no instance resolved: " + res.Reason, nil
	}
	inst, err := s.instances.SelectActive(ctx, evt.TenantID)
	if store.IsNotFound(err) {
		return domainInstance.Instance{}, "tenant has no channel instances", nil
	}
	if err != nil {
		return domainInstance.Instance{}, "", fmt.Errorf("instance selection: %w", err)
	}
	return inst, "", nil
}

func (s *inboundService) drop(evt inbound.Event, started time.Time, reason string, partial inbound.Result) inbound.Result {
	partial.Persisted = false
	partial.Reason = reason
	s.metrics.Count("inbound.dropped", 1)
	s.metrics.Event(metrics.Event{
		Timestamp:  time.Now().UTC(),
		RequestID:  evt.RequestID(),
		TenantID:   partial.TenantID,
		InstanceID: partial.InstanceID,
		Stage:      "intake",
		Status:     "skipped",
		Error:      reason,
		DurationMs: time.Since(started).Milliseconds(),
	})
	logrus.Warnf("[PIPELINE] Dropping message %s: %s (request %s)", evt.Message.ID, reason, evt.RequestID())
	return partial
}

func (s *inboundService) fail(evt inbound.Event, started time.Time, stage string, partial inbound.Result, err error) (inbound.Result, error) {
	s.metrics.Count("inbound.failed", 1)
	s.metrics.Event(metrics.Event{
		Timestamp:  time.Now().UTC(),
		RequestID:  evt.RequestID(),
		TenantID:   partial.TenantID,
		InstanceID: partial.InstanceID,
		Stage:      stage,
		Status:     "error",
		Error:      err.Error(),
		DurationMs: time.Since(started).Milliseconds(),
	})
	logrus.WithError(err).Errorf("[PIPELINE] Stage %s failed for message %s (request %s)",
		stage, evt.Message.ID, evt.RequestID())
	return partial, err
}

// shardTenant picks the pool sharding key before the instance is resolved:
// best available tenant hint, falling back to broker identity so unknown
// sessions still get stable per-conversation ordering.
func shardTenant(evt inbound.Event) string {
	if evt.TenantID != "" {
		return evt.TenantID
	}
	if evt.InstanceID != "" {
		return evt.InstanceID
	}
	return evt.BrokerID()
}

// ticketSubject derives the conversation subject from the first message the
// ticket is created for: bounded content excerpt, falling back to the contact
// name.
func ticketSubject(c domainContact.Contact, msg inbound.Message) string {
	if content := msg.Content(); content != "" {
		return boundedPreview(content, 80)
	}
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return "Atendimento WhatsApp"
}

func ticketExtra(evt inbound.Event) map[string]any {
	extra := map[string]any{"channel": "whatsapp"}
	if evt.ChatID != "" {
		extra["chatId"] = evt.ChatID
	}
	if evt.SessionID != "" {
		extra["sessionId"] = evt.SessionID
	}
	return extra
}

// providerMessageID is the upstream broker id for the message; brokers that
// do not distinguish it from the canonical id fall back to the message id.
func providerMessageID(evt inbound.Event) string {
	if evt.ExternalID != "" {
		return evt.ExternalID
	}
	return evt.Message.ID
}

// eventTags extracts the tag names an event asks to be applied to the
// contact. Anything that is not a string is ignored.
func eventTags(metadata map[string]any) []string {
	if metadata == nil {
		return nil
	}
	var names []string
	for _, raw := range toStringSlice(metadata["tags"]) {
		if name := strings.TrimSpace(raw); name != "" {
			names = append(names, name)
		}
	}
	return names
}
