package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	"github.com/atendezap/zapdesk/domains/realtime"
	domainTicket "github.com/atendezap/zapdesk/domains/ticket"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/metrics"
)

type ticketService struct {
	repo     domainTicket.ITicketRepository
	queues   domainQueue.IQueueUsecase
	notifier realtime.Notifier
	metrics  metrics.Recorder
}

func NewTicketService(
	repo domainTicket.ITicketRepository,
	queues domainQueue.IQueueUsecase,
	notifier realtime.Notifier,
	recorder metrics.Recorder,
) domainTicket.ITicketUsecase {
	return &ticketService{
		repo:     repo,
		queues:   queues,
		notifier: notifier,
		metrics:  recorder,
	}
}

// EnsureForContact reuses the contact's open conversation or creates one.
// A queue-not-found signal on create means the cached queue id went stale
// (queues are user-manageable): re-resolve bypassing the cache and retry
// exactly once. The second failure propagates untouched.
func (s *ticketService) EnsureForContact(ctx context.Context, input domainTicket.EnsureInput) (domainTicket.Ticket, error) {
	existing, err := s.repo.FindOpenByContact(ctx, input.TenantID, input.ContactID)
	if err == nil {
		if touchErr := s.repo.Touch(ctx, existing.ID, time.Now().UTC()); touchErr != nil {
			logrus.WithError(touchErr).Warnf("[TICKET] Could not touch ticket %s", existing.ID)
		}
		s.emitUpdated(input.TenantID, existing.ID)
		return existing, nil
	}
	if !store.IsNotFound(err) {
		return domainTicket.Ticket{}, err
	}

	created, err := s.create(ctx, input, input.QueueID)
	if err == nil {
		s.metrics.Count("ticket.created", 1)
		s.emitUpdated(input.TenantID, created.ID)
		return created, nil
	}
	if !isStaleQueueSignal(err) {
		return domainTicket.Ticket{}, err
	}

	logrus.Warnf("[TICKET] Queue %s vanished under tenant %s, refreshing and retrying once", input.QueueID, input.TenantID)
	s.metrics.Count("ticket.stale_queue_retry", 1)

	freshQueueID, refreshErr := s.queues.RefreshDefaultQueueID(ctx, input.TenantID)
	if refreshErr != nil {
		return domainTicket.Ticket{}, refreshErr
	}

	created, err = s.create(ctx, input, freshQueueID)
	if err != nil {
		return domainTicket.Ticket{}, err
	}
	s.metrics.Count("ticket.created", 1)
	s.emitUpdated(input.TenantID, created.ID)
	return created, nil
}

func (s *ticketService) create(ctx context.Context, input domainTicket.EnsureInput, queueID string) (domainTicket.Ticket, error) {
	return s.repo.Create(ctx, domainTicket.Ticket{
		TenantID:  input.TenantID,
		ContactID: input.ContactID,
		QueueID:   queueID,
		Status:    domainTicket.StatusOpen,
		Subject:   input.Subject,
		Metadata:  input.Extra,
	})
}

func (s *ticketService) emitUpdated(tenantID, ticketID string) {
	payload := map[string]any{"ticketId": ticketID}
	s.notifier.EmitToTenant(tenantID, realtime.EventTicketsUpdated, payload)
	s.notifier.EmitToTicket(ticketID, realtime.EventTicketsUpdated, payload)
}

// isStaleQueueSignal matches both shapes a vanished queue can take: a typed
// not-found from a pre-check and a foreign-key violation from the insert
// itself, however deeply wrapped.
func isStaleQueueSignal(err error) bool {
	return store.IsNotFound(err) || store.IsForeignKeyViolation(err)
}
