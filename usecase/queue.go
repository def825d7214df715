package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	"github.com/atendezap/zapdesk/domains/realtime"
	domainTenant "github.com/atendezap/zapdesk/domains/tenant"
	"github.com/atendezap/zapdesk/infrastructure/store"
	pkgError "github.com/atendezap/zapdesk/pkg/error"
	"github.com/atendezap/zapdesk/pkg/metrics"
	"github.com/atendezap/zapdesk/pkg/ttlcache"
)

type queueService struct {
	repo     domainQueue.IQueueRepository
	tenants  domainTenant.ITenantUsecase
	cache    ttlcache.Store
	cacheTTL time.Duration
	notifier realtime.Notifier
	metrics  metrics.Recorder
}

func NewQueueService(
	repo domainQueue.IQueueRepository,
	tenants domainTenant.ITenantUsecase,
	cache ttlcache.Store,
	cacheTTL time.Duration,
	notifier realtime.Notifier,
	recorder metrics.Recorder,
) domainQueue.IQueueUsecase {
	return &queueService{
		repo:     repo,
		tenants:  tenants,
		cache:    cache,
		cacheTTL: cacheTTL,
		notifier: notifier,
		metrics:  recorder,
	}
}

// GetDefaultQueueID trusts a live cache entry without re-validating that the
// queue still exists; the staleness window is bounded by the TTL and repaired
// downstream by the ticket ensurer.
func (s *queueService) GetDefaultQueueID(ctx context.Context, tenantID string, provisionIfMissing bool) (string, bool, error) {
	if queueID, ok := s.cache.Get(tenantID); ok {
		s.metrics.Count("queue.cache.hit", 1)
		return queueID, false, nil
	}
	s.metrics.Count("queue.cache.miss", 1)

	q, err := s.repo.OldestByTenant(ctx, tenantID)
	if err == nil {
		s.cache.Set(tenantID, q.ID, s.cacheTTL)
		return q.ID, false, nil
	}
	if !store.IsNotFound(err) {
		return "", false, err
	}
	if !provisionIfMissing {
		return "", false, nil
	}

	queueID, err := s.ProvisionDefaultQueue(ctx, tenantID)
	if err != nil {
		return "", false, err
	}
	return queueID, true, nil
}

// ProvisionDefaultQueue upserts the sentinel queue. The (tenantId, name) key
// is stable, so concurrent callers converge on one row. A foreign-key
// violation means the tenant row is missing: ensure it and retry the upsert
// exactly once.
func (s *queueService) ProvisionDefaultQueue(ctx context.Context, tenantID string) (string, error) {
	q, err := s.upsertSentinel(ctx, tenantID)
	if err == nil {
		s.cache.Set(tenantID, q.ID, s.cacheTTL)
		s.metrics.Count("queue.provisioned", 1)
		return q.ID, nil
	}

	if !store.IsForeignKeyViolation(err) {
		return "", pkgError.NewProvisioningError(pkgError.ReasonUnknown, err)
	}

	logrus.Warnf("[QUEUE] Tenant %s missing during queue provisioning, attempting repair", tenantID)
	if _, _, ensureErr := s.tenants.Ensure(ctx, tenantID); ensureErr != nil {
		return "", pkgError.NewProvisioningError(pkgError.ReasonTenantNotFound, ensureErr)
	}

	q, err = s.upsertSentinel(ctx, tenantID)
	if err != nil {
		reason := pkgError.ReasonUnknown
		if store.IsForeignKeyViolation(err) {
			reason = pkgError.ReasonTenantNotFound
		}
		return "", pkgError.NewProvisioningError(reason, err)
	}

	s.cache.Set(tenantID, q.ID, s.cacheTTL)
	s.metrics.Count("queue.provisioned", 1)
	return q.ID, nil
}

// EnsureInboundQueue never returns a Go error. The inbound pipeline decides
// per message whether to proceed degraded or drop, so every failure comes
// back as data and is notified to the tenant room.
func (s *queueService) EnsureInboundQueue(ctx context.Context, input domainQueue.EnsureInput) domainQueue.EnsureResult {
	queueID, _, err := s.GetDefaultQueueID(ctx, input.TenantID, false)
	if err == nil && queueID != "" {
		return domainQueue.EnsureResult{QueueID: &queueID}
	}
	if err != nil {
		logrus.WithError(err).Warnf("[QUEUE] Default queue lookup failed for tenant %s, trying to provision", input.TenantID)
	}

	queueID, err = s.ProvisionDefaultQueue(ctx, input.TenantID)
	if err != nil {
		var provErr *pkgError.ProvisioningError
		if !errors.As(err, &provErr) {
			provErr = pkgError.NewProvisioningError(pkgError.ReasonUnknown, err)
		}

		logrus.WithError(err).Errorf("[QUEUE] Could not ensure inbound queue for tenant %s (request %s)", input.TenantID, input.RequestID)
		s.metrics.Count("queue.provision.failed", 1)
		s.notifier.EmitToTenant(input.TenantID, realtime.EventQueueMissing, map[string]any{
			"tenantId":    input.TenantID,
			"instanceId":  input.InstanceID,
			"reason":      provErr.Reason,
			"recoverable": provErr.Recoverable,
		})
		return domainQueue.EnsureResult{Failure: provErr}
	}

	logrus.Infof("[QUEUE] Auto-provisioned default queue %s for tenant %s (request %s)", queueID, input.TenantID, input.RequestID)
	s.notifier.EmitToTenant(input.TenantID, realtime.EventQueueAutoProvisioned, map[string]any{
		"tenantId":   input.TenantID,
		"instanceId": input.InstanceID,
		"queueId":    queueID,
		"requestId":  input.RequestID,
	})
	return domainQueue.EnsureResult{QueueID: &queueID, WasProvisioned: true}
}

// RefreshDefaultQueueID bypasses the cache entirely: the ticket ensurer calls
// it when a cached id turned out to reference a deleted queue.
func (s *queueService) RefreshDefaultQueueID(ctx context.Context, tenantID string) (string, error) {
	s.cache.Delete(tenantID)

	q, err := s.repo.OldestByTenant(ctx, tenantID)
	if err == nil {
		s.cache.Set(tenantID, q.ID, s.cacheTTL)
		return q.ID, nil
	}
	if !store.IsNotFound(err) {
		return "", err
	}
	return s.ProvisionDefaultQueue(ctx, tenantID)
}

func (s *queueService) InvalidateCache(tenantID string) {
	s.cache.Delete(tenantID)
}

func (s *queueService) upsertSentinel(ctx context.Context, tenantID string) (domainQueue.Queue, error) {
	return s.repo.UpsertByTenantAndName(ctx, domainQueue.Queue{
		TenantID:    tenantID,
		Name:        domainQueue.DefaultQueueName,
		Description: "Fila padrão criada automaticamente para mensagens recebidas",
		IsActive:    true,
	})
}
