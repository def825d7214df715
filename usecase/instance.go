package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainInstance "github.com/atendezap/zapdesk/domains/instance"
	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	domainTenant "github.com/atendezap/zapdesk/domains/tenant"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/identifiers"
	"github.com/atendezap/zapdesk/pkg/metrics"
)

type instanceService struct {
	repo    domainInstance.IInstanceRepository
	tenants domainTenant.ITenantUsecase
	queues  domainQueue.IQueueUsecase
	metrics metrics.Recorder

	// autoProvisionMatch gates the tenant-match path wholesale
	// (AUTO_PROVISION_TENANT_MATCH). Off means broker metadata never binds
	// events to tenants; only explicit instance ids resolve.
	autoProvisionMatch bool
}

func NewInstanceService(
	repo domainInstance.IInstanceRepository,
	tenants domainTenant.ITenantUsecase,
	queues domainQueue.IQueueUsecase,
	recorder metrics.Recorder,
	autoProvisionMatch bool,
) domainInstance.IInstanceUsecase {
	return &instanceService{
		repo:               repo,
		tenants:            tenants,
		queues:             queues,
		metrics:            recorder,
		autoProvisionMatch: autoProvisionMatch,
	}
}

// AttemptAutoProvision resolves or creates the channel instance an inbound
// event arrived through. Every failure mode is data: broker noise without
// tenant hints is NOT_APPLICABLE, store races resolve to REUSED, and
// anything unrepairable degrades to FAILED instead of crashing the pipeline.
func (s *instanceService) AttemptAutoProvision(ctx context.Context, input domainInstance.AutoProvisionInput) domainInstance.AutoProvisionResult {
	if !s.autoProvisionMatch {
		return domainInstance.AutoProvisionResult{
			Outcome: domainInstance.OutcomeNotApplicable,
			Reason:  "tenant matching disabled",
		}
	}

	candidates := identifiers.ResolveTenantCandidates(input.Metadata)
	if len(candidates) == 0 {
		logrus.Warnf("[INSTANCE] No tenant identifiers in metadata for instance %s (request %s), skipping auto-provision",
			input.InstanceID, input.RequestID)
		return domainInstance.AutoProvisionResult{
			Outcome: domainInstance.OutcomeNotApplicable,
			Reason:  "no tenant identifiers in metadata",
		}
	}

	matched, err := MatchCandidates(ctx, s.tenants, candidates)
	if err != nil {
		logrus.WithError(err).Errorf("[INSTANCE] Tenant lookup failed for instance %s", input.InstanceID)
		return domainInstance.AutoProvisionResult{
			Outcome: domainInstance.OutcomeFailed,
			Reason:  "tenant lookup failed",
		}
	}
	if matched == nil {
		// Tenants are never created from broker noise alone; creation is
		// reserved for the queue provisioner's FK-repair path.
		return domainInstance.AutoProvisionResult{
			Outcome: domainInstance.OutcomeNotApplicable,
			Reason:  "no tenant matched the extracted identifiers",
		}
	}

	brokerID := metaString(input.Metadata, "brokerId", "broker_id")
	if brokerID == "" {
		brokerID = input.InstanceID
	}
	sessionID := metaString(input.Metadata, "sessionId", "session_id")

	existing, err := s.repo.GetByTenantAndBroker(ctx, matched.ID, brokerID)
	if err == nil {
		return s.reuse(ctx, existing, input, candidates, sessionID, brokerID)
	}
	if !store.IsNotFound(err) {
		logrus.WithError(err).Errorf("[INSTANCE] Instance lookup failed for tenant %s broker %s", matched.ID, brokerID)
		return domainInstance.AutoProvisionResult{Outcome: domainInstance.OutcomeFailed, Reason: "instance lookup failed"}
	}

	created, err := s.repo.Create(ctx, domainInstance.Instance{
		ID:         s.instanceID(input.InstanceID),
		TenantID:   matched.ID,
		BrokerID:   brokerID,
		Name:       s.instanceName(input.Metadata, brokerID),
		Status:     domainInstance.StatusConnected,
		Connected:  true,
		LastSeenAt: timePtr(time.Now().UTC()),
		Metadata: map[string]any{
			domainInstance.MetadataAutoProvisionKey: autoProvisionProvenance(input, candidates, sessionID, brokerID),
		},
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return s.recoverFromCreateRace(ctx, matched.ID, brokerID, input, candidates, sessionID)
		}
		logrus.WithError(err).Errorf("[INSTANCE] Instance creation failed for tenant %s broker %s", matched.ID, brokerID)
		s.metrics.Count("instance.provision.failed", 1)
		return domainInstance.AutoProvisionResult{Outcome: domainInstance.OutcomeFailed, Reason: "instance creation failed"}
	}

	logrus.Infof("[INSTANCE] Auto-provisioned instance %s for tenant %s (broker %s, request %s)",
		created.ID, matched.ID, brokerID, input.RequestID)
	s.metrics.Count("instance.provisioned", 1)

	// Preemptive queue ensure so the first ticket does not pay the
	// provisioning round-trip. Best effort: EnsureInboundQueue reports
	// failure as data and has already notified the tenant room.
	s.queues.EnsureInboundQueue(ctx, domainQueue.EnsureInput{
		TenantID:   matched.ID,
		RequestID:  input.RequestID,
		InstanceID: created.ID,
	})

	return domainInstance.AutoProvisionResult{
		Outcome:    domainInstance.OutcomeCreated,
		Instance:   &created,
		WasCreated: true,
		BrokerID:   brokerID,
	}
}

// recoverFromCreateRace runs the fallback lookup chain after losing a
// creation race: primary id, (tenantId, brokerId), brokerId alone, then the
// tenant list filtered by brokerId. No match after a unique violation is an
// inconsistency worth an error log, not a retry loop.
func (s *instanceService) recoverFromCreateRace(
	ctx context.Context,
	tenantID, brokerID string,
	input domainInstance.AutoProvisionInput,
	candidates []identifiers.Candidate,
	sessionID string,
) domainInstance.AutoProvisionResult {
	if input.InstanceID != "" {
		if inst, err := s.repo.GetByID(ctx, input.InstanceID); err == nil {
			return s.reuse(ctx, inst, input, candidates, sessionID, brokerID)
		}
	}
	if inst, err := s.repo.GetByTenantAndBroker(ctx, tenantID, brokerID); err == nil {
		return s.reuse(ctx, inst, input, candidates, sessionID, brokerID)
	}
	if inst, err := s.repo.GetByBrokerID(ctx, brokerID); err == nil {
		return s.reuse(ctx, inst, input, candidates, sessionID, brokerID)
	}
	if list, err := s.repo.ListByTenant(ctx, tenantID); err == nil {
		for _, inst := range list {
			if inst.BrokerID == brokerID {
				return s.reuse(ctx, inst, input, candidates, sessionID, brokerID)
			}
		}
	}

	logrus.Errorf("[INSTANCE] Unique violation creating instance for tenant %s broker %s but no row found afterwards",
		tenantID, brokerID)
	return domainInstance.AutoProvisionResult{Outcome: domainInstance.OutcomeFailed, Reason: "lost creation race but no winner found"}
}

func (s *instanceService) reuse(
	ctx context.Context,
	inst domainInstance.Instance,
	input domainInstance.AutoProvisionInput,
	candidates []identifiers.Candidate,
	sessionID, brokerID string,
) domainInstance.AutoProvisionResult {
	merged, changed := mergeAutoProvision(inst.Metadata, autoProvisionProvenance(input, candidates, sessionID, brokerID))
	if changed {
		if err := s.repo.UpdateMetadata(ctx, inst.ID, merged); err != nil {
			// Metadata enrichment is best effort; the instance itself is
			// perfectly usable.
			logrus.WithError(err).Warnf("[INSTANCE] Metadata merge failed for instance %s", inst.ID)
		} else {
			inst.Metadata = merged
		}
	}
	return domainInstance.AutoProvisionResult{
		Outcome:  domainInstance.OutcomeReused,
		Instance: &inst,
		BrokerID: brokerID,
	}
}

// SelectActive picks the instance an inbound event without an explicit
// instance id binds to. One active instance wins outright; several is a
// misconfiguration signal (diagnostic log) resolved by recency; zero falls
// back to the most recently updated row.
func (s *instanceService) SelectActive(ctx context.Context, tenantID string) (domainInstance.Instance, error) {
	list, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return domainInstance.Instance{}, err
	}
	if len(list) == 0 {
		return domainInstance.Instance{}, store.ErrNotFound
	}

	var active []domainInstance.Instance
	for _, inst := range list {
		if inst.IsActive() {
			active = append(active, inst)
		}
	}

	switch len(active) {
	case 1:
		return active[0], nil
	case 0:
		// ListByTenant orders by most recently updated.
		return list[0], nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		li, lj := lastSeen(active[i]), lastSeen(active[j])
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return active[i].ID < active[j].ID
	})

	ids := make([]string, len(active))
	for i, inst := range active {
		ids[i] = inst.ID
	}
	logrus.Errorf("[INSTANCE] Tenant %s has %d active instances (%s), selecting most recently seen %s",
		tenantID, len(active), strings.Join(ids, ", "), active[0].ID)
	s.metrics.Count("instance.multi_active", 1)

	return active[0], nil
}

func (s *instanceService) List(ctx context.Context, tenantID string) ([]domainInstance.Instance, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

func (s *instanceService) GetByID(ctx context.Context, id string) (domainInstance.Instance, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *instanceService) MarkConnection(ctx context.Context, id string, connected bool) error {
	status := domainInstance.StatusDisconnected
	var lastSeenAt *time.Time
	if connected {
		status = domainInstance.StatusConnected
		lastSeenAt = timePtr(time.Now().UTC())
	}
	err := s.repo.UpdateConnection(ctx, id, status, connected, lastSeenAt)
	if store.IsNotFound(err) {
		// Broker sessions can outlive their instance row (manual cleanup);
		// nothing to mark.
		logrus.Debugf("[INSTANCE] Connection change for unknown instance %s ignored", id)
		return nil
	}
	return err
}

func (s *instanceService) instanceID(requested string) string {
	if requested != "" {
		return requested
	}
	return uuid.NewString()
}

func (s *instanceService) instanceName(metadata map[string]any, brokerID string) string {
	if name := metaString(metadata, "name", "instanceName", "instance_name"); name != "" {
		return name
	}
	return fmt.Sprintf("WhatsApp %s", shortID(brokerID))
}

// autoProvisionProvenance is the namespaced sub-object recorded under the
// instance metadata on every touch.
func autoProvisionProvenance(
	input domainInstance.AutoProvisionInput,
	candidates []identifiers.Candidate,
	sessionID, brokerID string,
) map[string]any {
	return map[string]any{
		"autoProvisionedAt": time.Now().UTC().Format(time.RFC3339),
		"source":            "inbound_message",
		"requestId":         input.RequestID,
		"tenantIdentifiers": identifiers.Values(candidates),
		"sessionId":         sessionID,
		"brokerId":          brokerID,
	}
}

// mergeAutoProvision merges provenance into the existing metadata without
// overwriting it wholesale. Scalars keep their first-provision value and
// identifier lists grow as a set, so redelivering the same event produces no
// write at all.
func mergeAutoProvision(existing map[string]any, patch map[string]any) (map[string]any, bool) {
	merged := make(map[string]any, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}

	sub := map[string]any{}
	if prev, ok := merged[domainInstance.MetadataAutoProvisionKey].(map[string]any); ok {
		for k, v := range prev {
			sub[k] = v
		}
	}

	changed := false
	for k, v := range patch {
		if k == "tenantIdentifiers" {
			if mergedList, grew := unionStrings(sub[k], v); grew {
				sub[k] = mergedList
				changed = true
			} else if _, present := sub[k]; !present {
				sub[k] = mergedList
				changed = true
			}
			continue
		}
		if isEmptyValue(sub[k]) && !isEmptyValue(v) {
			sub[k] = v
			changed = true
		}
	}

	if !changed {
		return existing, false
	}
	merged[domainInstance.MetadataAutoProvisionKey] = sub
	return merged, true
}

// unionStrings appends values not already present, preserving order. The
// second return reports whether anything new arrived.
func unionStrings(current any, incoming any) ([]string, bool) {
	out := toStringSlice(current)
	seen := make(map[string]struct{}, len(out))
	for _, v := range out {
		seen[v] = struct{}{}
	}

	grew := false
	for _, v := range toStringSlice(incoming) {
		if _, ok := seen[v]; ok {
			continue
		}
		out = append(out, v)
		seen[v] = struct{}{}
		grew = true
	}
	return out, grew
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string(nil), vals...)
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func metaString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func lastSeen(inst domainInstance.Instance) time.Time {
	if inst.LastSeenAt != nil {
		return *inst.LastSeenAt
	}
	return time.Time{}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
