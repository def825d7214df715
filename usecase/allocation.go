package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	domainCampaign "github.com/atendezap/zapdesk/domains/campaign"
	"github.com/atendezap/zapdesk/domains/realtime"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/dedupe"
	"github.com/atendezap/zapdesk/pkg/metrics"
)

type campaignService struct {
	repo        domainCampaign.ICampaignRepository
	registry    dedupe.Registry
	registryTTL time.Duration
	notifier    realtime.Notifier
	metrics     metrics.Recorder
}

func NewCampaignService(
	repo domainCampaign.ICampaignRepository,
	registry dedupe.Registry,
	registryTTL time.Duration,
	notifier realtime.Notifier,
	recorder metrics.Recorder,
) domainCampaign.ICampaignUsecase {
	return &campaignService{
		repo:        repo,
		registry:    registry,
		registryTTL: registryTTL,
		notifier:    notifier,
		metrics:     recorder,
	}
}

// BuildAllocationTargets yields one target per campaign, or a single
// synthetic instance-level target when the campaign list is empty.
func (s *campaignService) BuildAllocationTargets(campaigns []domainCampaign.Campaign, instanceID string) []domainCampaign.Target {
	if len(campaigns) == 0 {
		return []domainCampaign.Target{{InstanceID: instanceID}}
	}
	targets := make([]domainCampaign.Target, 0, len(campaigns))
	for _, c := range campaigns {
		targets = append(targets, domainCampaign.Target{CampaignID: c.ID, InstanceID: instanceID})
	}
	return targets
}

// ProcessAllocationTargets attempts every target independently: a failure
// on one never blocks the rest. The TTL registry suppresses repeats within
// the window; the store's unique index is the hard guarantee behind it.
func (s *campaignService) ProcessAllocationTargets(ctx context.Context, input domainCampaign.ProcessInput, targets []domainCampaign.Target) domainCampaign.BatchReport {
	report := domainCampaign.BatchReport{Reports: make([]domainCampaign.TargetReport, 0, len(targets))}

	for _, target := range targets {
		tr := s.processTarget(ctx, input, target)
		report.Reports = append(report.Reports, tr)
		switch tr.Status {
		case domainCampaign.TargetAllocated:
			report.Allocated++
		case domainCampaign.TargetSkipped, domainCampaign.TargetDuplicate:
			report.Skipped++
		case domainCampaign.TargetFailed:
			report.Failed++
		}
	}
	return report
}

func (s *campaignService) processTarget(ctx context.Context, input domainCampaign.ProcessInput, target domainCampaign.Target) domainCampaign.TargetReport {
	key := dedupe.Key(input.TenantID, target.Key(), input.BaseKey())

	if s.registry.Seen(ctx, key) {
		s.metrics.Count("allocation.deduped", 1)
		return domainCampaign.TargetReport{Target: target, Status: domainCampaign.TargetSkipped}
	}

	agreementID := s.agreementFor(ctx, target)

	alloc, err := s.repo.CreateAllocation(ctx, domainCampaign.Allocation{
		TenantID:    input.TenantID,
		LeadID:      input.LeadID,
		CampaignID:  target.CampaignID,
		InstanceID:  target.InstanceID,
		AgreementID: agreementID,
		Document:    input.Document,
		Payload:     input.Payload,
	})
	if err != nil {
		// The attempt was "used" either way: register the key so the next
		// delivery within the window is skipped outright.
		if store.IsUniqueViolation(err) {
			s.registry.Register(ctx, key, s.registryTTL)
			logrus.Debugf("[ALLOCATION] Target %s already allocated for %s (request %s)", target.Key(), input.BaseKey(), input.RequestID)
			s.metrics.Count("allocation.duplicate", 1)
			return domainCampaign.TargetReport{Target: target, Status: domainCampaign.TargetDuplicate}
		}
		logrus.WithError(err).Errorf("[ALLOCATION] Allocation failed for target %s (tenant %s, request %s)", target.Key(), input.TenantID, input.RequestID)
		s.metrics.Count("allocation.failed", 1)
		return domainCampaign.TargetReport{Target: target, Status: domainCampaign.TargetFailed, Error: err.Error()}
	}

	s.registry.Register(ctx, key, s.registryTTL)
	s.metrics.Count("allocation.created", 1)

	payload := map[string]any{
		"allocation": alloc,
		"summary": map[string]any{
			"tenantId":    input.TenantID,
			"campaignId":  target.CampaignID,
			"instanceId":  target.InstanceID,
			"agreementId": agreementID,
			"document":    input.Document,
		},
	}
	s.notifier.EmitToTenant(input.TenantID, realtime.EventLeadAllocationsNew, payload)
	if agreementID != domainCampaign.AgreementUnknown {
		s.notifier.EmitToAgreement(agreementID, realtime.EventLeadAllocationsNew, payload)
	}

	return domainCampaign.TargetReport{Target: target, Status: domainCampaign.TargetAllocated}
}

func (s *campaignService) DeliverForInstance(ctx context.Context, input domainCampaign.ProcessInput) (domainCampaign.BatchReport, error) {
	campaigns, err := s.repo.ListActiveByInstance(ctx, input.TenantID, input.InstanceID)
	if err != nil {
		return domainCampaign.BatchReport{}, err
	}
	targets := s.BuildAllocationTargets(campaigns, input.InstanceID)
	return s.ProcessAllocationTargets(ctx, input, targets), nil
}

// agreementFor resolves the campaign's agreement id, defaulting to the
// sentinel so instance-level targets and unknown campaigns never reach an
// agreement room.
func (s *campaignService) agreementFor(ctx context.Context, target domainCampaign.Target) string {
	if target.CampaignID == "" {
		return domainCampaign.AgreementUnknown
	}
	c, err := s.repo.GetByID(ctx, target.CampaignID)
	if err != nil || c.AgreementID == "" {
		return domainCampaign.AgreementUnknown
	}
	return c.AgreementID
}
