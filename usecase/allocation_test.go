package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainCampaign "github.com/atendezap/zapdesk/domains/campaign"
	"github.com/atendezap/zapdesk/domains/realtime"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/dedupe"
	"github.com/atendezap/zapdesk/pkg/metrics"
	"github.com/atendezap/zapdesk/usecase"
)

type fakeCampaignRepo struct {
	mu          sync.Mutex
	campaigns   map[string]domainCampaign.Campaign
	allocations map[string]domainCampaign.Allocation // keyed tenant|campaignKey|baseKey

	createCalls int
	createErrs  []error // drained one per CreateAllocation call
	nextID      int
}

func newFakeCampaignRepo(campaigns ...domainCampaign.Campaign) *fakeCampaignRepo {
	byID := make(map[string]domainCampaign.Campaign, len(campaigns))
	for _, c := range campaigns {
		byID[c.ID] = c
	}
	return &fakeCampaignRepo{
		campaigns:   byID,
		allocations: make(map[string]domainCampaign.Allocation),
	}
}

func (f *fakeCampaignRepo) ListActiveByInstance(_ context.Context, tenantID, instanceID string) ([]domainCampaign.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domainCampaign.Campaign
	for _, c := range f.campaigns {
		if c.TenantID == tenantID && c.InstanceID == instanceID && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) GetByID(_ context.Context, id string) (domainCampaign.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok {
		return c, nil
	}
	return domainCampaign.Campaign{}, store.ErrNotFound
}

func (f *fakeCampaignRepo) CreateAllocation(_ context.Context, a domainCampaign.Allocation) (domainCampaign.Allocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return domainCampaign.Allocation{}, err
		}
	}
	campaignKey := a.CampaignID
	if campaignKey == "" {
		campaignKey = a.InstanceID
	}
	base := a.Document
	if base == "" {
		base = a.LeadID
	}
	key := a.TenantID + "|" + campaignKey + "|" + base
	if _, ok := f.allocations[key]; ok {
		return domainCampaign.Allocation{}, &store.ConstraintError{Kind: store.ConstraintUnique}
	}
	f.nextID++
	a.ID = fmt.Sprintf("alloc-%d", f.nextID)
	a.CreatedAt = time.Now().UTC()
	f.allocations[key] = a
	return a, nil
}

func newCampaignService(repo *fakeCampaignRepo, notifier *recordingNotifier, registryTTL time.Duration) domainCampaign.ICampaignUsecase {
	return usecase.NewCampaignService(repo, dedupe.NewMemory(), registryTTL, notifier, metrics.New(16))
}

func processInput() domainCampaign.ProcessInput {
	return domainCampaign.ProcessInput{
		TenantID:   "t1",
		InstanceID: "i1",
		Document:   "12345678900",
		RequestID:  "req-1",
	}
}

func TestDeliverForInstanceAllocatesPerCampaign(t *testing.T) {
	repo := newFakeCampaignRepo(
		domainCampaign.Campaign{ID: "cmp1", TenantID: "t1", InstanceID: "i1", AgreementID: "agr1", IsActive: true},
		domainCampaign.Campaign{ID: "cmp2", TenantID: "t1", InstanceID: "i1", IsActive: true},
		domainCampaign.Campaign{ID: "cmp3", TenantID: "t1", InstanceID: "i1", IsActive: false},
	)
	notifier := &recordingNotifier{}
	svc := newCampaignService(repo, notifier, time.Minute)

	report, err := svc.DeliverForInstance(context.Background(), processInput())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Allocated)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)

	emissions := notifier.byEvent(realtime.EventLeadAllocationsNew)
	// Two tenant-room emissions plus one agreement-room emission for cmp1.
	assert.Len(t, emissions, 3)
}

func TestDeliverForInstanceSynthesizesInstanceTarget(t *testing.T) {
	repo := newFakeCampaignRepo()
	notifier := &recordingNotifier{}
	svc := newCampaignService(repo, notifier, time.Minute)

	report, err := svc.DeliverForInstance(context.Background(), processInput())
	require.NoError(t, err)

	require.Len(t, report.Reports, 1)
	assert.Equal(t, domainCampaign.TargetAllocated, report.Reports[0].Status)
	assert.Empty(t, report.Reports[0].Target.CampaignID)
	assert.Equal(t, "i1", report.Reports[0].Target.InstanceID)

	// Instance-level targets carry the sentinel agreement and never reach an
	// agreement room.
	assert.Len(t, notifier.byEvent(realtime.EventLeadAllocationsNew), 1)
}

func TestProcessTargetsSkipsWithinDedupeWindow(t *testing.T) {
	repo := newFakeCampaignRepo()
	svc := newCampaignService(repo, &recordingNotifier{}, time.Minute)
	ctx := context.Background()

	first, err := svc.DeliverForInstance(ctx, processInput())
	require.NoError(t, err)
	require.Equal(t, 1, first.Allocated)

	second, err := svc.DeliverForInstance(ctx, processInput())
	require.NoError(t, err)

	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, domainCampaign.TargetSkipped, second.Reports[0].Status)
	// The window hit never reaches the store.
	assert.Equal(t, 1, repo.createCalls)
}

func TestProcessTargetsDuplicateAfterWindowExpiry(t *testing.T) {
	repo := newFakeCampaignRepo()
	svc := newCampaignService(repo, &recordingNotifier{}, 15*time.Millisecond)
	ctx := context.Background()

	_, err := svc.DeliverForInstance(ctx, processInput())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	second, err := svc.DeliverForInstance(ctx, processInput())
	require.NoError(t, err)

	// Past the window the store's unique index catches the repeat, and the
	// registry is re-armed.
	assert.Equal(t, domainCampaign.TargetDuplicate, second.Reports[0].Status)
	assert.Equal(t, 2, repo.createCalls)

	third, err := svc.DeliverForInstance(ctx, processInput())
	require.NoError(t, err)
	assert.Equal(t, domainCampaign.TargetSkipped, third.Reports[0].Status)
	assert.Equal(t, 2, repo.createCalls)
}

func TestProcessTargetsFailureNeverBlocksTheRest(t *testing.T) {
	repo := newFakeCampaignRepo(
		domainCampaign.Campaign{ID: "cmp1", TenantID: "t1", InstanceID: "i1", IsActive: true},
		domainCampaign.Campaign{ID: "cmp2", TenantID: "t1", InstanceID: "i1", IsActive: true},
	)
	repo.createErrs = []error{errors.New("connection reset"), nil}
	svc := newCampaignService(repo, &recordingNotifier{}, time.Minute)

	report, err := svc.DeliverForInstance(context.Background(), processInput())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Allocated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, repo.createCalls)
}

func TestProcessTargetsFailedAttemptIsRetriable(t *testing.T) {
	repo := newFakeCampaignRepo()
	repo.createErrs = []error{errors.New("connection reset")}
	svc := newCampaignService(repo, &recordingNotifier{}, time.Minute)
	ctx := context.Background()

	first, err := svc.DeliverForInstance(ctx, processInput())
	require.NoError(t, err)
	require.Equal(t, 1, first.Failed)

	// Transient failures do not arm the registry; the retry goes through.
	second, err := svc.DeliverForInstance(ctx, processInput())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Allocated)
}

func TestProcessTargetsDedupeKeyFallsBackToLeadID(t *testing.T) {
	repo := newFakeCampaignRepo()
	svc := newCampaignService(repo, &recordingNotifier{}, time.Minute)
	ctx := context.Background()

	input := processInput()
	input.Document = ""
	input.LeadID = "lead-1"

	first, err := svc.DeliverForInstance(ctx, input)
	require.NoError(t, err)
	require.Equal(t, 1, first.Allocated)

	second, err := svc.DeliverForInstance(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)

	other := input
	other.LeadID = "lead-2"
	third, err := svc.DeliverForInstance(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Allocated)
}
