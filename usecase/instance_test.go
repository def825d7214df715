package usecase_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainInstance "github.com/atendezap/zapdesk/domains/instance"
	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/metrics"
	"github.com/atendezap/zapdesk/usecase"
)

type fakeInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]domainInstance.Instance
	// failCreateWithUnique simulates losing a creation race: the row
	// appears (someone else won) but this Create reports the violation.
	failCreateWithUnique bool
}

func newFakeInstanceRepo() *fakeInstanceRepo {
	return &fakeInstanceRepo{instances: make(map[string]domainInstance.Instance)}
}

func (f *fakeInstanceRepo) GetByID(_ context.Context, id string) (domainInstance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[id]; ok {
		return inst, nil
	}
	return domainInstance.Instance{}, store.ErrNotFound
}

func (f *fakeInstanceRepo) GetByTenantAndBroker(_ context.Context, tenantID, brokerID string) (domainInstance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.TenantID == tenantID && inst.BrokerID == brokerID {
			return inst, nil
		}
	}
	return domainInstance.Instance{}, store.ErrNotFound
}

func (f *fakeInstanceRepo) GetByBrokerID(_ context.Context, brokerID string) (domainInstance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.BrokerID == brokerID {
			return inst, nil
		}
	}
	return domainInstance.Instance{}, store.ErrNotFound
}

func (f *fakeInstanceRepo) ListByTenant(_ context.Context, tenantID string) ([]domainInstance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domainInstance.Instance
	for _, inst := range f.instances {
		if inst.TenantID == tenantID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeInstanceRepo) Create(_ context.Context, inst domainInstance.Instance) (domainInstance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.instances {
		if existing.TenantID == inst.TenantID && existing.BrokerID == inst.BrokerID {
			return domainInstance.Instance{}, &store.ConstraintError{Kind: store.ConstraintUnique}
		}
	}
	if f.failCreateWithUnique {
		// The racing winner's row materializes alongside the violation.
		winner := inst
		winner.ID = "winner-" + inst.BrokerID
		winner.CreatedAt = time.Now().UTC()
		winner.UpdatedAt = winner.CreatedAt
		f.instances[winner.ID] = winner
		return domainInstance.Instance{}, &store.ConstraintError{Kind: store.ConstraintUnique}
	}
	inst.CreatedAt = time.Now().UTC()
	inst.UpdatedAt = inst.CreatedAt
	f.instances[inst.ID] = inst
	return inst, nil
}

func (f *fakeInstanceRepo) UpdateMetadata(_ context.Context, id string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return store.ErrNotFound
	}
	inst.Metadata = metadata
	f.instances[id] = inst
	return nil
}

func (f *fakeInstanceRepo) UpdateConnection(_ context.Context, id string, status domainInstance.Status, connected bool, lastSeenAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return store.ErrNotFound
	}
	inst.Status = status
	inst.Connected = connected
	inst.LastSeenAt = lastSeenAt
	f.instances[id] = inst
	return nil
}

func (f *fakeInstanceRepo) add(inst domainInstance.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[inst.ID] = inst
}

// fakeQueues satisfies the preemptive-ensure dependency without real
// provisioning.
type fakeQueues struct {
	mu          sync.Mutex
	ensured     []domainQueue.EnsureInput
	refreshID   string
	refreshErr  error
	refreshHits int
}

func (f *fakeQueues) GetDefaultQueueID(context.Context, string, bool) (string, bool, error) {
	return "", false, nil
}

func (f *fakeQueues) ProvisionDefaultQueue(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeQueues) EnsureInboundQueue(_ context.Context, input domainQueue.EnsureInput) domainQueue.EnsureResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, input)
	id := "ensured-queue"
	return domainQueue.EnsureResult{QueueID: &id}
}

func (f *fakeQueues) RefreshDefaultQueueID(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshHits++
	return f.refreshID, f.refreshErr
}

func (f *fakeQueues) InvalidateCache(string) {}

func newInstanceService(repo *fakeInstanceRepo, tenants *fakeTenants, queues *fakeQueues) domainInstance.IInstanceUsecase {
	return usecase.NewInstanceService(repo, tenants, queues, metrics.New(16), true)
}

func autoProvisionInput(instanceID string) domainInstance.AutoProvisionInput {
	return domainInstance.AutoProvisionInput{
		InstanceID: instanceID,
		Metadata: map[string]any{
			"tenantId": "t1",
			"brokerId": "5511999990000",
		},
		RequestID: "req-1",
	}
}

func TestAutoProvisionCreatesThenReuses(t *testing.T) {
	repo := newFakeInstanceRepo()
	queues := &fakeQueues{}
	svc := newInstanceService(repo, newFakeTenants("t1"), queues)
	ctx := context.Background()

	first := svc.AttemptAutoProvision(ctx, autoProvisionInput("i1"))
	require.Equal(t, domainInstance.OutcomeCreated, first.Outcome)
	require.NotNil(t, first.Instance)
	assert.True(t, first.WasCreated)
	assert.Equal(t, "t1", first.Instance.TenantID)
	assert.Equal(t, "5511999990000", first.Instance.BrokerID)

	// The new instance triggers a preemptive queue ensure.
	require.Len(t, queues.ensured, 1)
	assert.Equal(t, "t1", queues.ensured[0].TenantID)

	second := svc.AttemptAutoProvision(ctx, autoProvisionInput("i1"))
	assert.Equal(t, domainInstance.OutcomeReused, second.Outcome)
	assert.False(t, second.WasCreated)
	assert.Equal(t, first.Instance.ID, second.Instance.ID)
	assert.Len(t, queues.ensured, 1)
}

func TestAutoProvisionConcurrentCallsCreateOnce(t *testing.T) {
	repo := newFakeInstanceRepo()
	svc := newInstanceService(repo, newFakeTenants("t1"), &fakeQueues{})
	ctx := context.Background()

	const callers = 8
	results := make([]domainInstance.AutoProvisionResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.AttemptAutoProvision(ctx, autoProvisionInput("i1"))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, res := range results {
		require.Contains(t, []domainInstance.Outcome{domainInstance.OutcomeCreated, domainInstance.OutcomeReused}, res.Outcome)
		require.NotNil(t, res.Instance)
		assert.Equal(t, "5511999990000", res.Instance.BrokerID)
		if res.WasCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	list, err := repo.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAutoProvisionRecoversFromLostCreationRace(t *testing.T) {
	repo := newFakeInstanceRepo()
	repo.failCreateWithUnique = true
	svc := newInstanceService(repo, newFakeTenants("t1"), &fakeQueues{})

	result := svc.AttemptAutoProvision(context.Background(), autoProvisionInput(""))

	require.Equal(t, domainInstance.OutcomeReused, result.Outcome)
	require.NotNil(t, result.Instance)
	assert.False(t, result.WasCreated)
	assert.Equal(t, "5511999990000", result.Instance.BrokerID)
}

func TestAutoProvisionNotApplicableWithoutIdentifiers(t *testing.T) {
	svc := newInstanceService(newFakeInstanceRepo(), newFakeTenants("t1"), &fakeQueues{})

	result := svc.AttemptAutoProvision(context.Background(), domainInstance.AutoProvisionInput{
		InstanceID: "i1",
		Metadata:   map[string]any{"foo": "bar"},
	})

	assert.Equal(t, domainInstance.OutcomeNotApplicable, result.Outcome)
	assert.Nil(t, result.Instance)
}

func TestAutoProvisionNotApplicableWhenNoTenantMatches(t *testing.T) {
	svc := newInstanceService(newFakeInstanceRepo(), newFakeTenants("other"), &fakeQueues{})

	result := svc.AttemptAutoProvision(context.Background(), autoProvisionInput("i1"))

	assert.Equal(t, domainInstance.OutcomeNotApplicable, result.Outcome)
}

func TestSelectActivePrefersMostRecentlySeenActive(t *testing.T) {
	repo := newFakeInstanceRepo()
	now := time.Now().UTC()
	earlier := now.Add(-1 * time.Hour)

	repo.add(domainInstance.Instance{
		ID: "A", TenantID: "t1", Status: domainInstance.StatusConnected,
		Connected: true, LastSeenAt: &earlier, UpdatedAt: earlier,
	})
	repo.add(domainInstance.Instance{
		ID: "B", TenantID: "t1", Status: domainInstance.StatusConnected,
		Connected: true, LastSeenAt: &now, UpdatedAt: now,
	})
	repo.add(domainInstance.Instance{
		ID: "C", TenantID: "t1", Status: domainInstance.StatusDisconnected,
		Connected: false, UpdatedAt: now,
	})

	svc := newInstanceService(repo, newFakeTenants("t1"), &fakeQueues{})

	inst, err := svc.SelectActive(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "B", inst.ID)
}

func TestSelectActiveSingleActiveWinsOutright(t *testing.T) {
	repo := newFakeInstanceRepo()
	repo.add(domainInstance.Instance{ID: "A", TenantID: "t1", Connected: true})
	repo.add(domainInstance.Instance{ID: "C", TenantID: "t1", Connected: false})

	svc := newInstanceService(repo, newFakeTenants("t1"), &fakeQueues{})

	inst, err := svc.SelectActive(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "A", inst.ID)
}

func TestSelectActiveFallsBackToMostRecentlyUpdated(t *testing.T) {
	repo := newFakeInstanceRepo()
	now := time.Now().UTC()
	repo.add(domainInstance.Instance{ID: "old", TenantID: "t1", UpdatedAt: now.Add(-time.Hour)})
	repo.add(domainInstance.Instance{ID: "new", TenantID: "t1", UpdatedAt: now})

	svc := newInstanceService(repo, newFakeTenants("t1"), &fakeQueues{})

	inst, err := svc.SelectActive(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "new", inst.ID)
}

func TestSelectActiveNoInstancesIsNotFound(t *testing.T) {
	svc := newInstanceService(newFakeInstanceRepo(), newFakeTenants("t1"), &fakeQueues{})

	_, err := svc.SelectActive(context.Background(), "t1")
	assert.True(t, store.IsNotFound(err))
}

func TestSelectActiveTieBreaksOnID(t *testing.T) {
	repo := newFakeInstanceRepo()
	seen := time.Now().UTC().Truncate(time.Second)
	repo.add(domainInstance.Instance{ID: "B", TenantID: "t1", Connected: true, LastSeenAt: &seen})
	repo.add(domainInstance.Instance{ID: "A", TenantID: "t1", Connected: true, LastSeenAt: &seen})

	svc := newInstanceService(repo, newFakeTenants("t1"), &fakeQueues{})

	inst, err := svc.SelectActive(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "A", inst.ID)
}

func TestMarkConnectionIgnoresUnknownInstance(t *testing.T) {
	svc := newInstanceService(newFakeInstanceRepo(), newFakeTenants("t1"), &fakeQueues{})

	err := svc.MarkConnection(context.Background(), "ghost", true)
	assert.NoError(t, err)
}
