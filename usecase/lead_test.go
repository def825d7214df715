package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainLead "github.com/atendezap/zapdesk/domains/lead"
	"github.com/atendezap/zapdesk/domains/realtime"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/dedupe"
	"github.com/atendezap/zapdesk/pkg/metrics"
	"github.com/atendezap/zapdesk/usecase"
)

type fakeLeadRepo struct {
	mu         sync.Mutex
	leads      map[string]domainLead.Lead // keyed tenantID|contactID
	activities map[string]domainLead.Activity

	advanceCalls        int
	createActivityCalls int
	findByMessageCalls  int

	// createActivityErrs is drained one error per CreateActivity call; nil
	// entries mean success.
	createActivityErrs []error

	nextID int
}

func newFakeLeadRepo() *fakeLeadRepo {
	return &fakeLeadRepo{
		leads:      make(map[string]domainLead.Lead),
		activities: make(map[string]domainLead.Activity),
	}
}

func (f *fakeLeadRepo) GetByTenantAndContact(_ context.Context, tenantID, contactID string) (domainLead.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leads[tenantID+"|"+contactID]; ok {
		return l, nil
	}
	return domainLead.Lead{}, store.ErrNotFound
}

func (f *fakeLeadRepo) Create(_ context.Context, l domainLead.Lead) (domainLead.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := l.TenantID + "|" + l.ContactID
	if _, ok := f.leads[key]; ok {
		return domainLead.Lead{}, &store.ConstraintError{Kind: store.ConstraintUnique}
	}
	f.nextID++
	l.ID = fmt.Sprintf("lead-%d", f.nextID)
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	f.leads[key] = l
	return l, nil
}

func (f *fakeLeadRepo) AdvanceLastContact(_ context.Context, leadID string, at time.Time) (domainLead.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceCalls++
	for key, l := range f.leads {
		if l.ID == leadID {
			if at.After(l.LastContactAt) {
				l.LastContactAt = at
			}
			l.UpdatedAt = time.Now().UTC()
			f.leads[key] = l
			return l, nil
		}
	}
	return domainLead.Lead{}, store.ErrNotFound
}

func (f *fakeLeadRepo) FindActivityByMessageID(_ context.Context, tenantID, messageID string) (domainLead.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findByMessageCalls++
	if a, ok := f.activities[tenantID+"|"+messageID]; ok {
		return a, nil
	}
	return domainLead.Activity{}, store.ErrNotFound
}

func (f *fakeLeadRepo) CreateActivity(_ context.Context, a domainLead.Activity) (domainLead.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createActivityCalls++
	if len(f.createActivityErrs) > 0 {
		err := f.createActivityErrs[0]
		f.createActivityErrs = f.createActivityErrs[1:]
		if err != nil {
			return domainLead.Activity{}, err
		}
	}
	messageID, _ := a.Metadata["messageId"].(string)
	key := a.TenantID + "|" + messageID
	if messageID != "" {
		if _, ok := f.activities[key]; ok {
			return domainLead.Activity{}, &store.ConstraintError{Kind: store.ConstraintUnique}
		}
	} else {
		key = fmt.Sprintf("%s|anon-%d", a.TenantID, f.nextID)
	}
	f.nextID++
	a.ID = fmt.Sprintf("act-%d", f.nextID)
	a.CreatedAt = time.Now().UTC()
	f.activities[key] = a
	return a, nil
}

func newLeadService(repo *fakeLeadRepo, notifier *recordingNotifier, registryTTL time.Duration) domainLead.ILeadUsecase {
	return usecase.NewLeadService(repo, dedupe.NewMemory(), registryTTL, notifier, metrics.New(16), 160)
}

func leadInput(messageID string) domainLead.UpsertInput {
	return domainLead.UpsertInput{
		TenantID:          "t1",
		ContactID:         "c1",
		TicketID:          "tk1",
		InstanceID:        "i1",
		ProviderMessageID: "prov-" + messageID,
		MessageID:         messageID,
		MessageText:       "olá, tenho interesse",
		MessageCreatedAt:  time.Now().UTC(),
	}
}

func TestUpsertFromInboundCreatesLeadAndActivity(t *testing.T) {
	repo := newFakeLeadRepo()
	notifier := &recordingNotifier{}
	svc := newLeadService(repo, notifier, time.Minute)

	result, err := svc.UpsertFromInbound(context.Background(), leadInput("m1"))
	require.NoError(t, err)

	assert.True(t, result.LeadCreated)
	assert.False(t, result.Deduplicated)
	require.NotNil(t, result.Activity)
	assert.Equal(t, domainLead.ActivityWhatsAppReplied, result.Activity.Type)
	assert.Equal(t, "m1", result.Activity.Metadata["messageId"])

	assert.Len(t, notifier.byEvent(realtime.EventLeadsUpdated), 2)
	assert.Len(t, notifier.byEvent(realtime.EventLeadActivitiesNew), 2)
}

func TestUpsertFromInboundRedeliveryDedupesActivity(t *testing.T) {
	repo := newFakeLeadRepo()
	notifier := &recordingNotifier{}
	svc := newLeadService(repo, notifier, time.Minute)
	ctx := context.Background()

	first, err := svc.UpsertFromInbound(ctx, leadInput("m1"))
	require.NoError(t, err)
	require.False(t, first.Deduplicated)

	second, err := svc.UpsertFromInbound(ctx, leadInput("m1"))
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Nil(t, second.Activity)
	assert.False(t, second.LeadCreated)
	assert.Equal(t, first.Lead.ID, second.Lead.ID)

	// Exactly one activity insert, and the redelivery still advanced the
	// lead's last-contact timestamp.
	assert.Equal(t, 1, repo.createActivityCalls)
	assert.Equal(t, 1, repo.advanceCalls)

	// No second emission pair for the duplicate.
	assert.Len(t, notifier.byEvent(realtime.EventLeadActivitiesNew), 2)
}

func TestUpsertFromInboundRegistryAbsorbsHotRedelivery(t *testing.T) {
	repo := newFakeLeadRepo()
	svc := newLeadService(repo, &recordingNotifier{}, time.Minute)
	ctx := context.Background()

	_, err := svc.UpsertFromInbound(ctx, leadInput("m1"))
	require.NoError(t, err)
	_, err = svc.UpsertFromInbound(ctx, leadInput("m1"))
	require.NoError(t, err)

	// Only the first delivery probes the store; the registry short-circuits
	// the redelivery before the durable message-id lookup.
	assert.Equal(t, 1, repo.findByMessageCalls)
}

func TestUpsertFromInboundProbesStoreAfterRegistryExpiry(t *testing.T) {
	repo := newFakeLeadRepo()
	svc := newLeadService(repo, &recordingNotifier{}, 15*time.Millisecond)
	ctx := context.Background()

	_, err := svc.UpsertFromInbound(ctx, leadInput("m1"))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	result, err := svc.UpsertFromInbound(ctx, leadInput("m1"))
	require.NoError(t, err)

	// The durable lookup catches the duplicate after the hot window closed.
	assert.True(t, result.Deduplicated)
	assert.Equal(t, 2, repo.findByMessageCalls)
	assert.Equal(t, 1, repo.createActivityCalls)
}

func TestUpsertFromInboundConcurrentInsertRaceDedupes(t *testing.T) {
	repo := newFakeLeadRepo()
	repo.createActivityErrs = []error{&store.ConstraintError{Kind: store.ConstraintUnique}}
	notifier := &recordingNotifier{}
	svc := newLeadService(repo, notifier, time.Minute)

	result, err := svc.UpsertFromInbound(context.Background(), leadInput("m1"))
	require.NoError(t, err)

	assert.True(t, result.Deduplicated)
	assert.Nil(t, result.Activity)
	assert.Empty(t, notifier.byEvent(realtime.EventLeadActivitiesNew))
}

func TestUpsertFromInboundReusesLeadLostInCreationRace(t *testing.T) {
	repo := newFakeLeadRepo()
	// Pre-existing lead makes Create report the unique violation.
	seeded, err := repo.Create(context.Background(), domainLead.Lead{
		TenantID: "t1", ContactID: "c1",
		Status: domainLead.StatusNew, Source: domainLead.SourceWhatsApp,
	})
	require.NoError(t, err)

	svc := newLeadService(repo, &recordingNotifier{}, time.Minute)

	result, err := svc.UpsertFromInbound(context.Background(), leadInput("m1"))
	require.NoError(t, err)

	assert.False(t, result.LeadCreated)
	assert.Equal(t, seeded.ID, result.Lead.ID)
	require.NotNil(t, result.Activity)
}

func TestUpsertFromInboundBoundsPreview(t *testing.T) {
	repo := newFakeLeadRepo()
	svc := newLeadService(repo, &recordingNotifier{}, time.Minute)

	input := leadInput("m1")
	input.MessageText = strings.Repeat("ã", 500)

	result, err := svc.UpsertFromInbound(context.Background(), input)
	require.NoError(t, err)

	preview, ok := result.Activity.Metadata["preview"].(string)
	require.True(t, ok)
	assert.Equal(t, 160, len([]rune(preview)))
}

func TestUpsertFromInboundEmptyMessageIDNeverDedupes(t *testing.T) {
	repo := newFakeLeadRepo()
	svc := newLeadService(repo, &recordingNotifier{}, time.Minute)
	ctx := context.Background()

	first := leadInput("")
	first.ProviderMessageID = ""
	_, err := svc.UpsertFromInbound(ctx, first)
	require.NoError(t, err)

	second := leadInput("")
	second.ProviderMessageID = ""
	result, err := svc.UpsertFromInbound(ctx, second)
	require.NoError(t, err)

	// Without a message id there is no dedup key; each delivery records.
	assert.False(t, result.Deduplicated)
	assert.Equal(t, 2, repo.createActivityCalls)
}

func TestUpsertFromInboundLastContactNeverRegresses(t *testing.T) {
	repo := newFakeLeadRepo()
	svc := newLeadService(repo, &recordingNotifier{}, time.Minute)
	ctx := context.Background()

	now := time.Now().UTC()
	newer := leadInput("m1")
	newer.MessageCreatedAt = now
	first, err := svc.UpsertFromInbound(ctx, newer)
	require.NoError(t, err)

	older := leadInput("m2")
	older.MessageCreatedAt = now.Add(-time.Hour)
	second, err := svc.UpsertFromInbound(ctx, older)
	require.NoError(t, err)

	assert.Equal(t, first.Lead.LastContactAt, second.Lead.LastContactAt)
}
