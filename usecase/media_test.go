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

	"github.com/atendezap/zapdesk/domains/inbound"
	"github.com/atendezap/zapdesk/domains/realtime"
	"github.com/atendezap/zapdesk/infrastructure/blob"
	"github.com/atendezap/zapdesk/pkg/metrics"
	"github.com/atendezap/zapdesk/usecase"
)

type fakeDownloader struct {
	sessionData []byte
	pathData    []byte
	urlData     []byte

	sessionCalls int
	pathCalls    int
	urlCalls     int
}

func (f *fakeDownloader) DownloadSession(context.Context, string, inbound.Message) ([]byte, error) {
	f.sessionCalls++
	if f.sessionData == nil {
		return nil, errors.New("no live session")
	}
	return f.sessionData, nil
}

func (f *fakeDownloader) DownloadByPath(context.Context, string, inbound.Message) ([]byte, error) {
	f.pathCalls++
	if f.pathData == nil {
		return nil, errors.New("direct path returned 404")
	}
	return f.pathData, nil
}

func (f *fakeDownloader) FetchURL(context.Context, string) ([]byte, string, error) {
	f.urlCalls++
	if f.urlData == nil {
		return nil, "", errors.New("url unreachable")
	}
	return f.urlData, "image/jpeg", nil
}

type fakeBlobStore struct {
	persistCalls int
	persistErr   error
	lastFileName string
}

func (f *fakeBlobStore) Persist(tenantID, fileName, mimeType string, data []byte) (blob.Stored, error) {
	f.persistCalls++
	f.lastFileName = fileName
	if f.persistErr != nil {
		return blob.Stored{}, f.persistErr
	}
	return blob.Stored{
		URL:       fmt.Sprintf("/media/%s/%s", tenantID, fileName),
		FileName:  fileName,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		ExpiresIn: 3600,
	}, nil
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	jobs   []inbound.MediaRetryJob
	delays []time.Duration
	err    error
}

func (f *fakeEnqueuer) EnqueueMediaRetry(_ context.Context, job inbound.MediaRetryJob, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.delays = append(f.delays, delay)
	return nil
}

func mediaMessage() inbound.Message {
	return inbound.Message{
		ID:         "m1",
		Type:       "image",
		Caption:    "foto do pedido",
		MediaKey:   []byte{0x01, 0x02},
		DirectPath: "/v/t62.7118-24/abc",
		Mimetype:   "image/jpeg",
		FileName:   "foto.jpg",
	}
}

func mediaInput() usecase.MediaIngestInput {
	return usecase.MediaIngestInput{
		TenantID:   "t1",
		InstanceID: "i1",
		TicketID:   "tk1",
		ChatKey:    "5511999990000@s.whatsapp.net",
	}
}

func newMediaService(dl *fakeDownloader, store *fakeBlobStore, enq *fakeEnqueuer, notifier *recordingNotifier) usecase.IMediaUsecase {
	return usecase.NewMediaService(dl, store, enq, notifier, metrics.New(16), 3, 10*time.Millisecond)
}

func TestIngestResolvesInlineFromSession(t *testing.T) {
	dl := &fakeDownloader{sessionData: []byte("jpeg-bytes")}
	store := &fakeBlobStore{}
	enq := &fakeEnqueuer{}
	svc := newMediaService(dl, store, enq, &recordingNotifier{})

	msg := mediaMessage()
	pending := svc.Ingest(context.Background(), mediaInput(), &msg)

	assert.False(t, pending)
	assert.Equal(t, 1, store.persistCalls)
	assert.Empty(t, enq.jobs)
	assert.NotEmpty(t, msg.MediaURL)

	media, ok := msg.Metadata["media"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, msg.MediaURL, media["url"])
	assert.Equal(t, "foto do pedido", media["caption"])
	_, stillPending := msg.Metadata["media_pending"]
	assert.False(t, stillPending)

	// First tier sufficed.
	assert.Equal(t, 0, dl.pathCalls)
}

func TestIngestFallsBackToPathTier(t *testing.T) {
	dl := &fakeDownloader{pathData: []byte("jpeg-bytes")}
	store := &fakeBlobStore{}
	svc := newMediaService(dl, store, &fakeEnqueuer{}, &recordingNotifier{})

	msg := mediaMessage()
	pending := svc.Ingest(context.Background(), mediaInput(), &msg)

	assert.False(t, pending)
	assert.Equal(t, 1, dl.sessionCalls)
	assert.Equal(t, 1, dl.pathCalls)
	assert.Equal(t, 1, store.persistCalls)
}

func TestIngestSkipsURLFetchWhenEncrypted(t *testing.T) {
	// A media key means the URL body is ciphertext; fetching it raw is
	// useless.
	dl := &fakeDownloader{urlData: []byte("ciphertext")}
	svc := newMediaService(dl, &fakeBlobStore{}, &fakeEnqueuer{}, &recordingNotifier{})

	msg := mediaMessage()
	msg.URL = "https://mmg.whatsapp.net/enc/abc"
	pending := svc.Ingest(context.Background(), mediaInput(), &msg)

	assert.True(t, pending)
	assert.Equal(t, 0, dl.urlCalls)
}

func TestIngestFetchesPlainURLWithoutKey(t *testing.T) {
	dl := &fakeDownloader{urlData: []byte("jpeg-bytes")}
	store := &fakeBlobStore{}
	svc := newMediaService(dl, store, &fakeEnqueuer{}, &recordingNotifier{})

	msg := mediaMessage()
	msg.MediaKey = nil
	msg.URL = "https://cdn.example.com/rehosted.jpg"
	pending := svc.Ingest(context.Background(), mediaInput(), &msg)

	assert.False(t, pending)
	assert.Equal(t, 1, dl.urlCalls)
	assert.Equal(t, 1, store.persistCalls)
}

func TestIngestDefersWhenAllTiersFail(t *testing.T) {
	dl := &fakeDownloader{}
	enq := &fakeEnqueuer{}
	svc := newMediaService(dl, &fakeBlobStore{}, enq, &recordingNotifier{})

	msg := mediaMessage()
	pending := svc.Ingest(context.Background(), mediaInput(), &msg)

	assert.True(t, pending)
	assert.Equal(t, true, msg.Metadata["media_pending"])

	// Exactly one deferred job carrying the original reference material.
	require.Len(t, enq.jobs, 1)
	job := enq.jobs[0]
	assert.Equal(t, "m1", job.MessageID)
	assert.Equal(t, "t1", job.TenantID)
	assert.Equal(t, "tk1", job.TicketID)
	assert.Equal(t, mediaMessage().MediaKey, job.MediaKey)
	assert.Equal(t, mediaMessage().DirectPath, job.DirectPath)
	assert.Equal(t, "foto.jpg", job.Metadata["fileName"])
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, 10*time.Millisecond, enq.delays[0])
}

func TestIngestDefersWhenPersistFails(t *testing.T) {
	dl := &fakeDownloader{sessionData: []byte("jpeg-bytes")}
	store := &fakeBlobStore{persistErr: errors.New("disk full")}
	enq := &fakeEnqueuer{}
	svc := newMediaService(dl, store, enq, &recordingNotifier{})

	msg := mediaMessage()
	pending := svc.Ingest(context.Background(), mediaInput(), &msg)

	assert.True(t, pending)
	assert.Len(t, enq.jobs, 1)
}

func TestExecuteRetrySuccessRefreshesTicket(t *testing.T) {
	dl := &fakeDownloader{pathData: []byte("jpeg-bytes")}
	store := &fakeBlobStore{}
	notifier := &recordingNotifier{}
	svc := newMediaService(dl, store, &fakeEnqueuer{}, notifier)

	err := svc.ExecuteRetry(context.Background(), inbound.MediaRetryJob{
		TenantID:   "t1",
		InstanceID: "i1",
		TicketID:   "tk1",
		MessageID:  "m1",
		MediaType:  "image",
		DirectPath: "/v/t62.7118-24/abc",
		Metadata:   map[string]string{"fileName": "foto.jpg", "mimeType": "image/jpeg"},
		Attempt:    2,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, store.persistCalls)
	assert.Equal(t, "foto.jpg", store.lastFileName)
	assert.Len(t, notifier.byEvent(realtime.EventTicketsUpdated), 2)
}

func TestExecuteRetryReschedulesWithGrowingBackoff(t *testing.T) {
	dl := &fakeDownloader{}
	enq := &fakeEnqueuer{}
	svc := newMediaService(dl, &fakeBlobStore{}, enq, &recordingNotifier{})

	err := svc.ExecuteRetry(context.Background(), inbound.MediaRetryJob{
		TenantID:  "t1",
		MessageID: "m1",
		MediaType: "image",
		Attempt:   1,
	})

	require.NoError(t, err)
	require.Len(t, enq.jobs, 1)
	assert.Equal(t, 2, enq.jobs[0].Attempt)
	assert.Equal(t, 20*time.Millisecond, enq.delays[0])
}

func TestExecuteRetryAbandonsAfterBudget(t *testing.T) {
	dl := &fakeDownloader{}
	enq := &fakeEnqueuer{}
	svc := newMediaService(dl, &fakeBlobStore{}, enq, &recordingNotifier{})

	err := svc.ExecuteRetry(context.Background(), inbound.MediaRetryJob{
		TenantID:  "t1",
		MessageID: "m1",
		MediaType: "image",
		Attempt:   3,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "abandoned after 3 attempts")
	assert.Empty(t, enq.jobs)
}
