package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atendezap/zapdesk/domains/inbound"
	"github.com/atendezap/zapdesk/domains/realtime"
	"github.com/atendezap/zapdesk/infrastructure/blob"
	"github.com/atendezap/zapdesk/pkg/metrics"
)

// MediaDownloader is the two-tier download collaborator: session-native
// first, broker HTTP path second, plus a plain URL fetch for rehosted
// attachments that carry no encryption material.
type MediaDownloader interface {
	DownloadSession(ctx context.Context, instanceID string, msg inbound.Message) ([]byte, error)
	DownloadByPath(ctx context.Context, instanceID string, msg inbound.Message) ([]byte, error)
	FetchURL(ctx context.Context, url string) ([]byte, string, error)
}

// BlobPersister stores attachment bytes and returns the signed URL bundle.
type BlobPersister interface {
	Persist(tenantID, fileName, mimeType string, data []byte) (blob.Stored, error)
}

// MediaIngestInput carries the routing identifiers a late success needs.
type MediaIngestInput struct {
	TenantID   string
	InstanceID string
	TicketID   string
	ChatKey    string
}

type mediaService struct {
	downloader    MediaDownloader
	blob          BlobPersister
	enqueuer      inbound.MediaRetryEnqueuer
	notifier      realtime.Notifier
	metrics       metrics.Recorder
	retryAttempts int
	retryBackoff  time.Duration
}

// IMediaUsecase resolves attachments inline when possible and defers the
// rest. Ingest never fails message delivery: its contract is to mutate the
// message metadata one way (resolved url) or the other (media_pending).
type IMediaUsecase interface {
	Ingest(ctx context.Context, input MediaIngestInput, msg *inbound.Message) (pending bool)
	ExecuteRetry(ctx context.Context, job inbound.MediaRetryJob) error
}

func NewMediaService(
	downloader MediaDownloader,
	persister BlobPersister,
	enqueuer inbound.MediaRetryEnqueuer,
	notifier realtime.Notifier,
	recorder metrics.Recorder,
	retryAttempts int,
	retryBackoff time.Duration,
) IMediaUsecase {
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = 30 * time.Second
	}
	return &mediaService{
		downloader:    downloader,
		blob:          persister,
		enqueuer:      enqueuer,
		notifier:      notifier,
		metrics:       recorder,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
	}
}

// Ingest runs both download tiers and either attaches the stored URL to the
// message or marks it media_pending and enqueues exactly one deferred job.
func (s *mediaService) Ingest(ctx context.Context, input MediaIngestInput, msg *inbound.Message) bool {
	data := s.download(ctx, input.InstanceID, *msg)
	if len(data) > 0 {
		if err := s.attach(input.TenantID, msg, data); err == nil {
			s.metrics.Count("media.resolved_inline", 1)
			return false
		}
		// Persist failed; the bytes are gone but the reference is still
		// good, so fall through to the deferred path.
	}

	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["media_pending"] = true
	s.metrics.Count("media.pending", 1)

	job := inbound.MediaRetryJob{
		TenantID:   input.TenantID,
		InstanceID: input.InstanceID,
		TicketID:   input.TicketID,
		ChatKey:    input.ChatKey,
		MessageID:  msg.ID,
		MediaType:  msg.Type,
		MediaKey:   msg.MediaKey,
		DirectPath: msg.DirectPath,
		URL:        msg.URL,
		FileLength: msg.FileLength,
		FileSHA256: msg.FileSHA256,
		FileEncSHA: msg.FileEncSHA256,
		Caption:    msg.Caption,
		Metadata: map[string]string{
			"fileName": msg.FileName,
			"mimeType": msg.Mimetype,
		},
		Attempt: 1,
	}
	if err := s.enqueuer.EnqueueMediaRetry(ctx, job, s.retryBackoff); err != nil {
		logrus.WithError(err).Errorf("[MEDIA] Could not enqueue retry for message %s", msg.ID)
	}
	return true
}

// ExecuteRetry is the deferred executor: re-runs both tiers, persists on
// success and emits a tickets.updated refresher so open conversations pick
// up the late URL. Re-enqueues itself with backoff until the attempt budget
// runs out.
func (s *mediaService) ExecuteRetry(ctx context.Context, job inbound.MediaRetryJob) error {
	msg := job.AsMessage()

	data := s.download(ctx, job.InstanceID, msg)
	if len(data) > 0 {
		if err := s.attach(job.TenantID, &msg, data); err != nil {
			return err
		}
		logrus.Infof("[MEDIA] Deferred download succeeded for message %s on attempt %d", job.MessageID, job.Attempt)
		s.metrics.Count("media.resolved_deferred", 1)
		if job.TicketID != "" {
			payload := map[string]any{"ticketId": job.TicketID}
			s.notifier.EmitToTenant(job.TenantID, realtime.EventTicketsUpdated, payload)
			s.notifier.EmitToTicket(job.TicketID, realtime.EventTicketsUpdated, payload)
		}
		return nil
	}

	if job.Attempt >= s.retryAttempts {
		s.metrics.Count("media.abandoned", 1)
		return fmt.Errorf("media download for message %s abandoned after %d attempts", job.MessageID, job.Attempt)
	}

	job.Attempt++
	delay := s.retryBackoff * time.Duration(job.Attempt)
	logrus.Debugf("[MEDIA] Retry %d/%d for message %s scheduled in %s", job.Attempt, s.retryAttempts, job.MessageID, delay)
	return s.enqueuer.EnqueueMediaRetry(ctx, job, delay)
}

// download tries the session tier, then the HTTP path tier, then a plain
// URL fetch for references without encryption material. Empty means every
// tier came back empty or failed.
func (s *mediaService) download(ctx context.Context, instanceID string, msg inbound.Message) []byte {
	data, err := s.downloader.DownloadSession(ctx, instanceID, msg)
	if err == nil && len(data) > 0 {
		return data
	}
	if err != nil {
		logrus.Debugf("[MEDIA] Session download failed for message %s: %v", msg.ID, err)
	}

	data, err = s.downloader.DownloadByPath(ctx, instanceID, msg)
	if err == nil && len(data) > 0 {
		return data
	}
	if err != nil {
		logrus.Debugf("[MEDIA] Path download failed for message %s: %v", msg.ID, err)
	}

	if len(msg.MediaKey) == 0 && msg.URL != "" {
		data, _, err = s.downloader.FetchURL(ctx, msg.URL)
		if err == nil && len(data) > 0 {
			return data
		}
		if err != nil {
			logrus.Debugf("[MEDIA] URL fetch failed for message %s: %v", msg.ID, err)
		}
	}
	return nil
}

// attach persists the bytes and merges the stored-media bundle into the
// message metadata.
func (s *mediaService) attach(tenantID string, msg *inbound.Message, data []byte) error {
	stored, err := s.blob.Persist(tenantID, msg.FileName, msg.Mimetype, data)
	if err != nil {
		logrus.WithError(err).Errorf("[MEDIA] Blob persist failed for message %s", msg.ID)
		return err
	}

	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	media := map[string]any{
		"url":      stored.URL,
		"mimetype": stored.MimeType,
		"size":     stored.Size,
	}
	if msg.Caption != "" {
		media["caption"] = msg.Caption
	}
	if stored.ExpiresIn > 0 {
		media["urlExpiresInSeconds"] = stored.ExpiresIn
	}
	if stored.ThumbnailURL != "" {
		media["thumbnailUrl"] = stored.ThumbnailURL
	}
	msg.Metadata["media"] = media
	delete(msg.Metadata, "media_pending")
	msg.MediaURL = stored.URL
	return nil
}
