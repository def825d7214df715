package broker

import (
	"context"
	"fmt"

	"github.com/atendezap/zapdesk/domains/inbound"
	pkgUtils "github.com/atendezap/zapdesk/pkg/utils"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// Downloader fetches attachment bytes for inbound media references. Tier
// selection (session, then direct path, then plain URL) is the media
// usecase's job; each tier is one method here.
type Downloader struct {
	manager *Manager
	maxSize int64
}

func NewDownloader(manager *Manager, maxSize int64) *Downloader {
	return &Downloader{manager: manager, maxSize: maxSize}
}

// DownloadSession decrypts through the session client using the full media
// reference rebuilt as a protobuf message.
func (d *Downloader) DownloadSession(ctx context.Context, instanceID string, msg inbound.Message) ([]byte, error) {
	client := d.clientFor(ctx, instanceID)
	if client == nil {
		return nil, fmt.Errorf("no session client for instance %s", instanceID)
	}
	if err := d.checkSize(msg.FileLength); err != nil {
		return nil, err
	}
	downloadable := downloadableFor(msg)
	if downloadable == nil {
		return nil, fmt.Errorf("media type %q is not downloadable", msg.Type)
	}
	return client.Download(ctx, downloadable)
}

// DownloadByPath is the degraded tier: it needs only the direct path plus
// the crypto material, not a full message reference.
func (d *Downloader) DownloadByPath(ctx context.Context, instanceID string, msg inbound.Message) ([]byte, error) {
	client := d.clientFor(ctx, instanceID)
	if client == nil {
		return nil, fmt.Errorf("no session client for instance %s", instanceID)
	}
	if msg.DirectPath == "" || len(msg.MediaKey) == 0 {
		return nil, fmt.Errorf("media reference lacks direct path or key")
	}
	if err := d.checkSize(msg.FileLength); err != nil {
		return nil, err
	}
	return client.DownloadMediaWithPath(
		ctx,
		msg.DirectPath,
		msg.FileEncSHA256,
		msg.FileSHA256,
		msg.MediaKey,
		int(msg.FileLength),
		mediaTypeFor(msg.Type),
		"",
	)
}

// FetchURL retrieves broker-rehosted media over plain HTTP. Only valid when
// no media key is involved; encrypted blob URLs must go through the session
// tiers.
func (d *Downloader) FetchURL(_ context.Context, url string) ([]byte, string, error) {
	return pkgUtils.DownloadFileFromURL(url, d.maxSize)
}

func (d *Downloader) clientFor(ctx context.Context, instanceID string) *whatsmeow.Client {
	if c := d.manager.GetClient(instanceID); c != nil {
		return c
	}
	return d.manager.ClientForContext(ctx)
}

func (d *Downloader) checkSize(fileLength uint64) error {
	if d.maxSize > 0 && fileLength > uint64(d.maxSize) {
		return fmt.Errorf("media size %d exceeds limit %d", fileLength, d.maxSize)
	}
	return nil
}

// downloadableFor rebuilds the typed protobuf message whatsmeow needs to
// locate and decrypt the blob.
func downloadableFor(msg inbound.Message) whatsmeow.DownloadableMessage {
	switch msg.Type {
	case "image":
		return &waE2E.ImageMessage{
			URL:           proto.String(msg.URL),
			DirectPath:    proto.String(msg.DirectPath),
			MediaKey:      msg.MediaKey,
			FileSHA256:    msg.FileSHA256,
			FileEncSHA256: msg.FileEncSHA256,
			FileLength:    proto.Uint64(msg.FileLength),
			Mimetype:      proto.String(msg.Mimetype),
		}
	case "video":
		return &waE2E.VideoMessage{
			URL:           proto.String(msg.URL),
			DirectPath:    proto.String(msg.DirectPath),
			MediaKey:      msg.MediaKey,
			FileSHA256:    msg.FileSHA256,
			FileEncSHA256: msg.FileEncSHA256,
			FileLength:    proto.Uint64(msg.FileLength),
			Mimetype:      proto.String(msg.Mimetype),
		}
	case "audio":
		return &waE2E.AudioMessage{
			URL:           proto.String(msg.URL),
			DirectPath:    proto.String(msg.DirectPath),
			MediaKey:      msg.MediaKey,
			FileSHA256:    msg.FileSHA256,
			FileEncSHA256: msg.FileEncSHA256,
			FileLength:    proto.Uint64(msg.FileLength),
			Mimetype:      proto.String(msg.Mimetype),
		}
	case "document":
		return &waE2E.DocumentMessage{
			URL:           proto.String(msg.URL),
			DirectPath:    proto.String(msg.DirectPath),
			MediaKey:      msg.MediaKey,
			FileSHA256:    msg.FileSHA256,
			FileEncSHA256: msg.FileEncSHA256,
			FileLength:    proto.Uint64(msg.FileLength),
			Mimetype:      proto.String(msg.Mimetype),
			FileName:      proto.String(msg.FileName),
		}
	case "sticker":
		return &waE2E.StickerMessage{
			URL:           proto.String(msg.URL),
			DirectPath:    proto.String(msg.DirectPath),
			MediaKey:      msg.MediaKey,
			FileSHA256:    msg.FileSHA256,
			FileEncSHA256: msg.FileEncSHA256,
			FileLength:    proto.Uint64(msg.FileLength),
			Mimetype:      proto.String(msg.Mimetype),
		}
	}
	return nil
}

func mediaTypeFor(kind string) whatsmeow.MediaType {
	switch kind {
	case "image", "sticker":
		return whatsmeow.MediaImage
	case "video":
		return whatsmeow.MediaVideo
	case "audio":
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}
