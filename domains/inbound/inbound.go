package inbound

import (
	"context"
	"strings"
	"time"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Event is the broker/webhook payload, shaped by the broker and therefore
// only partially trusted. Field names follow the broker wire format.
type Event struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instanceId,omitempty"`
	TenantID   string         `json:"tenantId,omitempty"`
	Direction  string         `json:"direction"`
	Contact    EventContact   `json:"contact"`
	Message    Message        `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ChatID     string         `json:"chatId,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
}

type EventContact struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// Message carries the content plus the attachment reference when Type is a
// media kind. Metadata is mutated by the pipeline (media url / media_pending)
// before delivery.
type Message struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Caption  string         `json:"caption,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	MediaURL string         `json:"mediaUrl,omitempty"`

	MediaKey      []byte `json:"mediaKey,omitempty"`
	DirectPath    string `json:"directPath,omitempty"`
	URL           string `json:"url,omitempty"`
	Mimetype      string `json:"mimetype,omitempty"`
	FileLength    uint64 `json:"fileLength,omitempty"`
	FileSHA256    []byte `json:"fileSha256,omitempty"`
	FileEncSHA256 []byte `json:"fileEncSha256,omitempty"`
	FileName      string `json:"fileName,omitempty"`
}

// HasMedia reports whether the message references an attachment to ingest.
func (m Message) HasMedia() bool {
	switch m.Type {
	case "image", "video", "audio", "document", "sticker":
		return len(m.MediaKey) > 0 || m.DirectPath != "" || m.URL != ""
	}
	return false
}

// Content returns the human-readable body used for previews and ticket
// subjects: text for text messages, caption (or a type placeholder) for
// media.
func (m Message) Content() string {
	if text := strings.TrimSpace(m.Text); text != "" {
		return text
	}
	if caption := strings.TrimSpace(m.Caption); caption != "" {
		return caption
	}
	if m.Type != "" && m.Type != "text" {
		return "[" + m.Type + "]"
	}
	return ""
}

// RequestID digs the correlation id out of the event metadata.
func (e Event) RequestID() string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["requestId"].(string); ok {
		return v
	}
	return ""
}

// BrokerID returns the explicit broker session id when present.
func (e Event) BrokerID() string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["brokerId"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ChatKey is the sharding key for the worker pool: conversation-scoped so
// per-chat ordering survives concurrent delivery.
func (e Event) ChatKey() string {
	if e.ChatID != "" {
		return e.ChatID
	}
	return e.Contact.Phone
}

// Result is what the ingestion entry point returns. Persisted false with a
// Reason is a data-quality drop, never an error: the broker must not retry
// those.
type Result struct {
	Persisted        bool   `json:"persisted"`
	Reason           string `json:"reason,omitempty"`
	TenantID         string `json:"tenant_id,omitempty"`
	InstanceID       string `json:"instance_id,omitempty"`
	ContactID        string `json:"contact_id,omitempty"`
	TicketID         string `json:"ticket_id,omitempty"`
	LeadID           string `json:"lead_id,omitempty"`
	QueueID          string `json:"queue_id,omitempty"`
	QueueProvisioned bool   `json:"queue_provisioned,omitempty"`
	MediaPending     bool   `json:"media_pending,omitempty"`
	ActivityDeduped  bool   `json:"activity_deduped,omitempty"`
}

type IInboundUsecase interface {
	// ProcessMessage runs the full ingestion pipeline for one event. The
	// error return is reserved for infrastructure failures; data-quality
	// problems come back as Result{Persisted: false}.
	ProcessMessage(ctx context.Context, evt Event) (Result, error)
	// Dispatch enqueues the event on the sharded worker pool. False means
	// the queue was saturated and the event was dropped.
	Dispatch(evt Event) bool
}

// MediaRetryJob is the deferred download request queued when both
// download tiers come back empty. It must survive serialization so the
// AMQP transport can carry it across processes.
type MediaRetryJob struct {
	TenantID   string `json:"tenantId"`
	InstanceID string `json:"instanceId,omitempty"`
	TicketID   string `json:"ticketId,omitempty"`
	ChatKey    string `json:"chatKey,omitempty"`
	MessageID  string `json:"messageId"`

	MediaType  string            `json:"mediaType"`
	MediaKey   []byte            `json:"mediaKey,omitempty"`
	DirectPath string            `json:"directPath,omitempty"`
	URL        string            `json:"url,omitempty"`
	FileLength uint64            `json:"fileLength,omitempty"`
	FileSHA256 []byte            `json:"fileSha256,omitempty"`
	FileEncSHA []byte            `json:"fileEncSha256,omitempty"`
	Caption    string            `json:"caption,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"` // fileName, mimeType

	Attempt int `json:"attempt"`
}

// AsMessage rebuilds the media reference the download tiers expect.
func (j MediaRetryJob) AsMessage() Message {
	return Message{
		ID:            j.MessageID,
		Type:          j.MediaType,
		Caption:       j.Caption,
		MediaKey:      j.MediaKey,
		DirectPath:    j.DirectPath,
		URL:           j.URL,
		FileLength:    j.FileLength,
		FileSHA256:    j.FileSHA256,
		FileEncSHA256: j.FileEncSHA,
		Mimetype:      j.Metadata["mimeType"],
		FileName:      j.Metadata["fileName"],
	}
}

// MediaRetryEnqueuer schedules a deferred media download. The in-process
// implementation rides the sharded worker pool; the AMQP one publishes to
// a topic exchange so another process can drain it.
type MediaRetryEnqueuer interface {
	EnqueueMediaRetry(ctx context.Context, job MediaRetryJob, delay time.Duration) error
}
