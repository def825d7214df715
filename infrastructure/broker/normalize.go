package broker

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/atendezap/zapdesk/domains/inbound"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

var nonDigits = regexp.MustCompile("[^0-9]+")

// Normalizer turns raw whatsmeow message events into the pipeline's inbound
// event shape. Session-mode events and webhook-intake events converge on the
// same struct from here on.
type Normalizer struct {
	manager *Manager
}

func NewNormalizer(manager *Manager) *Normalizer {
	return &Normalizer{manager: manager}
}

// Normalize returns (event, true) for conversation messages the pipeline
// ingests. Groups, broadcasts, status updates and own messages are skipped.
func (n *Normalizer) Normalize(ctx context.Context, instanceID string, evt *events.Message) (inbound.Event, bool) {
	if evt == nil {
		return inbound.Event{}, false
	}
	if evt.Info.IsFromMe || evt.Info.IsIncomingBroadcast() {
		return inbound.Event{}, false
	}
	chat := evt.Info.Chat
	if chat.Server == types.GroupServer || chat.Server == types.BroadcastServer || strings.HasPrefix(chat.String(), "status@") {
		return inbound.Event{}, false
	}

	sender := evt.Info.Sender
	if sender.Server == "lid" {
		sender = n.resolvePN(ctx, sender)
	}
	phone := phoneDigits(sender.User)
	if phone == "" {
		logrus.Debugf("[BROKER] Skipping message %s: no phone digits in sender %s", evt.Info.ID, evt.Info.Sender)
		return inbound.Event{}, false
	}

	msg := buildMessage(evt)
	if msg.Type == "" {
		return inbound.Event{}, false
	}

	brokerID := ""
	if s := n.manager.GetSession(instanceID); s != nil {
		brokerID = s.BrokerID()
	}

	out := inbound.Event{
		ID:         evt.Info.ID,
		InstanceID: instanceID,
		Direction:  inbound.DirectionIncoming,
		Contact: inbound.EventContact{
			Phone: phone,
			Name:  strings.TrimSpace(evt.Info.PushName),
		},
		Message:   msg,
		Timestamp: evt.Info.Timestamp,
		Metadata: map[string]any{
			"requestId": uuid.New().String(),
			"broker":    "whatsmeow",
		},
		ChatID:     chat.String(),
		ExternalID: evt.Info.ID,
		SessionID:  instanceID,
	}
	if brokerID != "" {
		out.Metadata["brokerId"] = brokerID
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	return out, true
}

func (n *Normalizer) resolvePN(ctx context.Context, lid types.JID) types.JID {
	client := n.manager.ClientForContext(ctx)
	if client == nil || client.Store == nil || client.Store.LIDs == nil {
		logrus.Warnf("[BROKER] LID store not available; keeping lid %s", lid.String())
		return lid
	}
	pn, err := client.Store.LIDs.GetPNForLID(ctx, lid)
	if err != nil {
		logrus.Errorf("[BROKER] PN lookup failed for lid %s: %v", lid.String(), err)
		return lid
	}
	if pn.IsEmpty() {
		return lid
	}
	return pn
}

// phoneDigits applies the wire rule: split on '@', split on ':', strip
// everything that is not a digit.
func phoneDigits(raw string) string {
	candidate := strings.TrimSpace(raw)
	if idx := strings.Index(candidate, "@"); idx >= 0 {
		candidate = candidate[:idx]
	}
	if idx := strings.Index(candidate, ":"); idx >= 0 {
		candidate = candidate[:idx]
	}
	return nonDigits.ReplaceAllString(candidate, "")
}

func buildMessage(evt *events.Message) inbound.Message {
	proto := unwrapMessage(evt.Message)
	if proto == nil {
		return inbound.Message{}
	}

	out := inbound.Message{
		ID:       evt.Info.ID,
		Metadata: map[string]any{},
	}

	if text := extractText(proto); text != "" {
		out.Type = "text"
		out.Text = text
	}

	if img := proto.GetImageMessage(); img != nil {
		out.Type = "image"
		out.Caption = img.GetCaption()
		fillMediaRef(&out, img.GetURL(), img.GetDirectPath(), img.GetMediaKey(), img.GetFileSHA256(), img.GetFileEncSHA256(), img.GetFileLength(), img.GetMimetype(), "")
	} else if vid := proto.GetVideoMessage(); vid != nil {
		out.Type = "video"
		out.Caption = vid.GetCaption()
		fillMediaRef(&out, vid.GetURL(), vid.GetDirectPath(), vid.GetMediaKey(), vid.GetFileSHA256(), vid.GetFileEncSHA256(), vid.GetFileLength(), vid.GetMimetype(), "")
	} else if aud := proto.GetAudioMessage(); aud != nil {
		out.Type = "audio"
		fillMediaRef(&out, aud.GetURL(), aud.GetDirectPath(), aud.GetMediaKey(), aud.GetFileSHA256(), aud.GetFileEncSHA256(), aud.GetFileLength(), aud.GetMimetype(), "")
	} else if doc := proto.GetDocumentMessage(); doc != nil {
		out.Type = "document"
		out.Caption = doc.GetCaption()
		fillMediaRef(&out, doc.GetURL(), doc.GetDirectPath(), doc.GetMediaKey(), doc.GetFileSHA256(), doc.GetFileEncSHA256(), doc.GetFileLength(), doc.GetMimetype(), doc.GetFileName())
	} else if stk := proto.GetStickerMessage(); stk != nil {
		out.Type = "sticker"
		fillMediaRef(&out, stk.GetURL(), stk.GetDirectPath(), stk.GetMediaKey(), stk.GetFileSHA256(), stk.GetFileEncSHA256(), stk.GetFileLength(), stk.GetMimetype(), "")
	}

	return out
}

func fillMediaRef(out *inbound.Message, url, directPath string, mediaKey, sha, encSha []byte, fileLength uint64, mimetype, fileName string) {
	out.URL = url
	out.DirectPath = directPath
	out.MediaKey = mediaKey
	out.FileSHA256 = sha
	out.FileEncSHA256 = encSha
	out.FileLength = fileLength
	out.Mimetype = mimetype
	out.FileName = fileName
	if fileName != "" {
		out.Metadata["fileName"] = fileName
	}
	if mimetype != "" {
		out.Metadata["mimeType"] = mimetype
	}
}

// unwrapMessage peels view-once and ephemeral wrappers, at most three
// levels, the depth these wrappers nest in practice.
func unwrapMessage(m *waE2E.Message) *waE2E.Message {
	if m == nil {
		return nil
	}
	unwrap := func(m *waE2E.Message) *waE2E.Message {
		if v := m.GetViewOnceMessage(); v != nil {
			return v.GetMessage()
		}
		if v := m.GetEphemeralMessage(); v != nil {
			return v.GetMessage()
		}
		if v := m.GetViewOnceMessageV2(); v != nil {
			return v.GetMessage()
		}
		if v := m.GetViewOnceMessageV2Extension(); v != nil {
			return v.GetMessage()
		}
		return nil
	}
	for i := 0; i < 3; i++ {
		if next := unwrap(m); next != nil {
			m = next
		} else {
			break
		}
	}
	return m
}

func extractText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if text := m.GetConversation(); text != "" {
		return text
	}
	if ext := m.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText()
	}
	// Edits carry the replacement text inside a protocol message.
	if pm := m.GetProtocolMessage(); pm != nil && pm.GetEditedMessage() != nil {
		return extractText(pm.GetEditedMessage())
	}
	return ""
}
