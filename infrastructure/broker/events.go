package broker

import (
	"context"

	"github.com/atendezap/zapdesk/domains/inbound"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/types/events"
)

// EventSink is where normalized events go; the inbound usecase implements it
// on top of the sharded worker pool.
type EventSink interface {
	Dispatch(evt inbound.Event) bool
}

// ConnectionMarker persists session liveness transitions.
type ConnectionMarker interface {
	MarkConnection(ctx context.Context, id string, connected bool) error
}

// Bridge adapts raw whatsmeow events into pipeline calls. One Bridge serves
// every session; the instance id rides in on each event.
type Bridge struct {
	manager    *Manager
	normalizer *Normalizer
	sink       EventSink
	marker     ConnectionMarker
}

func NewBridge(manager *Manager, sink EventSink, marker ConnectionMarker) *Bridge {
	b := &Bridge{
		manager:    manager,
		normalizer: NewNormalizer(manager),
		sink:       sink,
		marker:     marker,
	}
	manager.SetEventHandler(b.Handle)
	return b
}

func (b *Bridge) Handle(ctx context.Context, instanceID string, rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		normalized, ok := b.normalizer.Normalize(ctx, instanceID, evt)
		if !ok {
			return
		}
		if !b.sink.Dispatch(normalized) {
			logrus.Warnf("[BROKER] Worker queue saturated; dropped message %s from instance %s", normalized.ID, instanceID)
		}
	case *events.Connected:
		b.markConnection(ctx, instanceID, true)
	case *events.Disconnected:
		b.markConnection(ctx, instanceID, false)
	case *events.LoggedOut:
		logrus.Infof("[BROKER] Instance %s logged out remotely; cleaning session", instanceID)
		b.manager.CleanupSession(instanceID)
		b.markConnection(context.Background(), instanceID, false)
	case *events.PairSuccess:
		logrus.Infof("[BROKER] Instance %s paired with %s", instanceID, evt.ID.String())
	case *events.StreamReplaced:
		logrus.Warnf("[BROKER] Stream replaced for instance %s; disconnecting session", instanceID)
		b.manager.CleanupSession(instanceID)
		b.markConnection(context.Background(), instanceID, false)
	}
}

func (b *Bridge) markConnection(ctx context.Context, instanceID string, connected bool) {
	if b.marker == nil {
		return
	}
	if err := b.marker.MarkConnection(ctx, instanceID, connected); err != nil {
		logrus.Warnf("[BROKER] Failed to mark instance %s connected=%v: %v", instanceID, connected, err)
	}
}
