package realtime

// Event names produced by the ingestion pipeline. Consumers subscribe to
// rooms; the name tells them which payload shape to expect.
const (
	EventQueueAutoProvisioned = "whatsapp.queue.autoProvisioned"
	EventQueueMissing         = "whatsapp.queue.missing"
	EventLeadsUpdated         = "leads.updated"
	EventLeadActivitiesNew    = "leadActivities.new"
	EventLeadAllocationsNew   = "leadAllocations.new"
	EventTicketsUpdated       = "tickets.updated"
)

// Notifier fans events out to room-addressed subscribers. Emission is
// fire-and-forget: a full client buffer or an empty room never surfaces as
// an error to the pipeline.
type Notifier interface {
	EmitToTenant(tenantID, event string, payload any)
	EmitToTicket(ticketID, event string, payload any)
	EmitToAgreement(agreementID, event string, payload any)
}

// NopNotifier drops everything. Wiring default for tests and for commands
// that run the pipeline without a websocket hub.
type NopNotifier struct{}

func (NopNotifier) EmitToTenant(string, string, any)    {}
func (NopNotifier) EmitToTicket(string, string, any)    {}
func (NopNotifier) EmitToAgreement(string, string, any) {}
