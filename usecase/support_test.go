package usecase_test

import (
	"context"
	"sync"

	domainTenant "github.com/atendezap/zapdesk/domains/tenant"
)

// emission is one captured notifier call.
type emission struct {
	Room  string // "tenant", "ticket" or "agreement"
	ID    string
	Event string
}

type recordingNotifier struct {
	mu        sync.Mutex
	emissions []emission
}

func (n *recordingNotifier) record(room, id, event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emissions = append(n.emissions, emission{Room: room, ID: id, Event: event})
}

func (n *recordingNotifier) EmitToTenant(tenantID, event string, _ any) {
	n.record("tenant", tenantID, event)
}

func (n *recordingNotifier) EmitToTicket(ticketID, event string, _ any) {
	n.record("ticket", ticketID, event)
}

func (n *recordingNotifier) EmitToAgreement(agreementID, event string, _ any) {
	n.record("agreement", agreementID, event)
}

func (n *recordingNotifier) byEvent(event string) []emission {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []emission
	for _, e := range n.emissions {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeTenants answers Match/Ensure from a fixed tenant set.
type fakeTenants struct {
	tenants map[string]domainTenant.Tenant
	ensured []string
}

func newFakeTenants(ids ...string) *fakeTenants {
	f := &fakeTenants{tenants: make(map[string]domainTenant.Tenant)}
	for _, id := range ids {
		f.tenants[id] = domainTenant.Tenant{ID: id, Slug: "slug-" + id, Name: "Tenant " + id}
	}
	return f
}

func (f *fakeTenants) Ensure(_ context.Context, id string) (domainTenant.Tenant, bool, error) {
	f.ensured = append(f.ensured, id)
	if t, ok := f.tenants[id]; ok {
		return t, false, nil
	}
	t := domainTenant.Tenant{ID: id, Slug: "slug-" + id, Name: "Tenant " + id}
	f.tenants[id] = t
	return t, true, nil
}

func (f *fakeTenants) Match(_ context.Context, ids []string, slugs []string) (*domainTenant.Tenant, error) {
	for _, id := range ids {
		if t, ok := f.tenants[id]; ok {
			return &t, nil
		}
	}
	for _, slug := range slugs {
		for _, t := range f.tenants {
			if t.Slug == slug {
				return &t, nil
			}
		}
	}
	return nil, nil
}
