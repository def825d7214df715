package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	domainTenant "github.com/atendezap/zapdesk/domains/tenant"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/pkg/identifiers"
)

type tenantService struct {
	repo      domainTenant.ITenantRepository
	allowlist map[string]struct{}
}

// NewTenantService builds the tenant primitive. A non-empty allowlist
// restricts Match to the listed ids/slugs; Ensure is never gated because it
// only runs from the queue FK-repair path, which already holds a tenant id.
func NewTenantService(repo domainTenant.ITenantRepository, allowlist []string) domainTenant.ITenantUsecase {
	svc := &tenantService{repo: repo}
	if len(allowlist) > 0 {
		svc.allowlist = make(map[string]struct{}, len(allowlist))
		for _, v := range allowlist {
			if v != "" {
				svc.allowlist[v] = struct{}{}
			}
		}
	}
	return svc
}

func (s *tenantService) Ensure(ctx context.Context, id string) (domainTenant.Tenant, bool, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !store.IsNotFound(err) {
		return domainTenant.Tenant{}, false, err
	}

	created, err := s.repo.Create(ctx, domainTenant.Tenant{
		ID:   id,
		Slug: id,
		Name: fmt.Sprintf("Tenant %s", shortID(id)),
	})
	if err != nil {
		// A concurrent Ensure won the insert; reuse its row.
		if store.IsUniqueViolation(err) {
			existing, lookupErr := s.repo.GetByID(ctx, id)
			if lookupErr != nil {
				return domainTenant.Tenant{}, false, lookupErr
			}
			return existing, false, nil
		}
		return domainTenant.Tenant{}, false, err
	}

	logrus.Infof("[TENANT] Auto-created tenant %s during queue repair", created.ID)
	return created, true, nil
}

func (s *tenantService) Match(ctx context.Context, ids []string, slugs []string) (*domainTenant.Tenant, error) {
	ids = s.filterAllowed(ids)
	slugs = s.filterAllowed(slugs)
	if len(ids) == 0 && len(slugs) == 0 {
		return nil, nil
	}

	t, err := s.repo.GetByIdentifiers(ctx, ids, slugs)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *tenantService) filterAllowed(values []string) []string {
	if s.allowlist == nil {
		return values
	}
	filtered := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := s.allowlist[v]; ok {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// MatchCandidates adapts identifier-resolver output to the Match signature.
func MatchCandidates(ctx context.Context, uc domainTenant.ITenantUsecase, candidates []identifiers.Candidate) (*domainTenant.Tenant, error) {
	var ids, slugs []string
	for _, c := range candidates {
		switch c.Kind {
		case identifiers.KindID:
			ids = append(ids, c.Value)
		case identifiers.KindSlug:
			slugs = append(slugs, c.Value)
		}
	}
	return uc.Match(ctx, ids, slugs)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
