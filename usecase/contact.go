package usecase

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	domainContact "github.com/atendezap/zapdesk/domains/contact"
	"github.com/atendezap/zapdesk/infrastructure/store"
	pkgError "github.com/atendezap/zapdesk/pkg/error"
)

type contactService struct {
	repo domainContact.IContactRepository
}

func NewContactService(repo domainContact.IContactRepository) domainContact.IContactUsecase {
	return &contactService{repo: repo}
}

// Resolve finds or creates the contact behind an inbound message and
// reconciles its phone/tag state in one transaction. Concurrent resolvers
// for the same phone converge on one row: the loser of the create race
// re-looks-up and reconciles the winner's contact.
func (s *contactService) Resolve(ctx context.Context, input domainContact.ResolveInput) (domainContact.Contact, error) {
	input.Phone = strings.TrimSpace(input.Phone)
	if input.TenantID == "" || input.Phone == "" {
		return domainContact.Contact{}, pkgError.ValidationError("tenant id and phone are required to resolve a contact")
	}

	existing, err := s.repo.FindByPhone(ctx, input.TenantID, input.Phone)
	if err == nil {
		return s.repo.Reconcile(ctx, existing.ID, input)
	}
	if !store.IsNotFound(err) {
		return domainContact.Contact{}, err
	}

	created, err := s.repo.Create(ctx, domainContact.Contact{
		TenantID:     input.TenantID,
		DisplayName:  input.DisplayName,
		PrimaryPhone: input.Phone,
		Tags:         tagsFromNames(input.Tags),
	})
	if err == nil {
		return created, nil
	}
	if !store.IsUniqueViolation(err) {
		return domainContact.Contact{}, err
	}

	logrus.Debugf("[CONTACT] Lost creation race for phone %s on tenant %s, reusing winner", input.Phone, input.TenantID)
	winner, err := s.repo.FindByPhone(ctx, input.TenantID, input.Phone)
	if err != nil {
		return domainContact.Contact{}, err
	}
	return s.repo.Reconcile(ctx, winner.ID, input)
}

func tagsFromNames(names []string) []domainContact.Tag {
	tags := make([]domainContact.Tag, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tags = append(tags, domainContact.Tag{Name: name})
	}
	return tags
}
