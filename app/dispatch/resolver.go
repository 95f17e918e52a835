package dispatch

import (
	"context"
	"fmt"

	"github.com/textlane/dispatchd/models"
)

// ContactSource is the read surface the resolver needs from the contact store
type ContactSource interface {
	ListByGroup(ctx context.Context, createdBy, group string) ([]*models.Contact, error)
}

// ExclusionSource lists do-not-call numbers visible to a user
type ExclusionSource interface {
	ListNumbers(ctx context.Context, createdBy string) ([]string, error)
}

// Resolver expands a campaign's contact groups into a frozen recipient
// snapshot: groups are walked in campaign order, duplicate numbers keep their
// first occurrence, and excluded numbers are dropped unless the campaign opts
// them back in.
type Resolver struct {
	contacts ContactSource
	dnc      ExclusionSource
}

func NewResolver(contacts ContactSource, dnc ExclusionSource) *Resolver {
	return &Resolver{contacts: contacts, dnc: dnc}
}

// Resolve computes the snapshot for the campaign. The returned snapshot may
// be empty; deciding whether that is an error belongs to the caller.
func (r *Resolver) Resolve(ctx context.Context, campaign *models.Campaign) (models.RecipientSnapshot, error) {
	excluded := map[string]struct{}{}
	if !campaign.IncludeOptOut {
		numbers, err := r.dnc.ListNumbers(ctx, campaign.CreatedBy)
		if err != nil {
			return nil, fmt.Errorf("list exclusions: %w", err)
		}
		excluded = make(map[string]struct{}, len(numbers))
		for _, n := range numbers {
			excluded[n] = struct{}{}
		}
	}

	seen := map[string]struct{}{}
	var snapshot models.RecipientSnapshot
	for _, group := range campaign.ContactGroups {
		contacts, err := r.contacts.ListByGroup(ctx, campaign.CreatedBy, group)
		if err != nil {
			return nil, fmt.Errorf("list group %q: %w", group, err)
		}
		for _, c := range contacts {
			if _, dup := seen[c.PhoneNumber]; dup {
				continue
			}
			seen[c.PhoneNumber] = struct{}{}
			if _, out := excluded[c.PhoneNumber]; out {
				continue
			}
			snapshot = append(snapshot, models.SnapshotRecipient{
				PhoneNumber: c.PhoneNumber,
				Name:        c.Name,
			})
		}
	}
	return snapshot, nil
}
