package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textlane/dispatchd/models"
)

type fakeContactSource struct {
	groups map[string][]*models.Contact
	err    error
}

func (f *fakeContactSource) ListByGroup(_ context.Context, _, group string) ([]*models.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[group], nil
}

type fakeExclusionSource struct {
	numbers []string
	err     error
	calls   int
}

func (f *fakeExclusionSource) ListNumbers(context.Context, string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.numbers, nil
}

func contact(name, phone string, groups ...string) *models.Contact {
	return &models.Contact{Name: name, PhoneNumber: phone, Groups: pq.StringArray(groups)}
}

func TestResolverResolve(t *testing.T) {
	contacts := &fakeContactSource{groups: map[string][]*models.Contact{
		"customers": {
			contact("Ana", "+15550000001", "customers"),
			contact("Ben", "+15550000002", "customers"),
		},
		"vips": {
			contact("Ana (VIP)", "+15550000001", "vips"),
			contact("Cai", "+15550000003", "vips"),
		},
	}}
	dnc := &fakeExclusionSource{numbers: []string{"+15550000002"}}

	resolver := NewResolver(contacts, dnc)
	campaign := &models.Campaign{
		CreatedBy:     "user-1",
		ContactGroups: pq.StringArray{"customers", "vips"},
	}

	snapshot, err := resolver.Resolve(context.Background(), campaign)
	require.NoError(t, err)

	// Ben is opted out, and Ana keeps her first-group name.
	require.Len(t, snapshot, 2)
	assert.Equal(t, models.SnapshotRecipient{PhoneNumber: "+15550000001", Name: "Ana"}, snapshot[0])
	assert.Equal(t, models.SnapshotRecipient{PhoneNumber: "+15550000003", Name: "Cai"}, snapshot[1])
}

func TestResolverIncludeOptOutSkipsExclusions(t *testing.T) {
	contacts := &fakeContactSource{groups: map[string][]*models.Contact{
		"customers": {contact("Ben", "+15550000002", "customers")},
	}}
	dnc := &fakeExclusionSource{numbers: []string{"+15550000002"}}

	resolver := NewResolver(contacts, dnc)
	campaign := &models.Campaign{
		CreatedBy:     "user-1",
		ContactGroups: pq.StringArray{"customers"},
		IncludeOptOut: true,
	}

	snapshot, err := resolver.Resolve(context.Background(), campaign)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "+15550000002", snapshot[0].PhoneNumber)
	assert.Zero(t, dnc.calls, "opt-out list should not be consulted")
}

func TestResolverEmptyGroupsYieldEmptySnapshot(t *testing.T) {
	resolver := NewResolver(&fakeContactSource{}, &fakeExclusionSource{})
	campaign := &models.Campaign{
		CreatedBy:     "user-1",
		ContactGroups: pq.StringArray{"nobody-here"},
	}

	snapshot, err := resolver.Resolve(context.Background(), campaign)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestResolverPropagatesErrors(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("contact source failure", func(t *testing.T) {
		resolver := NewResolver(&fakeContactSource{err: boom}, &fakeExclusionSource{})
		_, err := resolver.Resolve(context.Background(), &models.Campaign{
			ContactGroups: pq.StringArray{"customers"},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("exclusion source failure", func(t *testing.T) {
		resolver := NewResolver(&fakeContactSource{}, &fakeExclusionSource{err: boom})
		_, err := resolver.Resolve(context.Background(), &models.Campaign{
			ContactGroups: pq.StringArray{"customers"},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})
}

func TestResolverDedupKeepsExcludedNumberExcluded(t *testing.T) {
	// The same number appearing in two groups must not sneak past the
	// exclusion check on its second occurrence.
	contacts := &fakeContactSource{groups: map[string][]*models.Contact{
		"a": {contact("Ben", "+15550000002", "a")},
		"b": {contact("Ben", "+15550000002", "b")},
	}}
	dnc := &fakeExclusionSource{numbers: []string{"+15550000002"}}

	resolver := NewResolver(contacts, dnc)
	snapshot, err := resolver.Resolve(context.Background(), &models.Campaign{
		ContactGroups: pq.StringArray{"a", "b"},
	})
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}
