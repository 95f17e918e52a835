package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textlane/dispatchd/models"
)

// fakeEntryStore holds a single entry and implements CAS semantics in memory
type fakeEntryStore struct {
	mu    sync.Mutex
	entry *models.QueueEntry
}

func newFakeEntryStore(status models.QueueStatus) *fakeEntryStore {
	return &fakeEntryStore{entry: &models.QueueEntry{
		ID:     1,
		UUID:   uuid.New(),
		Status: status,
	}}
}

func (s *fakeEntryStore) ByID(_ context.Context, id uint) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry.ID != id {
		return nil, nil
	}
	copied := *s.entry
	return &copied, nil
}

func (s *fakeEntryStore) UpdateStatusCAS(_ context.Context, id uint, expected, next models.QueueStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry.ID != id || s.entry.Status != expected {
		return false, nil
	}
	s.entry.Status = next
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *recordingPublisher) PublishStatus(_ context.Context, ev StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func TestMachineApplyAllowedTransitions(t *testing.T) {
	tests := []struct {
		name string
		from models.QueueStatus
		to   models.QueueStatus
	}{
		{"scheduled to in_progress", models.QueueStatusScheduled, models.QueueStatusInProgress},
		{"scheduled to cancelled", models.QueueStatusScheduled, models.QueueStatusCancelled},
		{"in_progress to paused", models.QueueStatusInProgress, models.QueueStatusPaused},
		{"in_progress to completed", models.QueueStatusInProgress, models.QueueStatusCompleted},
		{"in_progress to cancelled", models.QueueStatusInProgress, models.QueueStatusCancelled},
		{"in_progress to failed", models.QueueStatusInProgress, models.QueueStatusFailed},
		{"paused to in_progress", models.QueueStatusPaused, models.QueueStatusInProgress},
		{"paused to cancelled", models.QueueStatusPaused, models.QueueStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeEntryStore(tt.from)
			publisher := &recordingPublisher{}
			machine := NewMachine(store, publisher)

			entry := *store.entry
			applied, err := machine.Apply(context.Background(), &entry, tt.to)
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, tt.to, entry.Status)
			assert.Equal(t, tt.to, store.entry.Status)

			require.Len(t, publisher.events, 1)
			assert.Equal(t, tt.from, publisher.events[0].From)
			assert.Equal(t, tt.to, publisher.events[0].To)
			assert.Equal(t, entry.UUID.String(), publisher.events[0].EntryUUID)
		})
	}
}

func TestMachineApplyRejectedTransitions(t *testing.T) {
	tests := []struct {
		name string
		from models.QueueStatus
		to   models.QueueStatus
	}{
		{"scheduled cannot pause", models.QueueStatusScheduled, models.QueueStatusPaused},
		{"completed is terminal", models.QueueStatusCompleted, models.QueueStatusInProgress},
		{"cancelled is terminal", models.QueueStatusCancelled, models.QueueStatusInProgress},
		{"failed is terminal", models.QueueStatusFailed, models.QueueStatusInProgress},
		{"paused cannot complete", models.QueueStatusPaused, models.QueueStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeEntryStore(tt.from)
			machine := NewMachine(store, nil)

			entry := *store.entry
			applied, err := machine.Apply(context.Background(), &entry, tt.to)
			assert.False(t, applied)

			var transitionErr *TransitionError
			require.ErrorAs(t, err, &transitionErr)
			assert.Equal(t, tt.from, transitionErr.From)
			assert.Equal(t, tt.to, transitionErr.To)

			// Store untouched
			assert.Equal(t, tt.from, store.entry.Status)
		})
	}
}

func TestMachineApplySameStatusIsNoOp(t *testing.T) {
	store := newFakeEntryStore(models.QueueStatusPaused)
	publisher := &recordingPublisher{}
	machine := NewMachine(store, publisher)

	entry := *store.entry
	applied, err := machine.Apply(context.Background(), &entry, models.QueueStatusPaused)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, publisher.events)
}

func TestMachineApplyInvalidStatus(t *testing.T) {
	store := newFakeEntryStore(models.QueueStatusScheduled)
	machine := NewMachine(store, nil)

	entry := *store.entry
	_, err := machine.Apply(context.Background(), &entry, models.QueueStatus("bogus"))
	require.Error(t, err)
}

func TestMachineApplyReloadsAfterLostRace(t *testing.T) {
	store := newFakeEntryStore(models.QueueStatusInProgress)
	machine := NewMachine(store, nil)

	// Caller holds a stale view: it believes the entry is still scheduled,
	// while another actor already moved it to in_progress.
	stale := *store.entry
	stale.Status = models.QueueStatusScheduled

	applied, err := machine.Apply(context.Background(), &stale, models.QueueStatusCancelled)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.QueueStatusCancelled, stale.Status)
	assert.Equal(t, models.QueueStatusCancelled, store.entry.Status)
}

func TestMachineApplyLostRaceIntoForbiddenState(t *testing.T) {
	store := newFakeEntryStore(models.QueueStatusCompleted)
	machine := NewMachine(store, nil)

	// Stale caller tries to pause an entry that has already completed.
	stale := *store.entry
	stale.Status = models.QueueStatusInProgress

	applied, err := machine.Apply(context.Background(), &stale, models.QueueStatusPaused)
	assert.False(t, applied)

	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.QueueStatusCompleted, transitionErr.From)
	assert.Equal(t, models.QueueStatusCompleted, store.entry.Status)
}
