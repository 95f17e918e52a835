package dispatch

import (
	"context"
	"fmt"

	"github.com/textlane/dispatchd/models"
	"github.com/textlane/dispatchd/utils"
)

// TransitionError reports a status transition the lifecycle does not permit
type TransitionError struct {
	From models.QueueStatus
	To   models.QueueStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition queue entry from %s to %s", e.From, e.To)
}

// EntryStore is the subset of the queue entry repository the state machine
// needs. Extracted so the machine is trivially testable with a fake.
type EntryStore interface {
	ByID(ctx context.Context, id uint) (*models.QueueEntry, error)
	UpdateStatusCAS(ctx context.Context, entryID uint, expected, next models.QueueStatus) (bool, error)
}

// Machine applies status transitions to queue entries. Every move goes
// through a compare-and-set on the current status, so two actors racing the
// same entry cannot both win; the loser re-reads and re-evaluates.
type Machine struct {
	store  EntryStore
	events StatusPublisher
}

func NewMachine(store EntryStore, events StatusPublisher) *Machine {
	if events == nil {
		events = NoopPublisher{}
	}
	return &Machine{store: store, events: events}
}

// casAttempts bounds re-reads when a transition loses a race
const casAttempts = 3

// Apply moves the entry to next. Requesting the status the entry already
// holds is an idempotent no-op and returns (false, nil). On success the entry
// struct is updated in place and a status event is published.
func (m *Machine) Apply(ctx context.Context, entry *models.QueueEntry, next models.QueueStatus) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("invalid queue status: %s", next)
	}

	current := entry.Status
	for attempt := 0; attempt < casAttempts; attempt++ {
		if current == next {
			entry.Status = current
			return false, nil
		}
		if !current.CanTransitionTo(next) {
			return false, &TransitionError{From: current, To: next}
		}

		ok, err := m.store.UpdateStatusCAS(ctx, entry.ID, current, next)
		if err != nil {
			return false, fmt.Errorf("update status: %w", err)
		}
		if ok {
			entry.Status = next
			entry.UpdatedAt = utils.UTCNow()
			m.events.PublishStatus(ctx, StatusEvent{
				EntryUUID: entry.UUID.String(),
				From:      current,
				To:        next,
				At:        entry.UpdatedAt,
			})
			return true, nil
		}

		// Lost a race; re-read and re-evaluate against the fresh status.
		fresh, err := m.store.ByID(ctx, entry.ID)
		if err != nil {
			return false, fmt.Errorf("reload entry: %w", err)
		}
		if fresh == nil {
			return false, fmt.Errorf("queue entry %d disappeared during transition", entry.ID)
		}
		current = fresh.Status
		entry.Status = current
	}
	return false, &TransitionError{From: current, To: next}
}
