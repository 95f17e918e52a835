// Package dispatch implements recipient resolution, batch planning and the
// background dispatcher that drains queue entries against the SMS gateway.
package dispatch

import (
	"strings"

	"github.com/textlane/dispatchd/models"
)

// Plan partitions a frozen recipient snapshot into fixed-size batches. The
// plan is pure arithmetic over the snapshot; the dispatcher persists only the
// batch cursor, so a plan can always be rebuilt from the entry row.
type Plan struct {
	Snapshot  models.RecipientSnapshot
	BatchSize int
}

// NewPlan builds a plan for the snapshot using the campaign's batch size
func NewPlan(snapshot models.RecipientSnapshot, size models.BatchSize) Plan {
	return Plan{Snapshot: snapshot, BatchSize: int(size)}
}

// TotalBatches returns ceil(len(snapshot) / batchSize). An empty snapshot
// yields zero batches.
func (p Plan) TotalBatches() int {
	if p.BatchSize <= 0 || len(p.Snapshot) == 0 {
		return 0
	}
	return (len(p.Snapshot) + p.BatchSize - 1) / p.BatchSize
}

// Batch returns the recipients of the i-th batch (zero-based). Out-of-range
// indices return an empty slice. Every batch is full except possibly the last.
func (p Plan) Batch(i int) models.RecipientSnapshot {
	if i < 0 || p.BatchSize <= 0 {
		return nil
	}
	start := i * p.BatchSize
	if start >= len(p.Snapshot) {
		return nil
	}
	end := start + p.BatchSize
	if end > len(p.Snapshot) {
		end = len(p.Snapshot)
	}
	return p.Snapshot[start:end]
}

// RenderMessage substitutes the personalization placeholders in a campaign
// message body for a single recipient.
func RenderMessage(template string, r models.SnapshotRecipient) string {
	out := strings.ReplaceAll(template, "{name}", r.Name)
	out = strings.ReplaceAll(out, "{phone_number}", r.PhoneNumber)
	return out
}
