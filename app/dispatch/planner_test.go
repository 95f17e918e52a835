package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textlane/dispatchd/models"
)

func makeSnapshot(n int) models.RecipientSnapshot {
	snapshot := make(models.RecipientSnapshot, 0, n)
	for i := 0; i < n; i++ {
		snapshot = append(snapshot, models.SnapshotRecipient{
			PhoneNumber: fmt.Sprintf("+1555000%04d", i),
			Name:        fmt.Sprintf("Recipient %d", i),
		})
	}
	return snapshot
}

func TestPlanTotalBatches(t *testing.T) {
	tests := []struct {
		name       string
		recipients int
		batchSize  models.BatchSize
		expected   int
	}{
		{
			name:       "exact multiple",
			recipients: 100,
			batchSize:  models.BatchSizeMini,
			expected:   2,
		},
		{
			name:       "partial final batch rounds up",
			recipients: 101,
			batchSize:  models.BatchSizeMini,
			expected:   3,
		},
		{
			name:       "fewer recipients than one batch",
			recipients: 7,
			batchSize:  models.BatchSizeLarge,
			expected:   1,
		},
		{
			name:       "empty snapshot yields zero batches",
			recipients: 0,
			batchSize:  models.BatchSizeMini,
			expected:   0,
		},
		{
			name:       "single recipient",
			recipients: 1,
			batchSize:  models.BatchSizeMedium,
			expected:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := NewPlan(makeSnapshot(tt.recipients), tt.batchSize)
			assert.Equal(t, tt.expected, plan.TotalBatches())
		})
	}
}

func TestPlanBatch(t *testing.T) {
	snapshot := makeSnapshot(120)
	plan := NewPlan(snapshot, models.BatchSizeMini)

	require.Equal(t, 3, plan.TotalBatches())

	first := plan.Batch(0)
	require.Len(t, first, 50)
	assert.Equal(t, snapshot[0], first[0])
	assert.Equal(t, snapshot[49], first[49])

	second := plan.Batch(1)
	require.Len(t, second, 50)
	assert.Equal(t, snapshot[50], second[0])

	// Final batch carries the remainder
	last := plan.Batch(2)
	require.Len(t, last, 20)
	assert.Equal(t, snapshot[119], last[19])
}

func TestPlanBatchOutOfRange(t *testing.T) {
	plan := NewPlan(makeSnapshot(10), models.BatchSizeMini)

	assert.Empty(t, plan.Batch(1))
	assert.Empty(t, plan.Batch(99))
	assert.Empty(t, plan.Batch(-1))
}

func TestPlanBatchesCoverSnapshotExactlyOnce(t *testing.T) {
	snapshot := makeSnapshot(317)
	plan := NewPlan(snapshot, models.BatchSizeSmall)

	var rebuilt models.RecipientSnapshot
	for i := 0; i < plan.TotalBatches(); i++ {
		rebuilt = append(rebuilt, plan.Batch(i)...)
	}

	assert.Equal(t, snapshot, rebuilt)
}

func TestRenderMessage(t *testing.T) {
	tests := []struct {
		name      string
		template  string
		recipient models.SnapshotRecipient
		expected  string
	}{
		{
			name:      "both placeholders",
			template:  "Hi {name}, we tried to reach you at {phone_number}.",
			recipient: models.SnapshotRecipient{PhoneNumber: "+15550001234", Name: "Sara"},
			expected:  "Hi Sara, we tried to reach you at +15550001234.",
		},
		{
			name:      "no placeholders passes through",
			template:  "Flash sale ends tonight!",
			recipient: models.SnapshotRecipient{PhoneNumber: "+15550001234", Name: "Sara"},
			expected:  "Flash sale ends tonight!",
		},
		{
			name:      "missing name renders empty",
			template:  "Hi {name}!",
			recipient: models.SnapshotRecipient{PhoneNumber: "+15550001234"},
			expected:  "Hi !",
		},
		{
			name:      "repeated placeholder",
			template:  "{name} {name}",
			recipient: models.SnapshotRecipient{Name: "Bo"},
			expected:  "Bo Bo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RenderMessage(tt.template, tt.recipient))
		})
	}
}
