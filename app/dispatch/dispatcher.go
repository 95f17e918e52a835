package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/textlane/dispatchd/config"
	"github.com/textlane/dispatchd/models"
	"github.com/textlane/dispatchd/repository"
	"github.com/textlane/dispatchd/utils"
)

var (
	// Messages submitted to the gateway partitioned by outcome
	dispatchMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Total messages submitted to the SMS gateway",
		},
		[]string{"result"},
	)

	// Batches fully dispatched
	dispatchBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_batches_total",
			Help: "Total batches dispatched",
		},
	)

	// Queue entries currently owned by a worker goroutine
	dispatchEntriesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_entries_running",
			Help: "Number of queue entries currently being dispatched",
		},
	)
)

// errGatewayUnavailable marks a recipient that exhausted its transient send
// retries. The gateway is down or rate-limiting, so the entry stops as failed
// rather than burning through the rest of the batch.
var errGatewayUnavailable = errors.New("gateway unavailable after retries")

// errEntryInterrupted marks a pause or cancel landing mid-batch
var errEntryInterrupted = errors.New("entry status changed mid-batch")

// Dispatcher drains active queue entries. A supervisor loop periodically (or
// on demand via Wake) scans for entries that need work and hands each to a
// worker goroutine. A worker owns its entry through a lease, so multiple
// dispatcher processes can share one database without double-sending.
type Dispatcher struct {
	entries    repository.QueueEntryRepository
	campaigns  repository.CampaignRepository
	deliveries repository.DeliveryRecordRepository
	gateway    Gateway
	lease      Lease
	machine    *Machine
	cfg        config.DispatchConfig
	logger     *log.Logger

	mu      sync.Mutex
	running map[uint]struct{}
	kick    chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(
	entries repository.QueueEntryRepository,
	campaigns repository.CampaignRepository,
	deliveries repository.DeliveryRecordRepository,
	gateway Gateway,
	lease Lease,
	machine *Machine,
	cfg config.DispatchConfig,
	logger *log.Logger,
) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Dispatcher{
		entries:    entries,
		campaigns:  campaigns,
		deliveries: deliveries,
		gateway:    gateway,
		lease:      lease,
		machine:    machine,
		cfg:        cfg,
		logger:     logger,
		running:    make(map[uint]struct{}),
		kick:       make(chan struct{}, 1),
	}
}

// Start launches the supervisor loop in a background goroutine and returns a
// stop function. Stopping cancels all workers and waits for them to unwind.
func (d *Dispatcher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		// Immediate scan on boot picks up entries left in_progress by a
		// previous process; they resume from their persisted batch cursor.
		d.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.runOnce(ctx)
			case <-d.kick:
				d.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		d.wg.Wait()
	}
}

// Wake asks the supervisor to rescan promptly instead of waiting for the
// next poll tick. Safe to call from any goroutine; coalesces bursts.
func (d *Dispatcher) Wake() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	active, err := d.entries.ListActive(ctx)
	if err != nil {
		d.logger.Printf("dispatcher: list active entries failed: %v", err)
		return
	}

	for _, e := range active {
		// Paused entries wait for a resume command; nothing to do here.
		if e.Status == models.QueueStatusPaused {
			continue
		}
		d.adopt(ctx, e.ID)
	}
}

// adopt spawns a worker for the entry unless one is already running
func (d *Dispatcher) adopt(ctx context.Context, entryID uint) {
	d.mu.Lock()
	if _, busy := d.running[entryID]; busy {
		d.mu.Unlock()
		return
	}
	d.running[entryID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, entryID)
			d.mu.Unlock()
		}()
		d.runEntry(ctx, entryID)
	}()
}

func (d *Dispatcher) runEntry(ctx context.Context, entryID uint) {
	key := fmt.Sprintf("entry:%d", entryID)
	token, ok, err := d.lease.Acquire(ctx, key, d.cfg.LeaseTTL)
	if err != nil {
		d.logger.Printf("dispatcher: acquire lease for entry=%d failed: %v", entryID, err)
		return
	}
	if !ok {
		// Another dispatcher owns it.
		return
	}
	defer func() {
		if err := d.lease.Release(context.WithoutCancel(ctx), key, token); err != nil {
			d.logger.Printf("dispatcher: release lease for entry=%d failed: %v", entryID, err)
		}
	}()

	dispatchEntriesRunning.Inc()
	defer dispatchEntriesRunning.Dec()

	for {
		if ctx.Err() != nil {
			return
		}

		entry, err := d.entries.ByID(ctx, entryID)
		if err != nil {
			d.logger.Printf("dispatcher: load entry=%d failed: %v", entryID, err)
			return
		}
		if entry == nil {
			return
		}

		switch entry.Status {
		case models.QueueStatusScheduled:
			due, ok := d.waitUntilDue(ctx, entry, key, token)
			if !ok {
				return
			}
			if !due {
				// Status changed while waiting; reload and re-evaluate.
				continue
			}
			if _, err := d.machine.Apply(ctx, entry, models.QueueStatusInProgress); err != nil {
				// Cancelled while waiting; nothing left to do.
				d.logger.Printf("dispatcher: start entry=%s refused: %v", entry.UUID, err)
				return
			}
			d.logger.Printf("dispatcher: entry=%s started (%d batches)", entry.UUID, entry.TotalBatches)

		case models.QueueStatusInProgress:
			done, err := d.dispatchNextBatch(ctx, entry, key, token)
			if err != nil {
				d.logger.Printf("dispatcher: entry=%s batch=%d failed: %v", entry.UUID, entry.CurrentBatch, err)
				return
			}
			if done {
				return
			}

		default:
			// Paused or terminal; the worker's job is over either way.
			return
		}
	}
}

// waitUntilDue blocks until the entry's scheduled start, renewing the lease
// along the way. due=false means the entry's status changed mid-wait; ok=false
// means the worker lost its context or lease and must stop.
func (d *Dispatcher) waitUntilDue(ctx context.Context, entry *models.QueueEntry, key, token string) (due, ok bool) {
	wait := time.Until(entry.DueAt())
	if wait <= 0 {
		return true, true
	}
	campaign, err := d.campaigns.ByID(ctx, entry.CampaignID)
	if err != nil || campaign == nil {
		return false, false
	}
	poll := d.cfg.ThrottleDelay(campaign.Throttle)
	changed, ok := d.sleepWatching(ctx, wait, key, token, entry.ID, models.QueueStatusScheduled, poll)
	return !changed, ok
}

// dispatchNextBatch sends the entry's current batch and advances the cursor.
// Returns done=true when the worker should stop driving this entry.
func (d *Dispatcher) dispatchNextBatch(ctx context.Context, entry *models.QueueEntry, key, token string) (bool, error) {
	if entry.Exhausted() {
		if _, err := d.machine.Apply(ctx, entry, models.QueueStatusCompleted); err != nil {
			return true, fmt.Errorf("complete: %w", err)
		}
		d.logger.Printf("dispatcher: entry=%s completed", entry.UUID)
		return true, nil
	}

	campaign, err := d.campaigns.ByID(ctx, entry.CampaignID)
	if err != nil {
		return true, fmt.Errorf("load campaign: %w", err)
	}
	if campaign == nil {
		return true, fmt.Errorf("campaign %d not found", entry.CampaignID)
	}

	plan := NewPlan(entry.Snapshot, campaign.BatchSize)
	batch := plan.Batch(entry.CurrentBatch)

	// Recipients already holding a record for this batch were dispatched by a
	// previous process before it crashed; don't send to them twice.
	var already map[string]struct{}
	prior, err := d.deliveries.ListByEntryAndBatch(ctx, entry.ID, entry.CurrentBatch)
	if err != nil {
		return true, fmt.Errorf("list prior deliveries: %w", err)
	}
	if len(prior) > 0 {
		already = make(map[string]struct{}, len(prior))
		for _, rec := range prior {
			already[rec.Recipient] = struct{}{}
		}
	}

	failures, err := d.sendBatch(ctx, campaign, entry, batch, already)
	switch {
	case errors.Is(err, errGatewayUnavailable):
		// The gateway stayed down through every retry; stop the entry rather
		// than grinding through the remaining recipients.
		if _, aerr := d.machine.Apply(ctx, entry, models.QueueStatusFailed); aerr != nil {
			return true, fmt.Errorf("mark failed: %w", aerr)
		}
		d.logger.Printf("dispatcher: entry=%s failed at batch=%d: %v", entry.UUID, entry.CurrentBatch, err)
		return true, nil
	case errors.Is(err, errEntryInterrupted):
		// A control command landed mid-batch; reload and let the status
		// switch decide. The cursor stays put, so a later resume picks the
		// batch back up and skips recipients already holding a record.
		return false, nil
	case err != nil:
		return true, err
	}
	dispatchBatchesTotal.Inc()

	if renewed, err := d.lease.Renew(ctx, key, token, d.cfg.LeaseTTL); err != nil || !renewed {
		// Lost ownership mid-flight; stop before touching the cursor again.
		return true, fmt.Errorf("lease renewal lost (renewed=%v): %v", renewed, err)
	}

	advanced, err := d.entries.AdvanceBatchCAS(ctx, entry.ID, entry.CurrentBatch)
	if err != nil {
		return true, fmt.Errorf("advance cursor: %w", err)
	}
	if !advanced {
		// A pause or cancel landed while we were sending; reload and let the
		// status switch decide.
		return false, nil
	}
	entry.CurrentBatch++
	d.logger.Printf("dispatcher: entry=%s batch=%d/%d dispatched (failures=%d)",
		entry.UUID, entry.CurrentBatch, entry.TotalBatches, failures)

	if entry.Exhausted() {
		if _, err := d.machine.Apply(ctx, entry, models.QueueStatusCompleted); err != nil {
			return true, fmt.Errorf("complete: %w", err)
		}
		d.logger.Printf("dispatcher: entry=%s completed", entry.UUID)
		return true, nil
	}

	// Buffer window between batches. A status change cuts the window short;
	// the reload that follows decides what to do with it.
	buffer := campaign.BufferTime.Duration(d.cfg.BufferUnit)
	poll := d.cfg.ThrottleDelay(campaign.Throttle)
	if _, ok := d.sleepWatching(ctx, buffer, key, token, entry.ID, models.QueueStatusInProgress, poll); !ok {
		return true, nil
	}
	return false, nil
}

// sendBatch submits the batch's recipients, pacing sends by the campaign's
// throttle level, and persists one delivery record per submission. Recipients
// in skip are left alone. Between sends the entry's status is re-read, so a
// pause or cancel lands within one throttle interval instead of waiting out
// the batch. A recipient exhausting its transient retries surfaces as
// errGatewayUnavailable; permanent rejections only count toward failures.
func (d *Dispatcher) sendBatch(ctx context.Context, campaign *models.Campaign, entry *models.QueueEntry, batch models.RecipientSnapshot, skip map[string]struct{}) (failures int, err error) {
	delay := d.cfg.ThrottleDelay(campaign.Throttle)
	records := make([]*models.DeliveryRecord, 0, len(batch))

	var stop error
	attempted := 0
	for _, recipient := range batch {
		if ctx.Err() != nil {
			break
		}
		if _, dup := skip[recipient.PhoneNumber]; dup {
			continue
		}
		if attempted > 0 {
			if !sleepCtx(ctx, delay) {
				break
			}
			fresh, ferr := d.entries.ByID(ctx, entry.ID)
			if ferr != nil {
				stop = fmt.Errorf("reload entry: %w", ferr)
				break
			}
			if fresh == nil || fresh.Status != models.QueueStatusInProgress {
				stop = errEntryInterrupted
				break
			}
		}
		attempted++

		body := RenderMessage(campaign.Message, recipient)
		record := &models.DeliveryRecord{
			QueueEntryID: entry.ID,
			Recipient:    recipient.PhoneNumber,
			BatchIndex:   entry.CurrentBatch,
		}

		result, serr := d.sendWithRetry(ctx, campaign.SenderMSISDN, recipient.PhoneNumber, body)
		if serr != nil {
			failures++
			record.Status = models.DeliveryStatusFailed
			record.Error = utils.ToPtr(serr.Error())
			dispatchMessagesTotal.WithLabelValues("failed").Inc()
			records = append(records, record)
			if IsTransientSendError(serr) {
				stop = fmt.Errorf("recipient %s: %w", recipient.PhoneNumber, errGatewayUnavailable)
				break
			}
			continue
		}
		record.Status = models.DeliveryStatusSent
		record.GatewayMessageID = utils.ToPtr(result.GatewayMessageID)
		record.SentAt = utils.UTCNowPtr()
		dispatchMessagesTotal.WithLabelValues("sent").Inc()
		records = append(records, record)
	}

	if len(records) > 0 {
		if serr := d.deliveries.SaveBatch(ctx, records); serr != nil {
			return failures, fmt.Errorf("save delivery records: %w", serr)
		}
	}
	if stop != nil {
		return failures, stop
	}
	return failures, ctx.Err()
}

// sendWithRetry retries transient gateway failures, doubling the backoff on
// each attempt. Permanent failures surface immediately.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender, recipient, body string) (*SendResult, error) {
	attempts := d.cfg.MaxSendRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, d.cfg.RetryBackoff<<(attempt-1)) {
			break
		}
		result, err := d.gateway.Send(ctx, sender, recipient, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransientSendError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// sleepWatching sleeps for dur keeping the lease alive and polling the
// entry's status, waking every poll interval (capped at half the lease TTL)
// so a control command lands within one throttle interval even during a long
// buffer or scheduled-start wait. changed=true means the entry no longer
// holds expect; ok=false means the context was cancelled or the lease lost.
func (d *Dispatcher) sleepWatching(ctx context.Context, dur time.Duration, key, token string, entryID uint, expect models.QueueStatus, poll time.Duration) (changed, ok bool) {
	slice := d.cfg.LeaseTTL / 2
	if poll > 0 && poll < slice {
		slice = poll
	}
	if slice <= 0 {
		slice = time.Second
	}
	deadline := time.Now().Add(dur)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, true
		}
		step := remaining
		if step > slice {
			step = slice
		}
		if !sleepCtx(ctx, step) {
			return false, false
		}
		renewed, err := d.lease.Renew(ctx, key, token, d.cfg.LeaseTTL)
		if err != nil || !renewed {
			return false, false
		}
		fresh, err := d.entries.ByID(ctx, entryID)
		if err != nil || fresh == nil {
			return false, false
		}
		if fresh.Status != expect {
			return true, true
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
