package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/voxsocial/notifygw/internal/bus"
	"github.com/voxsocial/notifygw/internal/logger"
	"github.com/voxsocial/notifygw/internal/metrics"
	"github.com/voxsocial/notifygw/internal/model"
	"github.com/voxsocial/notifygw/internal/repository"
	"github.com/voxsocial/notifygw/internal/util"
	"github.com/voxsocial/notifygw/internal/visibility"
)

// Pusher abstracts the live-push side so the pool can run next to a local
// gateway, behind the Redis bridge, or against a fake in tests.
type Pusher interface {
	Deliver(ctx context.Context, n model.Notification) (int64, error)
}

// Delivery is the engine's central state machine:
//   - consumes events from the bus,
//   - fans out to the recipient set for the event kind,
//   - gates every recipient through the visibility resolver at attempt time,
//   - creates idempotent PENDING notifications in the outbox store,
//   - nudges gateways for live push, and
//   - sweeps retries, ack timeouts and expiry.
type Delivery struct {
	// Dependencies
	Consumer *bus.Consumer
	Follows  repository.FollowsRepository
	Store    repository.NotificationsRepository
	Resolver *visibility.Resolver
	Push     Pusher
	Audit    repository.AuditRepository // optional

	// Behavior
	Workers        int
	QueueSize      int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	MaxAttempts    int
	AckTimeout     time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
	FanoutPageSize int

	AuditBatchSize int
	AuditBatchWait time.Duration
}

// NewDelivery builds a pool with sane defaults.
func NewDelivery(
	consumer *bus.Consumer,
	follows repository.FollowsRepository,
	store repository.NotificationsRepository,
	resolver *visibility.Resolver,
	pusher Pusher,
	audit repository.AuditRepository,
) *Delivery {
	return &Delivery{
		Consumer:       consumer,
		Follows:        follows,
		Store:          store,
		Resolver:       resolver,
		Push:           pusher,
		Audit:          audit,
		Workers:        32,
		QueueSize:      256,
		BackoffBase:    2 * time.Second,
		BackoffCap:     5 * time.Minute,
		MaxAttempts:    5,
		AckTimeout:     30 * time.Second,
		Retention:      7 * 24 * time.Hour,
		SweepInterval:  10 * time.Second,
		FanoutPageSize: 500,
		AuditBatchSize: 200,
		AuditBatchWait: 500 * time.Millisecond,
	}
}

// backoff computes the delay before attempt n+1: base doubled per attempt,
// capped.
func (d *Delivery) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := d.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.BackoffCap {
			return d.BackoffCap
		}
	}
	if delay > d.BackoffCap {
		return d.BackoffCap
	}
	return delay
}

// Run starts the pool and blocks until ctx is cancelled.
func (d *Delivery) Run(ctx context.Context) error {
	if d.Workers <= 0 {
		d.Workers = 32
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 256
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 5
	}
	if d.BackoffBase <= 0 {
		d.BackoffBase = 2 * time.Second
	}
	if d.BackoffCap < d.BackoffBase {
		d.BackoffCap = d.BackoffBase
	}
	if d.FanoutPageSize <= 0 {
		d.FanoutPageSize = 500
	}

	auditCh := make(chan repository.AuditRow, d.QueueSize)
	go d.runAuditWriter(ctx, auditCh)

	go d.runSweeper(ctx, auditCh)

	// Fetch loop -> fan-out to processors
	msgCh := make(chan bus.Message, d.QueueSize)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := d.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Log.Warn("delivery: bus fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	for i := 0; i < d.Workers; i++ {
		go d.runProcessor(ctx, msgCh, auditCh)
	}

	<-ctx.Done()
	return nil
}

func (d *Delivery) runProcessor(ctx context.Context, in <-chan bus.Message, audit chan<- repository.AuditRow) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			d.processOne(ctx, m, audit)
		}
	}
}

func (d *Delivery) processOne(ctx context.Context, m bus.Message, audit chan<- repository.AuditRow) {
	var ev model.Event
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.Validate() != nil {
		// poison message: commit and move on, redelivery cannot fix it
		_ = d.Consumer.Commit(ctx, m)
		if err != nil {
			logger.Log.Warn("delivery: bad event json", zap.Error(err))
		} else {
			logger.Log.Warn("delivery: event missing required fields",
				zap.String("event_id", ev.ID))
		}
		return
	}

	if err := d.fanOut(ctx, ev, audit); err != nil {
		// leave the message uncommitted; the bus redelivers and the outbox
		// unique key absorbs any recipients already written
		logger.Log.Error("delivery: fan-out failed, awaiting redelivery",
			zap.String("event_id", ev.ID), zap.Error(err))
		return
	}

	if err := d.Consumer.Commit(ctx, m); err != nil {
		logger.Log.Warn("delivery: commit failed", zap.Error(err))
	}
}

// fanOut runs steps 1-6 of the delivery state machine for one event.
func (d *Delivery) fanOut(ctx context.Context, ev model.Event, audit chan<- repository.AuditRow) error {
	forEach := func(recipientID string) error {
		return d.deliverTo(ctx, ev, recipientID, audit)
	}

	// closed kind set: each kind maps to one recipient-set strategy
	switch ev.Kind {
	case model.KindFollow:
		// the followee is the only recipient
		return forEach(ev.TargetID)
	case model.KindPost, model.KindComment, model.KindLike:
		offset := 0
		for {
			followers, err := d.Follows.ListFollowers(ctx, ev.ActorID, offset, d.FanoutPageSize)
			if err != nil {
				return err
			}
			for _, id := range followers {
				if id == ev.ActorID {
					continue
				}
				if err := forEach(id); err != nil {
					return err
				}
			}
			if len(followers) < d.FanoutPageSize {
				return nil
			}
			offset += d.FanoutPageSize
		}
	default:
		return nil
	}
}

// deliverTo handles one (event, recipient) pair: visibility gate, idempotent
// PENDING insert, backoff bookkeeping, live-push nudge.
func (d *Delivery) deliverTo(ctx context.Context, ev model.Event, recipientID string, audit chan<- repository.AuditRow) error {
	ok, err := d.Resolver.CanSeeEvent(ctx, ev, recipientID)
	if err != nil {
		return err
	}
	if !ok {
		// normal suppression outcome, never an error
		metrics.NotificationsTotal.WithLabelValues("suppressed", ev.Kind.String()).Inc()
		return nil
	}

	n := model.Notification{
		ID:             util.NewULID(),
		RecipientID:    recipientID,
		EventID:        ev.ID,
		Kind:           ev.Kind,
		ActorID:        ev.ActorID,
		TargetID:       ev.TargetID,
		State:          model.StatePending,
		EventCreatedAt: ev.CreatedAt,
	}

	created, err := d.Store.InsertPending(ctx, n)
	if err != nil {
		return err
	}
	if !created {
		// bus redelivery of an already fanned-out event
		return nil
	}
	metrics.NotificationsTotal.WithLabelValues("created", ev.Kind.String()).Inc()
	select {
	case audit <- repository.AuditRow{
		NotificationID: n.ID, RecipientID: n.RecipientID, EventID: n.EventID,
		Kind: n.Kind.String(), State: n.State.String(), OccurredAt: time.Now(),
	}:
	default:
	}

	// first attempt: schedule the fallback retry before nudging gateways, so
	// a crash between the two never strands the row
	if err := d.Store.MarkRetry(ctx, n.ID, 1, time.Now().Add(d.backoff(1))); err != nil {
		return err
	}

	receivers, err := d.Push.Deliver(ctx, n)
	if err != nil {
		logger.Log.Warn("delivery: push bridge unavailable, leaving on offline path",
			zap.String("notification_id", n.ID), zap.Error(err))
		metrics.DeliveryAttemptsTotal.WithLabelValues("failed").Inc()
		return nil
	}
	if receivers == 0 {
		metrics.DeliveryAttemptsTotal.WithLabelValues("offline").Inc()
	}
	return nil
}

// runSweeper periodically reclaims unacked deliveries, retries due PENDING
// rows, and expires exhausted ones.
func (d *Delivery) runSweeper(ctx context.Context, audit chan<- repository.AuditRow) {
	interval := d.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			d.sweepOnce(ctx, audit)
		}
	}
}

func (d *Delivery) sweepOnce(ctx context.Context, audit chan<- repository.AuditRow) {
	now := time.Now()

	// delivered but never acked: delivery confirmation, not transmission, is
	// the success criterion
	if d.AckTimeout > 0 {
		if reclaimed, err := d.Store.ReclaimUnacked(ctx, now.Add(-d.AckTimeout)); err != nil {
			logger.Log.Error("delivery: reclaim unacked failed", zap.Error(err))
		} else if reclaimed > 0 {
			logger.Log.Info("delivery: reclaimed unacked notifications", zap.Int64("count", reclaimed))
		}
	}

	due, err := d.Store.ListDue(ctx, now, 0)
	if err != nil {
		logger.Log.Error("delivery: list due failed", zap.Error(err))
		return
	}
	for _, n := range due {
		if n.Attempts >= d.MaxAttempts {
			continue // ExpireExhausted picks it up below
		}
		attempts := n.Attempts + 1
		if err := d.Store.MarkRetry(ctx, n.ID, attempts, now.Add(d.backoff(attempts))); err != nil {
			logger.Log.Error("delivery: mark retry failed",
				zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		if _, err := d.Push.Deliver(ctx, n); err != nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues("failed").Inc()
		}
	}

	expired, err := d.Store.ExpireExhausted(ctx, d.MaxAttempts, now.Add(-d.Retention))
	if err != nil {
		logger.Log.Error("delivery: expire failed", zap.Error(err))
		return
	}
	for _, n := range expired {
		metrics.NotificationsTotal.WithLabelValues("expired", n.Kind.String()).Inc()
		// operator-visible delivery-failure signal; the end user still finds
		// the content through the history API
		logger.Log.Warn("delivery: notification expired",
			zap.String("notification_id", n.ID),
			zap.String("recipient_id", n.RecipientID),
			zap.String("event_id", n.EventID),
			zap.Int("attempts", n.Attempts))
		select {
		case audit <- repository.AuditRow{
			NotificationID: n.ID, RecipientID: n.RecipientID, EventID: n.EventID,
			Kind: n.Kind.String(), State: n.State.String(), Attempts: n.Attempts,
			OccurredAt: now,
		}:
		default:
		}
	}
}

// runAuditWriter does size/time-based flush of audit facts to ClickHouse.
func (d *Delivery) runAuditWriter(ctx context.Context, in <-chan repository.AuditRow) {
	if d.Audit == nil {
		for {
			select {
			case <-ctx.Done():
				return
			case <-in:
			}
		}
	}

	wait := d.AuditBatchWait
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	size := d.AuditBatchSize
	if size <= 0 {
		size = 200
	}

	tick := time.NewTicker(wait)
	defer tick.Stop()

	batch := make([]repository.AuditRow, 0, size)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.Audit.InsertBatch(context.Background(), batch); err != nil {
			logger.Log.Warn("delivery: audit batch insert failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case row, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= size {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}
