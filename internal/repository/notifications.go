package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/voxsocial/notifygw/internal/model"
)

// ErrStaleTransition is returned when a conditional state write matched no
// row, meaning a concurrent attempt already moved the notification forward.
// Callers treat it as a no-op, never as corruption.
var ErrStaleTransition = errors.New("stale notification state transition")

// NotificationsRepository is the outbox store: the durable per-recipient
// queue of undelivered or unacknowledged notifications.
type NotificationsRepository interface {
	// InsertPending writes a new PENDING notification. Inserting a duplicate
	// (recipient_id, event_id) pair is a silent no-op and reports created=false,
	// which is how bus redelivery stays idempotent.
	InsertPending(ctx context.Context, n model.Notification) (created bool, err error)

	// TransitionState performs the monotonic compare-and-swap
	// from -> to for a single notification id.
	TransitionState(ctx context.Context, id string, from, to model.NotificationState) error

	// Ack moves DELIVERED -> ACKED for the recipient's notification.
	Ack(ctx context.Context, recipientID, notificationID string) error

	// ListPending returns all PENDING notifications for a recipient in event
	// creation order, used for catch-up replay on reconnect.
	ListPending(ctx context.Context, recipientID string, limit int) ([]model.Notification, error)

	// ListDue returns PENDING notifications whose next_retry_at has passed,
	// across recipients, for the retry sweep.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)

	// MarkRetry bumps the attempt counter and schedules the next attempt.
	MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error

	// ReclaimUnacked reverts DELIVERED rows older than the ack timeout back
	// to PENDING. This is the one deliberate backward move in the lifecycle
	// and only the sweeper may perform it.
	ReclaimUnacked(ctx context.Context, olderThan time.Time) (int64, error)

	// ExpireExhausted marks rows as EXPIRED and returns them: PENDING rows
	// past the attempt bound, plus PENDING/DELIVERED rows past the retention
	// horizon. A DELIVERED row inside the ack window is never expired on
	// attempts alone; if the ack never comes, ReclaimUnacked reverts it to
	// PENDING first and the next sweep expires it.
	ExpireExhausted(ctx context.Context, maxAttempts int, retentionBefore time.Time) ([]model.Notification, error)
}

type NotificationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewNotificationsRepository(db *sqlx.DB) *NotificationsRepositoryImpl {
	return &NotificationsRepositoryImpl{db: db}
}

var _ NotificationsRepository = (*NotificationsRepositoryImpl)(nil)

func (r *NotificationsRepositoryImpl) InsertPending(ctx context.Context, n model.Notification) (bool, error) {
	const q = `
		INSERT INTO notifications
		    (id, recipient_id, event_id, kind, actor_id, target_id, state,
		     attempts, next_retry_at, event_created_at, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, 'pending', 0, NOW(), ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE id = id
	`
	res, err := r.db.ExecContext(ctx, q,
		n.ID, n.RecipientID, n.EventID, n.Kind.String(), n.ActorID, n.TargetID,
		n.EventCreatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// MySQL reports 0 affected rows for the ON DUPLICATE no-op form above.
	return affected > 0, nil
}

func (r *NotificationsRepositoryImpl) TransitionState(ctx context.Context, id string, from, to model.NotificationState) error {
	if !from.CanTransitionTo(to) {
		return ErrStaleTransition
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		   SET state = ?, updated_at = NOW()
		 WHERE id = ? AND state = ?
	`, to.String(), id, from.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *NotificationsRepositoryImpl) Ack(ctx context.Context, recipientID, notificationID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		   SET state = 'acked', updated_at = NOW()
		 WHERE id = ? AND recipient_id = ? AND state = 'delivered'
	`, notificationID, recipientID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *NotificationsRepositoryImpl) ListPending(ctx context.Context, recipientID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var rows []model.Notification
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, recipient_id, event_id, kind, actor_id, target_id, state,
		       attempts, next_retry_at, event_created_at, created_at, updated_at
		  FROM notifications
		 WHERE recipient_id = ? AND state = 'pending'
		 ORDER BY event_created_at, id
		 LIMIT ?
	`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *NotificationsRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []model.Notification
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, recipient_id, event_id, kind, actor_id, target_id, state,
		       attempts, next_retry_at, event_created_at, created_at, updated_at
		  FROM notifications
		 WHERE state = 'pending' AND next_retry_at <= ?
		 ORDER BY event_created_at, id
		 LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *NotificationsRepositoryImpl) MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		   SET attempts = ?, next_retry_at = ?, updated_at = NOW()
		 WHERE id = ? AND state = 'pending'
	`, attempts, nextRetryAt, id)
	return err
}

func (r *NotificationsRepositoryImpl) ReclaimUnacked(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		   SET state = 'pending', updated_at = NOW()
		 WHERE state = 'delivered' AND updated_at < ?
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *NotificationsRepositoryImpl) ExpireExhausted(ctx context.Context, maxAttempts int, retentionBefore time.Time) ([]model.Notification, error) {
	// select-then-update so the expired rows can be reported to the audit log
	var rows []model.Notification
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, recipient_id, event_id, kind, actor_id, target_id, state,
		       attempts, next_retry_at, event_created_at, created_at, updated_at
		  FROM notifications
		 WHERE (state = 'pending' AND attempts >= ?)
		    OR (state IN ('pending', 'delivered') AND created_at < ?)
	`, maxAttempts, retentionBefore)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, n := range rows {
		ids = append(ids, n.ID)
	}
	query, args, err := sqlx.In(`
		UPDATE notifications
		   SET state = 'expired', updated_at = NOW()
		 WHERE id IN (?) AND state IN ('pending', 'delivered')
	`, ids)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].State = model.StateExpired
	}
	return rows, nil
}
