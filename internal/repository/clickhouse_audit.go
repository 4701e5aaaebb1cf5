package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/voxsocial/notifygw/internal/model"
)

// AuditRow is one delivery lifecycle fact written to ClickHouse. Operators
// read these; end users never see them.
type AuditRow struct {
	NotificationID string    `db:"notification_id"`
	RecipientID    string    `db:"recipient_id"`
	EventID        string    `db:"event_id"`
	Kind           string    `db:"kind"`
	State          string    `db:"state"`
	Attempts       int       `db:"attempts"`
	OccurredAt     time.Time `db:"occurred_at"`
}

// AuditRepository writes and lists delivery audit facts (ClickHouse).
type AuditRepository interface {
	InsertBatch(ctx context.Context, rows []AuditRow) error
	List(ctx context.Context, recipientID, state string, limit, offset int) ([]AuditRow, error)
}

type auditRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewAuditRepository(ch *sqlx.DB) AuditRepository {
	return &auditRepository{ch: ch}
}

func (r *auditRepository) InsertBatch(ctx context.Context, rows []AuditRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*7)

	sb.WriteString(`INSERT INTO notifygw.delivery_audit
		(notification_id, recipient_id, event_id, kind, state, attempts, occurred_at) VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, rw.NotificationID, rw.RecipientID, rw.EventID, rw.Kind, rw.State, rw.Attempts, rw.OccurredAt)
	}

	_, err := r.ch.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *auditRepository) List(ctx context.Context, recipientID, state string, limit, offset int) ([]AuditRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT notification_id, recipient_id, event_id, kind, state, attempts, occurred_at
		FROM notifygw.delivery_audit
		WHERE 1 = 1
	`
	args := []any{}

	if recipientID != "" {
		q += " AND recipient_id = ?"
		args = append(args, recipientID)
	}
	if st := model.NotificationState(state); st.Valid() {
		q += " AND state = ?"
		args = append(args, st.String())
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []AuditRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
