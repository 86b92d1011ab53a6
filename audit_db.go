package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// AuditRecord is the persisted form of an AuditEvent
type AuditRecord struct {
	bun.BaseModel `bun:"table:audit_events,alias:aev"`
	ID            int64          `bun:"id,pk,autoincrement" json:"id"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
	EventType     string         `bun:"event_type,notnull" json:"event_type"`
	Subject       string         `bun:"subject" json:"subject,omitempty"`
	Source        string         `bun:"source" json:"source,omitempty"`
	Reason        string         `bun:"reason" json:"reason,omitempty"`
	Detail        map[string]any `bun:"detail" json:"detail,omitempty"`
}

// DBSink stores audit events in the audit_events table
type DBSink struct {
	db *bun.DB
}

var _ AuditSink = (*DBSink)(nil)

// NewDBSink returns a sink writing to db
func NewDBSink(db *bun.DB) *DBSink {
	return &DBSink{db: db}
}

// EnsureSchema creates the audit table and its lookup indexes
func (d *DBSink) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.NewCreateTable().Model((*AuditRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create audit_events table")
	}

	indexes := map[string]string{
		"idx_audit_events_occurred_at": "occurred_at",
		"idx_audit_events_event_type":  "event_type",
		"idx_audit_events_subject":     "subject",
	}
	for name, column := range indexes {
		_, err := d.db.NewCreateIndex().
			Model((*AuditRecord)(nil)).
			Index(name).
			Column(column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create audit index")
		}
	}
	return nil
}

// Record implements AuditSink.
func (d *DBSink) Record(ctx context.Context, event AuditEvent) error {
	record := &AuditRecord{
		OccurredAt: event.OccurredAt.UTC(),
		EventType:  string(event.Type),
		Subject:    event.Subject,
		Source:     event.SourceAddress,
		Reason:     event.Reason,
		Detail:     event.Detail,
	}
	if _, err := d.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store audit event")
	}
	return nil
}

// Recent returns the latest audit records, newest first
func (d *DBSink) Recent(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []AuditRecord
	err := d.db.NewSelect().
		Model(&out).
		Order("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list audit events")
	}
	return out, nil
}
