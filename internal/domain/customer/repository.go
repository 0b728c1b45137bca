package customer

import (
	"context"
	"time"
)

// Watermark labels.
const (
	LabelFull        = "full"
	LabelIncremental = "incremental"
	LabelFile        = "file"

	WatermarkLastPush = "last_push_at"
)

// ImportWatermark returns the watermark key written after an import run.
func ImportWatermark(label string) string {
	return "last_" + label + "_import_at"
}

// Counts summarizes the cache.
type Counts struct {
	Total    int64
	Synced   int64
	Unsynced int64
}

// Store is the Local Upsert Store port.
type Store interface {
	// BeginImport opens a batched import session.
	BeginImport(ctx context.Context) (ImportSession, error)
	// ListUnsynced returns unsynced customers in insertion order. limit <= 0 means no cap.
	ListUnsynced(ctx context.Context, limit int) ([]*Customer, error)
	// FindByExternalID loads one customer.
	FindByExternalID(ctx context.Context, externalID string) (*Customer, error)
	// SaveContactID links a CRM contact. An existing link is never overwritten.
	SaveContactID(ctx context.Context, c *Customer, contactID string) error
	// MarkSynced sets both CRM ids, synced and syncedAt in one write.
	MarkSynced(ctx context.Context, c *Customer, contactID, dealID string, at time.Time) error
	// Counts returns cache totals.
	Counts(ctx context.Context) (Counts, error)

	WatermarkStore
}

// WatermarkStore persists label to value markers.
type WatermarkStore interface {
	SetWatermark(ctx context.Context, label, value string) error
	// GetWatermark returns ok=false when the label was never written.
	GetWatermark(ctx context.Context, label string) (value string, ok bool, err error)
	Watermarks(ctx context.Context) (map[string]string, error)
}

// ImportSession batches upserts. Each Upsert is isolated so a failing record
// does not abort the batch; Flush makes progress durable.
type ImportSession interface {
	Upsert(ctx context.Context, rec ExternalRecord) (*Customer, error)
	Flush(ctx context.Context) error
	// Close flushes pending work and releases the session.
	Close(ctx context.Context) error
	// Abort discards unflushed work.
	Abort() error
}
