package syncsvc

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/logger"
)

// LogObserver writes sync events to a zap logger.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a LogObserver
func NewLogObserver(log *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger.OrNop(log).Named("events")}
}

var eventLevels = map[customer.EventKind]zapcore.Level{
	customer.EventImported:      zapcore.DebugLevel,
	customer.EventContactReused: zapcore.DebugLevel,
	customer.EventProgress:      zapcore.InfoLevel,
	customer.EventContactLinked: zapcore.InfoLevel,
	customer.EventSynced:        zapcore.InfoLevel,
	customer.EventEmailDropped:  zapcore.WarnLevel,
	customer.EventSkipped:       zapcore.WarnLevel,
	customer.EventTruncated:     zapcore.WarnLevel,
	customer.EventImportFailed:  zapcore.ErrorLevel,
	customer.EventContactFailed: zapcore.ErrorLevel,
	customer.EventDealFailed:    zapcore.ErrorLevel,
}

var eventMessages = map[customer.EventKind]string{
	customer.EventImported:      "Record imported",
	customer.EventContactReused: "Reusing cached CRM contact",
	customer.EventProgress:      "Import progress",
	customer.EventContactLinked: "CRM contact linked",
	customer.EventSynced:        "Customer synced",
	customer.EventEmailDropped:  "CRM rejected email, retrying without it",
	customer.EventSkipped:       "Customer skipped",
	customer.EventTruncated:     "Source scan stopped at the page limit",
	customer.EventImportFailed:  "Failed to import record",
	customer.EventContactFailed: "Failed to create or update CRM contact",
	customer.EventDealFailed:    "Failed to create CRM deal",
}

// Observe implements customer.Observer.
func (o *LogObserver) Observe(e customer.Event) {
	level, ok := eventLevels[e.Kind]
	if !ok {
		level = zapcore.InfoLevel
	}
	// a rejected record is expected noise; anything else keeps error level
	if level == zapcore.ErrorLevel && customer.IsRecordLevel(e.Err) {
		level = zapcore.WarnLevel
	}
	msg, ok := eventMessages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}
	ce := o.logger.Check(level, msg)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, 6)
	fields = append(fields, zap.String("event", string(e.Kind)))
	if e.ExternalID != "" {
		fields = append(fields, zap.String("external_id", e.ExternalID))
	}
	if e.ContactID != "" {
		fields = append(fields, zap.String("contact_id", e.ContactID))
	}
	if e.DealID != "" {
		fields = append(fields, zap.String("deal_id", e.DealID))
	}
	if e.Count > 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	ce.Write(fields...)
}

// Observers fans an event out to every observer.
type Observers []customer.Observer

// Observe implements customer.Observer.
func (os Observers) Observe(e customer.Event) {
	for _, o := range os {
		if o != nil {
			o.Observe(e)
		}
	}
}

// Tally counts events by kind. It is safe for concurrent use.
type Tally struct {
	mu     sync.Mutex
	counts map[customer.EventKind]int
}

// Observe implements customer.Observer.
func (t *Tally) Observe(e customer.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = make(map[customer.EventKind]int)
	}
	t.counts[e.Kind]++
}

// Count returns how many events of kind were observed.
func (t *Tally) Count(kind customer.EventKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[kind]
}
