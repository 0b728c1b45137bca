package customer

// EventKind identifies a record outcome.
type EventKind string

const (
	EventImported      EventKind = "imported"
	EventImportFailed  EventKind = "import_failed"
	EventContactReused EventKind = "contact_reused"
	EventContactLinked EventKind = "contact_linked"
	EventEmailDropped  EventKind = "email_dropped"
	EventSkipped       EventKind = "skipped"
	EventSynced        EventKind = "synced"
	EventContactFailed EventKind = "contact_failed"
	EventDealFailed    EventKind = "deal_failed"
	EventTruncated     EventKind = "truncated"
	EventProgress      EventKind = "progress"
)

// Event is emitted by the sync engine for each notable record outcome.
type Event struct {
	Kind       EventKind
	ExternalID string
	ContactID  string
	DealID     string
	Count      int
	Err        error
}

// Observer receives sync events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }

// NopObserver discards events.
type NopObserver struct{}

// Observe implements Observer.
func (NopObserver) Observe(Event) {}
