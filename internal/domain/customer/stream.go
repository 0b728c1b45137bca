package customer

import "iter"

// ScanStats describes how a stream was produced.
type ScanStats struct {
	Pages     int
	Items     int
	Truncated bool
	Fallback  bool
}

// RecordStream is a lazily evaluated sequence of source records. Iteration
// stops at the first error; the error is yielded once as the last element.
type RecordStream interface {
	Records() iter.Seq2[ExternalRecord, error]
	Stats() ScanStats
}
