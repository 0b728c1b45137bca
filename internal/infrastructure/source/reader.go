package source

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/crmsync/backend/internal/domain/customer"
)

// Reader exposes record sequences over a PageFetcher.
type Reader struct {
	fetcher        PageFetcher
	pageSize       int
	maxPages       int
	safeguardPages int
	logger         *zap.Logger
}

// NewReader creates a reader. Zero sizes fall back to the package defaults.
func NewReader(fetcher PageFetcher, pageSize, maxPages, safeguardPages int, logger *zap.Logger) *Reader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if safeguardPages <= 0 {
		safeguardPages = DefaultSafeguardPages
	}
	if maxPages < 0 {
		maxPages = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		fetcher:        fetcher,
		pageSize:       pageSize,
		maxPages:       maxPages,
		safeguardPages: safeguardPages,
		logger:         logger.Named("reader"),
	}
}

// NewClientReader wires a Reader to a Client using the client's configuration.
func NewClientReader(c *Client, logger *zap.Logger) *Reader {
	cfg := c.Config()
	return NewReader(c, cfg.PageSize, cfg.MaxPages, cfg.SafeguardPages, logger)
}

// Scan is a restartable record sequence. Each call to Records starts a new
// scan and resets Stats.
type Scan struct {
	run   func(yield func(customer.ExternalRecord, error) bool, st *customer.ScanStats)
	stats customer.ScanStats
}

var _ customer.RecordStream = (*Scan)(nil)

// Records returns the sequence. An error is yielded once and ends the scan.
func (s *Scan) Records() iter.Seq2[customer.ExternalRecord, error] {
	return func(yield func(customer.ExternalRecord, error) bool) {
		s.stats = customer.ScanStats{}
		s.run(yield, &s.stats)
	}
}

// Stats describes the last scan.
func (s *Scan) Stats() customer.ScanStats {
	return s.stats
}

// StreamAll pages forward from skip=0 until an empty page. When the page
// ceiling is reached the scan stops early and Stats().Truncated is set.
func (r *Reader) StreamAll(ctx context.Context) customer.RecordStream {
	return &Scan{run: func(yield func(customer.ExternalRecord, error) bool, st *customer.ScanStats) {
		skip := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if r.maxPages > 0 && st.Pages >= r.maxPages {
				st.Truncated = true
				r.logger.Warn("Page ceiling reached, stopping full scan",
					zap.Int("max_pages", r.maxPages),
					zap.Int("skip", skip),
				)
				return
			}

			page, err := r.fetcher.FetchPage(ctx, skip, r.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page.Items) == 0 {
				r.logger.Info("Full scan finished", zap.Int("pages", st.Pages), zap.Int("items", st.Items))
				return
			}

			st.Pages++
			r.logger.Debug("Page scanned", zap.Int("page", st.Pages), zap.Int("skip", skip), zap.Int("items", len(page.Items)))
			for _, item := range page.Items {
				st.Items++
				if !yield(item, nil) {
					return
				}
			}
			skip += len(page.Items)
		}
	}}
}

// StreamChangedToday yields records whose registration date equals day
// (YYYY-MM-DD). It scans backward from the last page and falls back to a
// bounded forward scan when the backward scan fails.
func (r *Reader) StreamChangedToday(ctx context.Context, day string) customer.RecordStream {
	return &Scan{run: func(yield func(customer.ExternalRecord, error) bool, st *customer.ScanStats) {
		seen := make(map[string]struct{})
		emit := func(item customer.ExternalRecord) bool {
			if id, err := item.ExternalID(); err == nil {
				if _, dup := seen[id]; dup {
					return true
				}
				seen[id] = struct{}{}
			}
			st.Items++
			return yield(item, nil)
		}

		stopped, err := r.scanBackward(ctx, day, st, emit)
		if stopped || err == nil {
			return
		}

		r.logger.Warn("Backward scan failed, falling back to forward scan",
			zap.String("date", day),
			zap.Error(err),
		)
		st.Fallback = true
		if _, err := r.scanForward(ctx, day, st, emit); err != nil {
			yield(nil, err)
		}
	}}
}

// scanBackward returns stopped=true when the consumer ended iteration.
func (r *Reader) scanBackward(ctx context.Context, day string, st *customer.ScanStats, emit func(customer.ExternalRecord) bool) (bool, error) {
	count, err := CountRecords(ctx, r.fetcher)
	if err != nil {
		return false, err
	}
	if count <= 0 {
		return false, nil
	}

	pageSize := int64(r.pageSize)
	skip := ((count - 1) / pageSize) * pageSize
	matchedBefore := false

	for scanned := 0; scanned < r.safeguardPages && skip >= 0; scanned++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		page, err := r.fetcher.FetchPage(ctx, int(skip), r.pageSize)
		if err != nil {
			return false, err
		}
		if len(page.Items) == 0 {
			return false, nil
		}
		st.Pages++

		matches := 0
		for _, item := range page.Items {
			if !item.RegisteredOn(day) {
				continue
			}
			matches++
			if !emit(item) {
				return true, nil
			}
		}
		r.logger.Debug("Backward page scanned", zap.Int64("skip", skip), zap.Int("matches", matches))

		if matches == 0 && matchedBefore {
			return false, nil
		}
		if matches > 0 {
			matchedBefore = true
		}
		skip -= pageSize
	}
	return false, nil
}

func (r *Reader) scanForward(ctx context.Context, day string, st *customer.ScanStats, emit func(customer.ExternalRecord) bool) (bool, error) {
	skip := 0
	for scanned := 0; scanned < r.safeguardPages; scanned++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		page, err := r.fetcher.FetchPage(ctx, skip, r.pageSize)
		if err != nil {
			return false, err
		}
		if len(page.Items) == 0 {
			return false, nil
		}
		st.Pages++

		for _, item := range page.Items {
			if item.RegisteredOn(day) && !emit(item) {
				return true, nil
			}
		}
		if oldest, ok := customer.OldestRegistrationDay(page.Items); ok && oldest < day {
			r.logger.Debug("Forward scan reached older records", zap.Int("skip", skip), zap.String("oldest", oldest))
			return false, nil
		}
		skip += len(page.Items)
	}
	return false, nil
}
