package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/crmsync/backend/internal/domain/customer"
)

func records(ids ...string) []customer.ExternalRecord {
	recs := make([]customer.ExternalRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, customer.ExternalRecord{"userId": id, "name": "Name " + id, "phone": "8900123450" + id})
	}
	return recs
}

func newTestService(t *testing.T, src Source, store customer.Store, crm customer.CRMGateway, obs customer.Observer, opts Options) *Service {
	t.Helper()
	var rec *Reconciler
	if crm != nil {
		rec = newTestReconciler(t, crm, store, obs)
	}
	svc := NewService(src, store, rec, obs, zap.NewNop(), opts)
	svc.now = func() time.Time { return time.Date(2024, 5, 31, 22, 30, 0, 0, time.UTC) }
	return svc
}

func TestService_ImportAll(t *testing.T) {
	ctx := context.Background()

	t.Run("imports every record and writes the watermark", func(t *testing.T) {
		store := newTestStore(t)
		tally := &Tally{}
		src := &fakeSource{all: &sliceStream{records: records("1", "2", "3")}}
		svc := newTestService(t, src, store, nil, tally, Options{CommitEvery: 2, ProgressEvery: 2})

		res, err := svc.ImportAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, customer.LabelFull, res.Label)
		assert.Equal(t, 3, res.Processed)
		assert.Equal(t, 3, res.Imported)
		assert.Zero(t, res.Failed)
		assert.NotEmpty(t, res.RunID)
		assert.Equal(t, 1, tally.Count(customer.EventProgress))

		counts, err := svc.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), counts.Total)
		assert.Equal(t, int64(3), counts.Unsynced)

		marks, err := svc.Watermarks(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2024-05-31T22:30:00Z", marks[customer.ImportWatermark(customer.LabelFull)])
	})

	t.Run("a bad record does not stop the import", func(t *testing.T) {
		store := newTestStore(t)
		tally := &Tally{}
		recs := append(records("1"), customer.ExternalRecord{"name": "no identity"})
		recs = append(recs, records("2")...)
		svc := newTestService(t, &fakeSource{all: &sliceStream{records: recs}}, store, nil, tally, Options{})

		res, err := svc.ImportAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Processed)
		assert.Equal(t, 2, res.Imported)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, 1, tally.Count(customer.EventImportFailed))
		assert.Equal(t, 2, tally.Count(customer.EventImported))
	})

	t.Run("a stream error keeps earlier records and skips the watermark", func(t *testing.T) {
		store := newTestStore(t)
		boom := fmt.Errorf("%w: page 3", customer.ErrTransientNetwork)
		src := &fakeSource{all: &sliceStream{records: records("1", "2"), err: boom}}
		svc := newTestService(t, src, store, nil, nil, Options{})

		res, err := svc.ImportAll(ctx)
		require.ErrorIs(t, err, customer.ErrTransientNetwork)
		assert.Equal(t, 2, res.Imported)

		counts, err := store.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Total)

		_, ok, err := store.GetWatermark(ctx, customer.ImportWatermark(customer.LabelFull))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reports truncation", func(t *testing.T) {
		tally := &Tally{}
		src := &fakeSource{all: &sliceStream{records: records("1"), stats: customer.ScanStats{Pages: 20, Truncated: true}}}
		svc := newTestService(t, src, newTestStore(t), nil, tally, Options{})

		res, err := svc.ImportAll(ctx)
		require.NoError(t, err)
		assert.True(t, res.Stats.Truncated)
		assert.Equal(t, 1, tally.Count(customer.EventTruncated))
	})

	t.Run("needs a source", func(t *testing.T) {
		svc := newTestService(t, nil, newTestStore(t), nil, nil, Options{})
		_, err := svc.ImportAll(ctx)
		assert.ErrorIs(t, err, customer.ErrConfiguration)
	})
}

func TestService_ImportChangedToday(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to today in the source timezone", func(t *testing.T) {
		src := &fakeSource{today: &sliceStream{records: records("4")}}
		svc := newTestService(t, src, newTestStore(t), nil, nil, Options{SourceLocation: time.FixedZone("MSK", 3*60*60)})

		res, err := svc.ImportChangedToday(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, customer.LabelIncremental, res.Label)
		// 22:30 UTC is already the next day in Moscow
		assert.Equal(t, "2024-06-01", src.lastDay)
	})

	t.Run("rejects a malformed date", func(t *testing.T) {
		src := &fakeSource{today: &sliceStream{}}
		svc := newTestService(t, src, newTestStore(t), nil, nil, Options{})
		_, err := svc.ImportChangedToday(ctx, "01.06.2024")
		assert.ErrorIs(t, err, customer.ErrValidation)
		assert.Empty(t, src.lastDay)
	})
}

func TestService_ImportFromFile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newTestService(t, nil, store, nil, nil, Options{})

	res, err := svc.ImportFromFile(ctx, &sliceStream{records: records("1", "2", "3", "4", "5")}, 2)
	require.NoError(t, err)
	assert.Equal(t, customer.LabelFile, res.Label)
	assert.Equal(t, 5, res.Imported)

	_, ok, err := store.GetWatermark(ctx, customer.ImportWatermark(customer.LabelFile))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_PushUnsynced(t *testing.T) {
	ctx := context.Background()

	t.Run("syncs every record exactly once", func(t *testing.T) {
		store := newTestStore(t)
		crm := newFakeCRM()
		seed(t, store, records("1", "2", "3")...)
		svc := newTestService(t, nil, store, crm, nil, Options{})

		res, err := svc.PushUnsynced(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, PushResult{RunID: res.RunID, Attempted: 3, Synced: 3}, res)
		assert.Equal(t, 3, crm.createCalls)
		assert.Equal(t, 3, crm.dealCalls)

		// a second run has nothing left to do
		res, err = svc.PushUnsynced(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, res.Attempted)
		assert.Equal(t, 3, crm.dealCalls)

		value, ok, err := store.GetWatermark(ctx, customer.WatermarkLastPush)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2024-05-31T22:30:00Z", value)
	})

	t.Run("honors the limit", func(t *testing.T) {
		store := newTestStore(t)
		crm := newFakeCRM()
		seed(t, store, records("1", "2", "3")...)
		svc := newTestService(t, nil, store, crm, nil, Options{BatchLimit: 1})

		res, err := svc.PushUnsynced(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Synced)

		res, err = svc.PushUnsynced(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Synced)
	})

	t.Run("record failures are counted, not returned", func(t *testing.T) {
		store := newTestStore(t)
		crm := newFakeCRM()
		crm.dealErr = fmt.Errorf("%w: bad stage", customer.ErrCRMRequestFailed)
		seed(t, store, records("1", "2")...)
		svc := newTestService(t, nil, store, crm, nil, Options{})

		res, err := svc.PushUnsynced(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempted)
		assert.Equal(t, 2, res.Failed)

		counts, err := store.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Unsynced)
	})

	t.Run("stops when the CRM is unavailable", func(t *testing.T) {
		store := newTestStore(t)
		crm := newFakeCRM()
		crm.contactErr = fmt.Errorf("%w: circuit open", customer.ErrUnavailable)
		seed(t, store, records("1", "2", "3")...)
		svc := newTestService(t, nil, store, crm, nil, Options{})

		res, err := svc.PushUnsynced(ctx, 0)
		require.ErrorIs(t, err, customer.ErrUnavailable)
		assert.Equal(t, 1, res.Attempted)
		assert.Equal(t, 1, crm.findCalls)

		_, ok, err := store.GetWatermark(ctx, customer.WatermarkLastPush)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		store := newTestStore(t)
		seed(t, store, records("1")...)
		svc := newTestService(t, nil, store, newFakeCRM(), nil, Options{})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.PushUnsynced(cctx, 0)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("needs a reconciler", func(t *testing.T) {
		svc := newTestService(t, nil, newTestStore(t), nil, nil, Options{})
		_, err := svc.PushUnsynced(ctx, 0)
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestService_Run(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	crm := newFakeCRM()
	src := &fakeSource{all: &sliceStream{records: records("1", "2")}}
	svc := newTestService(t, src, store, crm, nil, Options{})

	imported, pushed, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, imported.Imported)
	assert.Equal(t, 2, pushed.Synced)

	// re-importing the same page keeps the sync state
	src.all = &sliceStream{records: records("1", "2")}
	_, pushed, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, pushed.Attempted)
	assert.Equal(t, 2, crm.dealCalls)
}

func TestService_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes even when the import fails", func(t *testing.T) {
		store := newTestStore(t)
		crm := newFakeCRM()
		seed(t, store, records("1")...)
		src := &fakeSource{today: &sliceStream{err: fmt.Errorf("%w: boom", customer.ErrTransientNetwork)}}
		svc := newTestService(t, src, store, crm, nil, Options{})

		err := svc.Tick(ctx)
		assert.ErrorIs(t, err, customer.ErrTransientNetwork)
		assert.Equal(t, 1, crm.dealCalls)
	})

	t.Run("imports today then pushes", func(t *testing.T) {
		store := newTestStore(t)
		crm := newFakeCRM()
		src := &fakeSource{today: &sliceStream{records: records("5")}}
		svc := newTestService(t, src, store, crm, nil, Options{})

		require.NoError(t, svc.Tick(ctx))
		assert.Equal(t, 1, crm.dealCalls)
	})
}

func TestService_EnsureFullImport(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := &fakeSource{all: &sliceStream{records: records("1")}}
	svc := newTestService(t, src, store, nil, nil, Options{})

	ran, err := svc.EnsureFullImport(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = svc.EnsureFullImport(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestLogObserver(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	obs := NewLogObserver(zap.New(core))

	obs.Observe(customer.Event{Kind: customer.EventSynced, ExternalID: "1", ContactID: "2", DealID: "3"})
	obs.Observe(customer.Event{Kind: customer.EventDealFailed, ExternalID: "4", Err: errors.New("boom")})
	obs.Observe(customer.Event{Kind: customer.EventProgress, Count: 100})
	obs.Observe(customer.Event{Kind: customer.EventImportFailed, Err: customer.ErrMissingIdentity})

	require.Equal(t, 4, logs.Len())
	entries := logs.All()

	assert.Equal(t, "Customer synced", entries[0].Message)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "3", entries[0].ContextMap()["deal_id"])

	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])

	assert.Equal(t, int64(100), entries[2].ContextMap()["count"])

	assert.Equal(t, "Failed to import record", entries[3].Message)
	assert.Equal(t, zap.WarnLevel, entries[3].Level)
}

func TestObservers_FanOut(t *testing.T) {
	a, b := &Tally{}, &Tally{}
	Observers{a, nil, b}.Observe(customer.Event{Kind: customer.EventSkipped})
	assert.Equal(t, 1, a.Count(customer.EventSkipped))
	assert.Equal(t, 1, b.Count(customer.EventSkipped))
}
