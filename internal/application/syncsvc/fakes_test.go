package syncsvc

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/config"
	"github.com/crmsync/backend/internal/infrastructure/persistence"
)

// fakeCRM is an in-memory CRMGateway
type fakeCRM struct {
	mu sync.Mutex

	contacts map[string]customer.ContactDraft
	deals    map[string]customer.DealDraft
	nextID   int

	// existing maps a phone or email to a pre-existing contact id
	existing map[string]string

	rejectEmail bool
	contactErr  error
	dealErr     error

	findCalls   int
	createCalls int
	updateCalls int
	dealCalls   int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		contacts: make(map[string]customer.ContactDraft),
		deals:    make(map[string]customer.DealDraft),
		existing: make(map[string]string),
		nextID:   100,
	}
}

func (f *fakeCRM) id() string {
	f.nextID++
	return fmt.Sprint(f.nextID)
}

func (f *fakeCRM) FindContact(_ context.Context, phone, email string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.contactErr != nil {
		return "", false, f.contactErr
	}
	for _, key := range []string{phone, email} {
		if key == "" {
			continue
		}
		if id, ok := f.existing[key]; ok {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeCRM) CreateContact(_ context.Context, draft customer.ContactDraft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.rejectEmail && draft.Email != "" {
		return "", customer.ErrInvalidEmail
	}
	id := f.id()
	f.contacts[id] = draft
	return id, nil
}

func (f *fakeCRM) UpdateContact(_ context.Context, id string, draft customer.ContactDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.rejectEmail && draft.Email != "" {
		return customer.ErrInvalidEmail
	}
	f.contacts[id] = draft
	return nil
}

func (f *fakeCRM) CreateDeal(_ context.Context, draft customer.DealDraft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dealCalls++
	if f.dealErr != nil {
		return "", f.dealErr
	}
	id := f.id()
	f.deals[id] = draft
	return id, nil
}

// sliceStream replays records, then optional err
type sliceStream struct {
	records []customer.ExternalRecord
	err     error
	stats   customer.ScanStats
}

func (s *sliceStream) Records() iter.Seq2[customer.ExternalRecord, error] {
	return func(yield func(customer.ExternalRecord, error) bool) {
		for _, rec := range s.records {
			s.stats.Items++
			if !yield(rec, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func (s *sliceStream) Stats() customer.ScanStats { return s.stats }

// fakeSource serves fixed streams and records the requested day
type fakeSource struct {
	all     *sliceStream
	today   *sliceStream
	lastDay string
}

func (f *fakeSource) StreamAll(context.Context) customer.RecordStream {
	return f.all
}

func (f *fakeSource) StreamChangedToday(_ context.Context, day string) customer.RecordStream {
	f.lastDay = day
	return f.today
}

func newTestStore(t *testing.T) *persistence.GormCustomerStore {
	t.Helper()
	db, err := persistence.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return persistence.NewGormCustomerStore(db.DB)
}

var testDeal = DealSettings{
	CategoryID: "7",
	StageID:    "C7:NEW",
	Fields: DealFieldIDs{
		ExternalID:       "UF_EXT",
		TaxID:            "UF_INN",
		Balance:          "UF_SALDO",
		RegistrationDate: "UF_REG",
		UpdateTime:       "UF_UPD",
	},
}

func seed(t *testing.T, store customer.Store, recs ...customer.ExternalRecord) {
	t.Helper()
	ctx := context.Background()
	session, err := store.BeginImport(ctx)
	require.NoError(t, err)
	for _, rec := range recs {
		_, err := session.Upsert(ctx, rec)
		require.NoError(t, err)
	}
	require.NoError(t, session.Close(ctx))
}
