package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/persistence/models"
)

const upsertSavepoint = "customer_upsert"

// ErrSessionClosed is returned when a closed import session is used.
var ErrSessionClosed = errors.New("persistence: import session closed")

// importSession batches upserts in one transaction. Every record runs inside
// its own savepoint, so a failing record is rolled back alone.
type importSession struct {
	db     *gorm.DB
	tx     *gorm.DB
	closed bool
}

func newImportSession(ctx context.Context, db *gorm.DB) (*importSession, error) {
	s := &importSession{db: db}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *importSession) begin(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin import transaction: %w", tx.Error)
	}
	s.tx = tx
	return nil
}

// Upsert inserts or merges one record
func (s *importSession) Upsert(ctx context.Context, rec customer.ExternalRecord) (*customer.Customer, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	externalID, err := rec.ExternalID()
	if err != nil {
		return nil, err
	}

	tx := s.tx.WithContext(ctx)
	if err := tx.SavePoint(upsertSavepoint).Error; err != nil {
		return nil, fmt.Errorf("savepoint for %s: %w", externalID, err)
	}

	c, err := upsertRecord(tx, externalID, rec)
	if err != nil {
		if rbErr := tx.RollbackTo(upsertSavepoint).Error; rbErr != nil {
			return nil, errors.Join(fmt.Errorf("upsert %s: %w", externalID, err), rbErr)
		}
		return nil, fmt.Errorf("upsert %s: %w", externalID, err)
	}
	if err := tx.Exec("RELEASE SAVEPOINT " + upsertSavepoint).Error; err != nil {
		return nil, fmt.Errorf("release savepoint for %s: %w", externalID, err)
	}

	return c, nil
}

func upsertRecord(tx *gorm.DB, externalID string, rec customer.ExternalRecord) (*customer.Customer, error) {
	var existing models.CachedCustomerModel
	err := tx.Where("external_id = ?", externalID).Take(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c, err := customer.NewFromRecord(rec)
		if err != nil {
			return nil, err
		}
		var row models.CachedCustomerModel
		row.FromDomain(c)
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return row.ToDomain(), nil

	case err != nil:
		return nil, err
	}

	c := existing.ToDomain()
	if err := c.Apply(rec); err != nil {
		return nil, err
	}
	var merged models.CachedCustomerModel
	merged.FromDomain(c)
	if err := tx.Model(&existing).Updates(merged.RawColumns()).Error; err != nil {
		return nil, err
	}
	c.UpdatedAt = existing.UpdatedAt
	return c, nil
}

// Flush commits the pending upserts and starts a new transaction
func (s *importSession) Flush(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.tx.Commit().Error; err != nil {
		s.closed = true
		return fmt.Errorf("commit import batch: %w", err)
	}
	return s.begin(ctx)
}

// Close commits pending upserts and ends the session
func (s *importSession) Close(_ context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit import batch: %w", err)
	}
	return nil
}

// Abort discards upserts since the last flush
func (s *importSession) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback import batch: %w", err)
	}
	return nil
}
