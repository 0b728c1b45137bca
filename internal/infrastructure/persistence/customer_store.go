package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/persistence/models"
)

// GormCustomerStore implements customer.Store using GORM
type GormCustomerStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormCustomerStore creates a new GormCustomerStore
func NewGormCustomerStore(db *gorm.DB) *GormCustomerStore {
	return &GormCustomerStore{db: db, now: time.Now}
}

var _ customer.Store = (*GormCustomerStore)(nil)

// BeginImport opens a transaction that batches upserts until Flush.
func (s *GormCustomerStore) BeginImport(ctx context.Context) (customer.ImportSession, error) {
	return newImportSession(ctx, s.db)
}

// ListUnsynced returns unsynced customers in insertion order
func (s *GormCustomerStore) ListUnsynced(ctx context.Context, limit int) ([]*customer.Customer, error) {
	var rows []models.CachedCustomerModel
	query := s.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list unsynced customers: %w", err)
	}

	out := make([]*customer.Customer, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// FindByExternalID finds a customer by its external id
func (s *GormCustomerStore) FindByExternalID(ctx context.Context, externalID string) (*customer.Customer, error) {
	var model models.CachedCustomerModel
	if err := s.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, customer.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveContactID links a CRM contact to the customer. When a contact id is
// already stored it is kept, and c is updated to carry it.
func (s *GormCustomerStore) SaveContactID(ctx context.Context, c *customer.Customer, contactID string) error {
	if contactID == "" {
		return fmt.Errorf("%w: empty contact id", customer.ErrValidation)
	}

	result := s.db.WithContext(ctx).
		Model(&models.CachedCustomerModel{}).
		Where("id = ? AND (crm_contact_id IS NULL OR crm_contact_id = '')", c.ID).
		Updates(map[string]any{
			"crm_contact_id": contactID,
			"updated_at":     s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("save contact id for %s: %w", c.ExternalID, result.Error)
	}
	if result.RowsAffected == 1 {
		c.CRMContactID = contactID
		return nil
	}

	current, err := s.FindByExternalID(ctx, c.ExternalID)
	if err != nil {
		return fmt.Errorf("reload %s: %w", c.ExternalID, err)
	}
	c.CRMContactID = current.CRMContactID
	return nil
}

// MarkSynced stores both CRM ids and flips synced in a single UPDATE. Only an
// unsynced row is updated, and a contact id already stored is kept.
func (s *GormCustomerStore) MarkSynced(ctx context.Context, c *customer.Customer, contactID, dealID string, at time.Time) error {
	at = at.UTC()
	result := s.db.WithContext(ctx).
		Model(&models.CachedCustomerModel{}).
		Where("id = ? AND synced = ?", c.ID, false).
		Updates(map[string]any{
			"crm_contact_id": gorm.Expr("CASE WHEN crm_contact_id IS NULL OR crm_contact_id = '' THEN ? ELSE crm_contact_id END", contactID),
			"crm_deal_id":    dealID,
			"synced":         true,
			"synced_at":      at,
			"updated_at":     s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("mark %s synced: %w", c.ExternalID, result.Error)
	}

	current, err := s.FindByExternalID(ctx, c.ExternalID)
	if err != nil {
		return fmt.Errorf("mark %s synced: %w", c.ExternalID, err)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("mark %s synced: %w", c.ExternalID, customer.ErrAlreadySynced)
	}

	c.CRMContactID = current.CRMContactID
	c.CRMDealID = dealID
	c.Synced = true
	c.SyncedAt = &at
	return nil
}

// Counts returns cache totals
func (s *GormCustomerStore) Counts(ctx context.Context) (customer.Counts, error) {
	var counts customer.Counts
	db := s.db.WithContext(ctx).Model(&models.CachedCustomerModel{})
	if err := db.Count(&counts.Total).Error; err != nil {
		return counts, fmt.Errorf("count customers: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&models.CachedCustomerModel{}).
		Where("synced = ?", true).
		Count(&counts.Synced).Error; err != nil {
		return counts, fmt.Errorf("count synced customers: %w", err)
	}
	counts.Unsynced = counts.Total - counts.Synced
	return counts, nil
}

// SetWatermark creates or overwrites a watermark
func (s *GormCustomerStore) SetWatermark(ctx context.Context, label, value string) error {
	row := models.WatermarkModel{Label: label, Value: value, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "label"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", label, err)
	}
	return nil
}

// GetWatermark returns ok=false when the label was never written
func (s *GormCustomerStore) GetWatermark(ctx context.Context, label string) (string, bool, error) {
	var row models.WatermarkModel
	err := s.db.WithContext(ctx).Where("label = ?", label).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get watermark %s: %w", label, err)
	}
	return row.Value, true, nil
}

// Watermarks returns every stored watermark
func (s *GormCustomerStore) Watermarks(ctx context.Context) (map[string]string, error) {
	var rows []models.WatermarkModel
	if err := s.db.WithContext(ctx).Order("label ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Label] = row.Value
	}
	return out, nil
}
