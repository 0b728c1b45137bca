package models

import (
	"time"

	"github.com/crmsync/backend/internal/domain/customer"
)

// CachedCustomerModel is the persistence model for the cached customer.
// One row per external identity.
type CachedCustomerModel struct {
	ID               int64      `gorm:"primaryKey;autoIncrement"`
	ExternalID       string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_customers_external_id"`
	Name             string     `gorm:"type:varchar(255)"`
	SecondName       string     `gorm:"type:varchar(255)"`
	Surname          string     `gorm:"type:varchar(255)"`
	Email            string     `gorm:"type:varchar(255)"`
	Mobile           string     `gorm:"type:varchar(64)"`
	Phone            string     `gorm:"type:varchar(64)"`
	City             string     `gorm:"type:varchar(255)"`
	State            string     `gorm:"type:varchar(64)"`
	RegistrationDate string     `gorm:"type:varchar(32)"`
	UpdateTime       string     `gorm:"type:varchar(32)"`
	RawJSON          string     `gorm:"type:text;not null;default:'{}'"`
	Synced           bool       `gorm:"not null;default:false;index:idx_customers_synced"`
	SyncedAt         *time.Time `gorm:"index"`
	CRMContactID     *string    `gorm:"type:varchar(64);column:crm_contact_id"`
	CRMDealID        *string    `gorm:"type:varchar(64);column:crm_deal_id"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CachedCustomerModel) TableName() string {
	return "customers"
}

// ToDomain converts the persistence model to a domain Customer.
func (m *CachedCustomerModel) ToDomain() *customer.Customer {
	c := &customer.Customer{
		ID:               m.ID,
		ExternalID:       m.ExternalID,
		Name:             m.Name,
		SecondName:       m.SecondName,
		Surname:          m.Surname,
		Email:            m.Email,
		Mobile:           m.Mobile,
		Phone:            m.Phone,
		City:             m.City,
		State:            m.State,
		RegistrationDate: m.RegistrationDate,
		UpdateTime:       m.UpdateTime,
		RawSnapshot:      m.RawJSON,
		Synced:           m.Synced,
		SyncedAt:         m.SyncedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.CRMContactID != nil {
		c.CRMContactID = *m.CRMContactID
	}
	if m.CRMDealID != nil {
		c.CRMDealID = *m.CRMDealID
	}
	return c
}

// FromDomain populates the persistence model from a domain Customer.
func (m *CachedCustomerModel) FromDomain(c *customer.Customer) {
	m.ID = c.ID
	m.ExternalID = c.ExternalID
	m.Name = c.Name
	m.SecondName = c.SecondName
	m.Surname = c.Surname
	m.Email = c.Email
	m.Mobile = c.Mobile
	m.Phone = c.Phone
	m.City = c.City
	m.State = c.State
	m.RegistrationDate = c.RegistrationDate
	m.UpdateTime = c.UpdateTime
	m.RawJSON = c.RawSnapshot
	m.Synced = c.Synced
	m.SyncedAt = c.SyncedAt
	m.CRMContactID = nullable(c.CRMContactID)
	m.CRMDealID = nullable(c.CRMDealID)
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
}

// RawColumns returns the columns refreshed by an upsert. Sync-state columns
// are never part of it.
func (m *CachedCustomerModel) RawColumns() map[string]any {
	return map[string]any{
		"name":              m.Name,
		"second_name":       m.SecondName,
		"surname":           m.Surname,
		"email":             m.Email,
		"mobile":            m.Mobile,
		"phone":             m.Phone,
		"city":              m.City,
		"state":             m.State,
		"registration_date": m.RegistrationDate,
		"update_time":       m.UpdateTime,
		"raw_json":          m.RawJSON,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
