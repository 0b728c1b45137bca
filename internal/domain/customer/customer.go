package customer

import (
	"time"
)

// Customer is the durable projection of the latest ExternalRecord seen for an
// external identity. Raw fields are only changed through Apply; sync-state
// fields are only changed through the Store.
type Customer struct {
	ID         int64
	ExternalID string

	Name             string
	SecondName       string
	Surname          string
	Email            string
	Mobile           string
	Phone            string
	City             string
	State            string
	RegistrationDate string
	UpdateTime       string

	RawSnapshot string

	Synced       bool
	SyncedAt     *time.Time
	CRMContactID string
	CRMDealID    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFromRecord builds a new Customer from its first sighting.
func NewFromRecord(rec ExternalRecord) (*Customer, error) {
	id, err := rec.ExternalID()
	if err != nil {
		return nil, err
	}
	c := &Customer{ExternalID: id}
	if err := c.Apply(rec); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply merges rec into c. A field is overwritten only when rec carries a
// non-empty value for it. The raw snapshot is always replaced.
func (c *Customer) Apply(rec ExternalRecord) error {
	snapshot, err := rec.Snapshot()
	if err != nil {
		return err
	}
	for key, dst := range c.fields() {
		if v := rec.String(key); v != "" {
			*dst = v
		}
	}
	c.RawSnapshot = snapshot
	return nil
}

func (c *Customer) fields() map[string]*string {
	return map[string]*string{
		FieldName:             &c.Name,
		FieldSecondName:       &c.SecondName,
		FieldSurname:          &c.Surname,
		FieldEmail:            &c.Email,
		FieldMobile:           &c.Mobile,
		FieldPhone:            &c.Phone,
		FieldCity:             &c.City,
		FieldState:            &c.State,
		FieldRegistrationDate: &c.RegistrationDate,
		FieldUpdateTime:       &c.UpdateTime,
	}
}

// Record returns the last raw record, falling back to the denormalized
// columns when the snapshot is empty or unreadable.
func (c *Customer) Record() ExternalRecord {
	rec, err := ParseSnapshot(c.RawSnapshot)
	if err != nil {
		rec = ExternalRecord{}
	}
	for key, src := range c.fields() {
		if _, ok := rec[key]; !ok && *src != "" {
			rec[key] = *src
		}
	}
	if _, err := rec.ExternalID(); err != nil {
		rec[IdentityFields[0]] = c.ExternalID
	}
	return rec
}

// HasContact reports whether a CRM contact is already linked.
func (c *Customer) HasContact() bool {
	return c.CRMContactID != ""
}

// DisplayLabel is the fallback label used for contact names and deal titles.
func (c *Customer) DisplayLabel(prefix string) string {
	return prefix + c.ExternalID
}
