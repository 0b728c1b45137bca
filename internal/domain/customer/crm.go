package customer

import "context"

// ContactDraft carries normalized contact fields. Empty optional fields are
// omitted from the CRM payload.
type ContactDraft struct {
	Name     string
	Phone    string
	Email    string
	TaxID    string
	Comments string
}

// WithoutEmail returns a copy with the email field dropped.
func (d ContactDraft) WithoutEmail() ContactDraft {
	d.Email = ""
	return d
}

// DealDraft carries deal fields. CustomFields maps CRM field ids to values.
type DealDraft struct {
	Title        string
	CategoryID   string
	StageID      string
	ContactID    string
	CustomFields map[string]any
}

// CRMGateway is the downstream CRM port.
type CRMGateway interface {
	// FindContact searches by phone first, then email. Empty criteria are skipped.
	FindContact(ctx context.Context, phone, email string) (id string, found bool, err error)
	CreateContact(ctx context.Context, draft ContactDraft) (string, error)
	UpdateContact(ctx context.Context, id string, draft ContactDraft) error
	CreateDeal(ctx context.Context, draft DealDraft) (string, error)
}
