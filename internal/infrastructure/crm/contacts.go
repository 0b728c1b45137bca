package crm

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/crmsync/backend/internal/domain/customer"
)

// multiField is the CRM representation of phone and email values.
type multiField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

type contactRef struct {
	ID json.RawMessage `json:"ID"`
}

// ContactFields builds the field map for contact add/update. Last and middle
// names are always sent empty. Empty phone, email and tax id are omitted.
func (c *Client) ContactFields(d customer.ContactDraft) map[string]any {
	fields := map[string]any{
		"NAME":        d.Name,
		"LAST_NAME":   "",
		"SECOND_NAME": "",
		"OPENED":      "Y",
		"COMMENTS":    d.Comments,
	}
	if d.Phone != "" {
		fields["PHONE"] = []multiField{{Value: d.Phone, ValueType: "WORK"}}
	}
	if d.Email != "" {
		fields["EMAIL"] = []multiField{{Value: d.Email, ValueType: "WORK"}}
	}
	if d.TaxID != "" {
		fields[c.cfg.ContactTaxIDField] = d.TaxID
	}
	return fields
}

// FindContact looks a contact up by phone, then by email. The first match wins.
func (c *Client) FindContact(ctx context.Context, phone, email string) (string, bool, error) {
	filters := make([]map[string]string, 0, 2)
	if phone != "" {
		filters = append(filters, map[string]string{"PHONE": phone})
	}
	if email != "" {
		filters = append(filters, map[string]string{"EMAIL": email})
	}

	for _, filter := range filters {
		resp, err := c.Call(ctx, MethodContactList, map[string]any{
			"filter": filter,
			"select": []string{"ID"},
		})
		if err != nil {
			return "", false, err
		}

		var refs []contactRef
		if err := json.Unmarshal(resp.Result, &refs); err != nil || len(refs) == 0 {
			continue
		}
		id, err := intLike(refs[0].ID)
		if err != nil {
			continue
		}
		c.logger.Debug("Contact found", zap.Any("filter", filter), zap.String("contact_id", id))
		return id, true, nil
	}
	return "", false, nil
}

// CreateContact adds a contact and returns its id.
func (c *Client) CreateContact(ctx context.Context, d customer.ContactDraft) (string, error) {
	fields := c.ContactFields(d)
	c.logger.Info("Creating contact",
		zap.String("name", d.Name),
		zap.Bool("has_phone", d.Phone != ""),
		zap.Bool("has_email", d.Email != ""),
		zap.Bool("has_tax_id", d.TaxID != ""),
	)
	resp, err := c.Call(ctx, MethodContactAdd, map[string]any{"fields": fields})
	if err != nil {
		return "", err
	}
	return resp.ResultID()
}

// UpdateContact overwrites the contact fields.
func (c *Client) UpdateContact(ctx context.Context, id string, d customer.ContactDraft) error {
	c.logger.Info("Updating contact",
		zap.String("contact_id", id),
		zap.Bool("has_email", d.Email != ""),
		zap.Bool("has_tax_id", d.TaxID != ""),
	)
	_, err := c.Call(ctx, MethodContactUpdate, map[string]any{
		"id":     jsonID(id),
		"fields": c.ContactFields(d),
	})
	return err
}
