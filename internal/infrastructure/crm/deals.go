package crm

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/crmsync/backend/internal/domain/customer"
)

// DealFields builds the field map for deal creation. Custom fields with nil
// or empty string values are omitted.
func DealFields(d customer.DealDraft) map[string]any {
	fields := map[string]any{
		"TITLE":       d.Title,
		"CATEGORY_ID": jsonID(d.CategoryID),
		"STAGE_ID":    d.StageID,
		"CONTACT_ID":  jsonID(d.ContactID),
	}
	for key, value := range d.CustomFields {
		if key == "" || value == nil {
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

// CreateDeal adds a deal and returns its id.
func (c *Client) CreateDeal(ctx context.Context, d customer.DealDraft) (string, error) {
	c.logger.Info("Creating deal",
		zap.String("title", d.Title),
		zap.String("contact_id", d.ContactID),
		zap.Int("custom_fields", len(d.CustomFields)),
	)
	resp, err := c.Call(ctx, MethodDealAdd, map[string]any{"fields": DealFields(d)})
	if err != nil {
		return "", err
	}
	return resp.ResultID()
}

// jsonID sends numeric ids as numbers and anything else as text.
func jsonID(id string) any {
	if _, err := intLike(json.RawMessage(id)); err == nil {
		return json.Number(id)
	}
	return id
}
