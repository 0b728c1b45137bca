package customer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Source field names used by the sync engine.
const (
	FieldName             = "name"
	FieldSecondName       = "secondName"
	FieldSurname          = "surname"
	FieldEmail            = "email"
	FieldMobile           = "mobile"
	FieldPhone            = "phone"
	FieldCity             = "city"
	FieldState            = "state"
	FieldRegistrationDate = "registrationDate"
	FieldUpdateTime       = "updateTime"
	FieldTaxID            = "inn"
	FieldBalance          = "saldo"
)

// IdentityFields lists the identity aliases in priority order.
var IdentityFields = []string{"userId", "userID", "id"}

// OrganizationFields lists the organization name aliases in priority order.
var OrganizationFields = []string{"organizationName", "organization", "companyName"}

// ExternalRecord is a raw record as returned by the source.
// Values are JSON scalars (string, json.Number, float64, bool or nil).
type ExternalRecord map[string]any

// DecodeRecords decodes a JSON array of objects, keeping numbers as json.Number
// so identities such as 1234567890123 are not rendered in exponent form.
func DecodeRecords(data []byte) ([]ExternalRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []ExternalRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return records, nil
}

// ExternalID resolves the identity by probing IdentityFields in order.
func (r ExternalRecord) ExternalID() (string, error) {
	for _, key := range IdentityFields {
		if id := r.String(key); id != "" {
			return id, nil
		}
	}
	return "", ErrMissingIdentity
}

// String returns the trimmed textual form of a scalar field, or "" when the
// field is absent, null or not a scalar.
func (r ExternalRecord) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// First returns the first non-empty value among keys.
func (r ExternalRecord) First(keys ...string) string {
	for _, key := range keys {
		if v := r.String(key); v != "" {
			return v
		}
	}
	return ""
}

// RegistrationDate returns the raw registration timestamp string.
func (r ExternalRecord) RegistrationDate() string {
	return r.String(FieldRegistrationDate)
}

// RegisteredOn reports whether the first 10 characters of the registration
// timestamp equal day (YYYY-MM-DD). Shorter values never match.
func (r ExternalRecord) RegisteredOn(day string) bool {
	d, ok := r.registrationDay()
	return ok && d == day
}

// registrationDay returns the YYYY-MM-DD prefix of the registration timestamp.
func (r ExternalRecord) registrationDay() (string, bool) {
	reg := r.RegistrationDate()
	if len(reg) < 10 {
		return "", false
	}
	return reg[:10], true
}

// OldestRegistrationDay returns the smallest registration day among records.
// Records whose timestamp is shorter than 10 characters are ignored.
func OldestRegistrationDay(records []ExternalRecord) (string, bool) {
	oldest, found := "", false
	for _, rec := range records {
		day, ok := rec.registrationDay()
		if !ok {
			continue
		}
		if !found || day < oldest {
			oldest, found = day, true
		}
	}
	return oldest, found
}

// Snapshot serializes the record for audit and reprocessing.
func (r ExternalRecord) Snapshot() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("%w: snapshot: %v", ErrValidation, err)
	}
	return string(data), nil
}

// ParseSnapshot restores a record from its serialized snapshot.
func ParseSnapshot(snapshot string) (ExternalRecord, error) {
	if strings.TrimSpace(snapshot) == "" {
		return ExternalRecord{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(snapshot))
	dec.UseNumber()
	rec := ExternalRecord{}
	if err := dec.Decode(&rec); err != nil {
		return ExternalRecord{}, fmt.Errorf("%w: snapshot: %v", ErrValidation, err)
	}
	return rec, nil
}
