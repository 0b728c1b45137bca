package customer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// ExternalRecord Tests
// ---------------------------------------------------------------------------

func TestExternalRecord_ExternalID(t *testing.T) {
	tests := []struct {
		name    string
		rec     ExternalRecord
		want    string
		wantErr bool
	}{
		{"userId string", ExternalRecord{"userId": "42"}, "42", false},
		{"userID alias", ExternalRecord{"userID": "43"}, "43", false},
		{"id alias", ExternalRecord{"id": json.Number("44")}, "44", false},
		{"priority order", ExternalRecord{"id": "1", "userId": "2"}, "2", false},
		{"float identity", ExternalRecord{"userId": float64(1234567890123)}, "1234567890123", false},
		{"empty first alias falls through", ExternalRecord{"userId": " ", "id": "9"}, "9", false},
		{"missing", ExternalRecord{"name": "x"}, "", true},
		{"null", ExternalRecord{"userId": nil}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rec.ExternalID()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingIdentity)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExternalRecord_RegisteredOn(t *testing.T) {
	rec := ExternalRecord{"registrationDate": "2025-03-01 10:00:00"}
	assert.True(t, rec.RegisteredOn("2025-03-01"))
	assert.False(t, rec.RegisteredOn("2025-03-02"))

	short := ExternalRecord{"registrationDate": "2025-03"}
	assert.False(t, short.RegisteredOn("2025-03"))
}

func TestOldestRegistrationDay(t *testing.T) {
	day, ok := OldestRegistrationDay([]ExternalRecord{
		{"registrationDate": "2025-03-02 10:00:00"},
		{"registrationDate": "bad"},
		{"registrationDate": "2025-02-28T09:00:00"},
	})
	require.True(t, ok)
	assert.Equal(t, "2025-02-28", day)

	_, ok = OldestRegistrationDay([]ExternalRecord{{"registrationDate": "x"}})
	assert.False(t, ok)
}

func TestDecodeRecords(t *testing.T) {
	recs, err := DecodeRecords([]byte(`[{"userId": 1234567890123, "email": "a@b.com"}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	id, err := recs[0].ExternalID()
	require.NoError(t, err)
	assert.Equal(t, "1234567890123", id)

	_, err = DecodeRecords([]byte(`{"items": []}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

// ---------------------------------------------------------------------------
// Customer Tests
// ---------------------------------------------------------------------------

func TestNewFromRecord(t *testing.T) {
	t.Run("Maps denormalized fields", func(t *testing.T) {
		c, err := NewFromRecord(ExternalRecord{
			"userId":           "7",
			"name":             "Ivan",
			"email":            "ivan@example.com",
			"mobile":           "+7 900 000-00-00",
			"city":             "Moscow",
			"registrationDate": "2025-01-01 00:00:00",
		})
		require.NoError(t, err)
		assert.Equal(t, "7", c.ExternalID)
		assert.Equal(t, "Ivan", c.Name)
		assert.Equal(t, "ivan@example.com", c.Email)
		assert.Equal(t, "Moscow", c.City)
		assert.Equal(t, "2025-01-01 00:00:00", c.RegistrationDate)
		assert.False(t, c.Synced)
		assert.NotEmpty(t, c.RawSnapshot)
	})

	t.Run("Missing identity", func(t *testing.T) {
		_, err := NewFromRecord(ExternalRecord{"name": "x"})
		assert.ErrorIs(t, err, ErrMissingIdentity)
	})
}

func TestCustomer_Apply(t *testing.T) {
	t.Run("Empty never overwrites non-empty", func(t *testing.T) {
		c, err := NewFromRecord(ExternalRecord{"userId": "1", "email": "a@b.com", "city": "Omsk"})
		require.NoError(t, err)

		require.NoError(t, c.Apply(ExternalRecord{"userId": "1", "email": "", "city": "Tomsk"}))
		assert.Equal(t, "a@b.com", c.Email)
		assert.Equal(t, "Tomsk", c.City)
		assert.Contains(t, c.RawSnapshot, `"email":""`)
	})

	t.Run("Idempotent", func(t *testing.T) {
		rec := ExternalRecord{"userId": "1", "name": "A", "phone": "123456"}
		once, err := NewFromRecord(rec)
		require.NoError(t, err)
		twice, err := NewFromRecord(rec)
		require.NoError(t, err)
		require.NoError(t, twice.Apply(rec))
		assert.Equal(t, once, twice)
	})
}

func TestCustomer_Record(t *testing.T) {
	c, err := NewFromRecord(ExternalRecord{"userId": "5", "inn": "7707083893", "saldo": "1 000,50"})
	require.NoError(t, err)

	rec := c.Record()
	assert.Equal(t, "7707083893", rec.String("inn"))
	assert.Equal(t, "1 000,50", rec.String("saldo"))

	c.RawSnapshot = "not json"
	c.Email = "x@y.com"
	rec = c.Record()
	id, err := rec.ExternalID()
	require.NoError(t, err)
	assert.Equal(t, "5", id)
	assert.Equal(t, "x@y.com", rec.String("email"))
}

func TestImportWatermark(t *testing.T) {
	assert.Equal(t, "last_full_import_at", ImportWatermark(LabelFull))
	assert.Equal(t, "last_incremental_import_at", ImportWatermark(LabelIncremental))
}

func TestIsRecordLevel(t *testing.T) {
	assert.True(t, IsRecordLevel(ErrMissingIdentity))
	assert.True(t, IsRecordLevel(ErrInvalidEmail))
	assert.False(t, IsRecordLevel(ErrTransientNetwork))
	assert.False(t, IsRecordLevel(ErrConfiguration))
}
