// Package normalize turns raw source field values into the canonical forms
// sent to the CRM.
//
// Every function here is pure. Unusable input yields an absent value (ok=false)
// instead of an error, so callers omit the corresponding CRM field rather than
// failing the whole record.
package normalize
