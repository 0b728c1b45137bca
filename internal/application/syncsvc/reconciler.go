package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/domain/normalize"
)

// Outcome is the terminal state of one record in a push run.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// DealFieldIDs maps deal custom fields to CRM field ids. An empty id disables the field.
type DealFieldIDs struct {
	ExternalID       string
	TaxID            string
	Balance          string
	RegistrationDate string
	UpdateTime       string
}

// DealSettings holds the pipeline and field settings for new deals.
type DealSettings struct {
	CategoryID  string
	StageID     string
	TitlePrefix string
	Fields      DealFieldIDs
}

// Validate checks the settings the CRM needs to file a deal
func (s DealSettings) Validate() error {
	if strings.TrimSpace(s.CategoryID) == "" {
		return fmt.Errorf("%w: deal category id is required", customer.ErrConfiguration)
	}
	if strings.TrimSpace(s.StageID) == "" {
		return fmt.Errorf("%w: deal stage id is required", customer.ErrConfiguration)
	}
	return nil
}

// Reconciler pushes one cached customer into the CRM. It finds or creates
// the contact, then creates the deal. The contact id is persisted before the
// deal is attempted so a crash never leads to a duplicate contact.
type Reconciler struct {
	crm        customer.CRMGateway
	store      customer.Store
	deal       DealSettings
	timestamps normalize.Timestamps
	observer   customer.Observer
	now        func() time.Time
}

// NewReconciler creates a Reconciler
func NewReconciler(crm customer.CRMGateway, store customer.Store, deal DealSettings, ts normalize.Timestamps, observer customer.Observer) (*Reconciler, error) {
	if err := deal.Validate(); err != nil {
		return nil, err
	}
	if deal.TitlePrefix == "" {
		deal.TitlePrefix = DefaultTitlePrefix
	}
	if observer == nil {
		observer = customer.NopObserver{}
	}
	return &Reconciler{
		crm:        crm,
		store:      store,
		deal:       deal,
		timestamps: ts,
		observer:   observer,
		now:        time.Now,
	}, nil
}

// DefaultTitlePrefix is prepended to the external id in deal titles and fallback contact names.
const DefaultTitlePrefix = "Client #"

// Reconcile walks c through needs-contact, needs-deal and done. Record-level
// failures are reported through the returned Outcome and an event; the error
// is non-nil only for failures that must end the batch.
func (r *Reconciler) Reconcile(ctx context.Context, c *customer.Customer) (Outcome, error) {
	if c.Synced {
		return OutcomeSynced, nil
	}
	rec := c.Record()

	contactID, outcome, err := r.ensureContact(ctx, c, rec)
	if err != nil || outcome != "" {
		return outcome, err
	}

	dealID, err := r.crm.CreateDeal(ctx, r.DealDraft(c, rec, contactID))
	if err != nil {
		r.observer.Observe(customer.Event{Kind: customer.EventDealFailed, ExternalID: c.ExternalID, ContactID: contactID, Err: err})
		return OutcomeFailed, batchError(err)
	}

	if err := r.store.MarkSynced(ctx, c, contactID, dealID, r.now()); err != nil {
		return OutcomeFailed, fmt.Errorf("deal %s created for %s but not recorded: %w", dealID, c.ExternalID, err)
	}
	r.observer.Observe(customer.Event{Kind: customer.EventSynced, ExternalID: c.ExternalID, ContactID: contactID, DealID: dealID})
	return OutcomeSynced, nil
}

// ensureContact returns the contact id, or a terminal outcome for the record.
func (r *Reconciler) ensureContact(ctx context.Context, c *customer.Customer, rec customer.ExternalRecord) (string, Outcome, error) {
	if c.HasContact() {
		r.observer.Observe(customer.Event{Kind: customer.EventContactReused, ExternalID: c.ExternalID, ContactID: c.CRMContactID})
		return c.CRMContactID, "", nil
	}

	draft := r.ContactDraft(c, rec)
	contactID, err := r.upsertContact(ctx, draft)
	if err != nil && errors.Is(err, customer.ErrInvalidEmail) && draft.Email != "" {
		r.observer.Observe(customer.Event{Kind: customer.EventEmailDropped, ExternalID: c.ExternalID, Err: err})
		contactID, err = r.upsertContact(ctx, draft.WithoutEmail())
		if err != nil {
			r.observer.Observe(customer.Event{Kind: customer.EventSkipped, ExternalID: c.ExternalID, Err: err})
			return "", OutcomeSkipped, batchError(err)
		}
	}
	if err != nil {
		if errors.Is(err, customer.ErrSoftBusiness) {
			r.observer.Observe(customer.Event{Kind: customer.EventSkipped, ExternalID: c.ExternalID, Err: err})
			return "", OutcomeSkipped, nil
		}
		r.observer.Observe(customer.Event{Kind: customer.EventContactFailed, ExternalID: c.ExternalID, Err: err})
		return "", OutcomeFailed, batchError(err)
	}

	if err := r.store.SaveContactID(ctx, c, contactID); err != nil {
		return "", OutcomeFailed, fmt.Errorf("contact %s created for %s but not recorded: %w", contactID, c.ExternalID, err)
	}
	r.observer.Observe(customer.Event{Kind: customer.EventContactLinked, ExternalID: c.ExternalID, ContactID: c.CRMContactID})
	return c.CRMContactID, "", nil
}

// upsertContact updates the first contact matching phone or email, or creates one.
func (r *Reconciler) upsertContact(ctx context.Context, draft customer.ContactDraft) (string, error) {
	id, found, err := r.crm.FindContact(ctx, draft.Phone, draft.Email)
	if err != nil {
		return "", err
	}
	if found {
		if err := r.crm.UpdateContact(ctx, id, draft); err != nil {
			return "", err
		}
		return id, nil
	}
	return r.crm.CreateContact(ctx, draft)
}

// ContactDraft builds the normalized contact fields for c.
func (r *Reconciler) ContactDraft(c *customer.Customer, rec customer.ExternalRecord) customer.ContactDraft {
	name := normalize.Sanitize(rec.First(customer.OrganizationFields...))
	if name == "" {
		name = c.DisplayLabel(r.deal.TitlePrefix)
	}

	var draft customer.ContactDraft
	draft.Name = name
	for _, key := range []string{customer.FieldPhone, customer.FieldMobile} {
		if phone, ok := normalize.Phone(rec.String(key)); ok {
			draft.Phone = phone
			break
		}
	}
	if email, ok := normalize.Email(rec.First(customer.FieldEmail)); ok {
		draft.Email = email
	}
	if taxID, ok := normalize.TaxID(rec.String(customer.FieldTaxID)); ok {
		draft.TaxID = taxID
	}
	draft.Comments = fmt.Sprintf("ABCP userId: %s; Город: %s; Регистрация: %s",
		c.ExternalID, normalize.Sanitize(c.City), normalize.Sanitize(c.RegistrationDate))
	return draft
}

// DealDraft builds the deal fields for c linked to contactID.
func (r *Reconciler) DealDraft(c *customer.Customer, rec customer.ExternalRecord, contactID string) customer.DealDraft {
	fields := make(map[string]any)
	set := func(id string, value any) {
		if id != "" {
			fields[id] = value
		}
	}

	set(r.deal.Fields.ExternalID, c.ExternalID)
	if raw := normalize.Sanitize(rec.String(customer.FieldTaxID)); raw != "" {
		if taxID, ok := normalize.TaxID(raw); ok {
			set(r.deal.Fields.TaxID, taxID)
		} else {
			set(r.deal.Fields.TaxID, raw)
		}
	}
	if balance, ok := normalize.ParseMoney(rec.String(customer.FieldBalance)); ok {
		set(r.deal.Fields.Balance, balance.Field())
	}
	if reg, ok := r.timestamps.Normalize(rec.First(customer.FieldRegistrationDate)); ok {
		set(r.deal.Fields.RegistrationDate, reg)
	}
	if upd, ok := r.timestamps.Normalize(rec.First(customer.FieldUpdateTime)); ok {
		set(r.deal.Fields.UpdateTime, upd)
	}

	return customer.DealDraft{
		Title:        c.DisplayLabel(r.deal.TitlePrefix),
		CategoryID:   r.deal.CategoryID,
		StageID:      r.deal.StageID,
		ContactID:    contactID,
		CustomFields: fields,
	}
}

// batchError keeps only errors that must end the batch.
func batchError(err error) error {
	if errors.Is(err, customer.ErrUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
