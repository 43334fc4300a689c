// Mediation layer between the server and database queries: the booking
// lifecycle engine.
//
// Every state transition here commits through a single conditional write at
// the store boundary. Notifications happen after the write; a delivery
// failure is reported to the caller but never rolls the transition back.
package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	types "github.com/Shyp/go-types"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/models/translators"
	"github.com/lingora/booking/notify"
)

// Engine orchestrates booking state transitions, distance tracking and
// notification dispatch. It holds no state of its own beyond the dispatcher.
type Engine struct {
	Notifier *notify.Dispatcher
}

// NewEngine creates an Engine that dispatches notifications through d.
func NewEngine(d *notify.Dispatcher) *Engine {
	return &Engine{Notifier: d}
}

// Create validates the booking details, stores the booking, and runs the
// offer step: if at least one translator is eligible the booking moves to
// offered and the whole pool is notified by push. With no eligible
// translators the booking stays created.
func (e *Engine) Create(p bookings.CreateParams) (*models.Booking, error) {
	if err := validateCreate(p); err != nil {
		return nil, err
	}
	id := types.GenerateUUID(bookings.Prefix)
	b, err := bookings.Create(id, p)
	if err != nil {
		return nil, err
	}
	go metrics.Increment("booking.create.success")
	return e.offer(b)
}

// StoreEmail is the immediate booking flow: create and offer as usual, and
// additionally email the administrative address about the new booking.
func (e *Engine) StoreEmail(p bookings.CreateParams) (*models.Booking, error) {
	b, err := e.Create(p)
	if err != nil {
		return b, err
	}
	if aerr := e.Notifier.NotifyAdmin(b, "created"); aerr != nil {
		// The booking stands; the admin mail is advisory.
		log.Printf("could not send admin email for booking %s: %s", b.ID.String(), aerr)
		go metrics.Increment("booking.admin_email.error")
	}
	return b, nil
}

// offer moves a created booking into the offer pool when at least one
// translator is eligible, and notifies the pool.
func (e *Engine) offer(b *models.Booking) (*models.Booking, error) {
	pool, err := translators.GetEligible(b.LanguageTo, b.Town)
	if err != nil {
		return b, err
	}
	if len(pool) == 0 {
		log.Printf("no eligible translators for booking %s (%s->%s in %s), leaving it created",
			b.ID.String(), b.LanguageFrom, b.LanguageTo, b.Town)
		go metrics.Increment("booking.offer.no_translators")
		return b, nil
	}
	offered, err := bookings.Offer(b.ID)
	if err != nil {
		return b, err
	}
	go metrics.Measure("booking.offer.pool_size", int64(len(pool)))
	if derr := e.Notifier.Notify(offered, notify.AllEligible, notify.ChannelPush, "offered"); derr != nil {
		// The offer stands; resend endpoints cover missed deliveries.
		log.Printf("offer dispatch incomplete for booking %s: %s", offered.ID.String(), derr)
	}
	return offered, nil
}

// Accept assigns the booking to the acting user. It fails with
// *NotEligibleError when the user lacks the booking's language pair or town,
// with *ConflictError when another acceptance won the race, and with
// bookings.ErrNotFound for an unknown id. On success the customer is
// notified; a delivery failure is returned alongside the accepted booking.
func (e *Engine) Accept(id types.PrefixUUID, userID string) (*models.Booking, error) {
	b, err := bookings.Get(id)
	if err != nil {
		return nil, err
	}
	eligible, err := translators.Eligible(userID, b)
	if err != nil {
		return nil, err
	}
	if !eligible {
		go metrics.Increment("booking.accept.not_eligible")
		return nil, &NotEligibleError{UserID: userID, ID: id}
	}
	accepted, err := bookings.Accept(id, userID)
	if err != nil {
		if werr, ok := err.(*bookings.WrongStateError); ok {
			go metrics.Increment("booking.accept.conflict")
			return nil, &ConflictError{ID: id, Current: werr.Current}
		}
		return nil, err
	}
	go metrics.Increment("booking.accept.success")
	if derr := e.Notifier.Notify(accepted, notify.Customer(accepted.CustomerID), notify.ChannelEmail, "accepted"); derr != nil {
		return accepted, derr
	}
	return accepted, nil
}

// Start moves an accepted booking to in-progress.
func (e *Engine) Start(id types.PrefixUUID) (*models.Booking, error) {
	b, err := bookings.Start(id)
	if err != nil {
		return nil, transitionError(err, "start")
	}
	go metrics.Increment("booking.start.success")
	return b, nil
}

// Cancel cancels an accepted or in-progress booking, releases the assignee
// slot, and notifies the counterparty: the translator when the customer
// cancelled, the customer when the translator did. A delivery failure is
// returned alongside the cancelled booking.
func (e *Engine) Cancel(id types.PrefixUUID, actorID string) (*models.Booking, error) {
	before, err := bookings.Get(id)
	if err != nil {
		return nil, err
	}
	cancelled, err := bookings.Cancel(id)
	if err != nil {
		return nil, transitionError(err, "cancel")
	}
	go metrics.Increment("booking.cancel.success")

	var derr error
	if before.TranslatorID.Valid && before.TranslatorID.String == actorID {
		derr = e.Notifier.Notify(cancelled, notify.Customer(cancelled.CustomerID), notify.ChannelEmail, "cancelled")
	} else if before.TranslatorID.Valid {
		derr = e.Notifier.Notify(cancelled, notify.Translator(before.TranslatorID.String), notify.ChannelPush, "cancelled")
	}
	if derr != nil {
		return cancelled, derr
	}
	return cancelled, nil
}

// End completes an in-progress booking. sessionTime records the session
// length as HH:MM:SS; when empty it is computed from the booking's due time.
// The customer is notified; a delivery failure is returned alongside the
// ended booking.
func (e *Engine) End(id types.PrefixUUID, sessionTime string) (*models.Booking, error) {
	session := sql.NullString{String: sessionTime, Valid: sessionTime != ""}
	if !session.Valid {
		if b, err := bookings.Get(id); err == nil && b.Due.Valid {
			session = sql.NullString{String: formatSession(time.Since(b.Due.Time)), Valid: true}
		}
	}
	ended, err := bookings.End(id, session)
	if err != nil {
		return nil, transitionError(err, "end")
	}
	go metrics.Increment("booking.end.success")
	if derr := e.Notifier.Notify(ended, notify.Customer(ended.CustomerID), notify.ChannelEmail, "ended"); derr != nil {
		return ended, derr
	}
	return ended, nil
}

// Reopen puts an ended or cancelled booking back in the offer pool and
// notifies the pool. Reopening an already-reopened booking is a no-op
// success; the record is never duplicated.
func (e *Engine) Reopen(id types.PrefixUUID) (*models.Booking, error) {
	b, err := bookings.Reopen(id)
	if err != nil {
		return nil, transitionError(err, "reopen")
	}
	go metrics.Increment("booking.reopen.success")
	if derr := e.Notifier.Notify(b, notify.AllEligible, notify.ChannelPush, "reopened"); derr != nil {
		log.Printf("reopen dispatch incomplete for booking %s: %s", b.ID.String(), derr)
	}
	return b, nil
}

// CustomerNotCall records the customer-did-not-call marker. The lifecycle
// state is untouched.
func (e *Engine) CustomerNotCall(id types.PrefixUUID) error {
	return bookings.MarkNotCalled(id)
}

// Update applies an explicit partial update to the booking's details.
func (e *Engine) Update(id types.PrefixUUID, p bookings.UpdateParams) (*models.Booking, error) {
	if err := validateUpdate(p); err != nil {
		return nil, err
	}
	return bookings.Update(id, p)
}

// PotentialJobs returns the offer pool visible to the acting user: every
// offered or reopened booking matching their languages and town, recomputed
// on each call. A user with no translator profile sees an empty pool.
func (e *Engine) PotentialJobs(userID string) ([]*models.Booking, error) {
	t, err := translators.Get(userID)
	if err == translators.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bookings.GetPotential(t.Languages, t.Town)
}

// ResendPush re-sends the offer push notification to every translator
// currently eligible for the booking.
func (e *Engine) ResendPush(id types.PrefixUUID) error {
	b, err := bookings.Get(id)
	if err != nil {
		return err
	}
	return e.Notifier.Notify(b, notify.AllEligible, notify.ChannelPush, "offered")
}

// ResendSMS re-sends the offer over SMS to every translator currently
// eligible for the booking. Push deliveries are not re-triggered.
func (e *Engine) ResendSMS(id types.PrefixUUID) error {
	b, err := bookings.Get(id)
	if err != nil {
		return err
	}
	return e.Notifier.Notify(b, notify.AllEligible, notify.ChannelSMS, "offered")
}

func validateCreate(p bookings.CreateParams) error {
	if p.CustomerID == "" {
		return &ValidationError{Field: "customer_id", Message: "Please include a customer_id"}
	}
	if p.LanguageFrom == "" {
		return &ValidationError{Field: "language_from", Message: "Please include a language_from"}
	}
	if p.LanguageTo == "" {
		return &ValidationError{Field: "language_to", Message: "Please include a language_to"}
	}
	if p.Town == "" {
		return &ValidationError{Field: "town", Message: "Please include a town"}
	}
	return nil
}

func validateUpdate(p bookings.UpdateParams) error {
	if p.LanguageFrom != nil && *p.LanguageFrom == "" {
		return &ValidationError{Field: "language_from", Message: "language_from cannot be empty"}
	}
	if p.LanguageTo != nil && *p.LanguageTo == "" {
		return &ValidationError{Field: "language_to", Message: "language_to cannot be empty"}
	}
	if p.Town != nil && *p.Town == "" {
		return &ValidationError{Field: "town", Message: "town cannot be empty"}
	}
	return nil
}

// transitionError maps a store-level wrong-state failure to the engine's
// taxonomy; everything else passes through.
func transitionError(err error, op string) error {
	if werr, ok := err.(*bookings.WrongStateError); ok {
		go metrics.Increment(fmt.Sprintf("booking.%s.invalid_transition", op))
		return &InvalidTransitionError{Op: op, Current: werr.Current}
	}
	return err
}

func formatSession(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
