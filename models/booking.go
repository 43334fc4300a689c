package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	types "github.com/Shyp/go-types"
)

// A Booking is a translation job moving through the lifecycle: a customer
// requests it, eligible translators are offered it, at most one translator
// accepts it, and it runs to completion or cancellation.
type Booking struct {
	ID           types.PrefixUUID `json:"id"`
	CustomerID   string           `json:"customer_id"`
	LanguageFrom string           `json:"language_from"`
	LanguageTo   string           `json:"language_to"`
	Town         string           `json:"town"`
	Due          types.NullTime   `json:"due"`
	Status       BookingStatus    `json:"status"`

	// TranslatorID is set if and only if the booking is accepted,
	// in-progress, or ended.
	TranslatorID sql.NullString `json:"translator_id"`

	AdminComment    sql.NullString `json:"admin_comment"`
	Flagged         bool           `json:"flagged"`
	ManuallyHandled bool           `json:"manually_handled"`
	ByAdmin         bool           `json:"by_admin"`
	NotCalled       bool           `json:"not_called"`
	SessionTime     sql.NullString `json:"session_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BookingStatus string

// StatusCreated indicates a booking exists but has not been offered to any
// translator yet.
const StatusCreated = BookingStatus("created")

// StatusOffered indicates the booking is in the offer pool and eligible
// translators have been notified.
const StatusOffered = BookingStatus("offered")

// StatusAccepted indicates exactly one translator won the booking.
const StatusAccepted = BookingStatus("accepted")

// StatusInProgress indicates the session has started.
const StatusInProgress = BookingStatus("in-progress")

const StatusEnded = BookingStatus("ended")
const StatusCancelled = BookingStatus("cancelled")

// StatusReopened indicates an ended or cancelled booking was put back in the
// offer pool. Reopened bookings can be accepted the same way offered ones can.
const StatusReopened = BookingStatus("reopened")

// Scan implements the Scanner interface.
func (s *BookingStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*s = BookingStatus(txt)
		return nil
	} else if txt, ok := src.([]byte); ok {
		*s = BookingStatus(string(txt))
		return nil
	}
	return fmt.Errorf("Unsupported BookingStatus: %#v", src)
}

func (s BookingStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// A Translator can accept bookings whose language pair and town match their
// profile. The profile is reference data owned elsewhere; this service reads
// it for eligibility checks and notification targeting.
type Translator struct {
	UserID    string         `json:"user_id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	PushToken sql.NullString `json:"push_token"`
	Town      string         `json:"town"`
	Languages []string       `json:"languages"`
	CreatedAt time.Time      `json:"created_at"`
}

// A DistanceRecord holds per-booking travel data. Exactly one exists per
// booking, created lazily on the first distance feed.
type DistanceRecord struct {
	BookingID  types.PrefixUUID `json:"booking_id"`
	Distance   sql.NullFloat64  `json:"distance"`
	TravelTime sql.NullString   `json:"travel_time"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
