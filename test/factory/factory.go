// Package factory contains helpers for instantiating tests.
package factory

import (
	"database/sql"
	"testing"
	"time"

	types "github.com/Shyp/go-types"
	uuid "github.com/kevinburke/go.uuid"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/models/translators"
	"github.com/lingora/booking/test"
)

var BookingId types.PrefixUUID

func init() {
	id, _ := types.NewPrefixUUID("job_6740b44e-13b9-475d-af06-979627e0e0d6")
	BookingId = id
}

var SampleParams = bookings.CreateParams{
	CustomerID:   "cust_7",
	LanguageFrom: "english",
	LanguageTo:   "spanish",
	Town:         "stockholm",
	Due: types.NullTime{
		Time:  time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Valid: true,
	},
}

// RandomId returns a random UUID with the given prefix.
func RandomId(prefix string) types.PrefixUUID {
	id := uuid.NewV4()
	return types.PrefixUUID{
		UUID:   id,
		Prefix: prefix,
	}
}

// CreateBooking inserts a booking with the given details and a random id,
// and returns it in the created state.
func CreateBooking(t testing.TB, p bookings.CreateParams) *models.Booking {
	t.Helper()
	test.SetUp(t)
	b, err := bookings.Create(RandomId(bookings.Prefix), p)
	if err != nil {
		t.Fatalf("creating booking: %s", err)
	}
	return b
}

// CreateOfferedBooking inserts a booking and moves it to the offered state.
func CreateOfferedBooking(t testing.TB, p bookings.CreateParams) *models.Booking {
	t.Helper()
	b := CreateBooking(t, p)
	offered, err := bookings.Offer(b.ID)
	if err != nil {
		t.Fatalf("offering booking %s: %s", b.ID, err)
	}
	return offered
}

// CreateAcceptedBooking inserts a booking, offers it, and accepts it on
// behalf of the given translator.
func CreateAcceptedBooking(t testing.TB, p bookings.CreateParams, translatorId string) *models.Booking {
	t.Helper()
	b := CreateOfferedBooking(t, p)
	accepted, err := bookings.Accept(b.ID, translatorId)
	if err != nil {
		t.Fatalf("accepting booking %s: %s", b.ID, err)
	}
	return accepted
}

// CreateTranslator inserts a translator profile, filling in sane defaults
// for any zero fields.
func CreateTranslator(t testing.TB, tr models.Translator) *models.Translator {
	t.Helper()
	test.SetUp(t)
	if tr.UserID == "" {
		tr.UserID = RandomId("usr_").String()
	}
	if tr.Name == "" {
		tr.Name = "Test Translator"
	}
	if tr.Email == "" {
		tr.Email = tr.UserID + "@example.com"
	}
	if tr.Phone == "" {
		tr.Phone = "+46700000000"
	}
	if tr.Town == "" {
		tr.Town = SampleParams.Town
	}
	if len(tr.Languages) == 0 {
		tr.Languages = []string{SampleParams.LanguageTo}
	}
	if !tr.PushToken.Valid {
		tr.PushToken = sql.NullString{String: "push-" + tr.UserID, Valid: true}
	}
	created, err := translators.Create(tr)
	if err != nil {
		t.Fatalf("creating translator %s: %s", tr.UserID, err)
	}
	return created
}
