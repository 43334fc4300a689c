package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/models/translators"
	"github.com/lingora/booking/services"
)

// GET /v1/bookings
//
// Callers holding the viewAllBookings capability see every booking, or the
// bookings of the customer named in the user_id query parameter. Everyone
// else sees only the bookings they created themselves.
func listBookings(a Authorizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := actingUser(r)
		var result []*models.Booking
		var err error
		if a.HasCapability(user, CapabilityViewAllBookings) {
			if customerId := r.URL.Query().Get("user_id"); customerId != "" {
				result, err = bookings.GetForCustomer(customerId)
			} else {
				result, err = bookings.GetAll()
			}
		} else {
			result, err = bookings.GetForCustomer(user)
		}
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		if result == nil {
			result = []*models.Booking{}
		}
		json.NewEncoder(w).Encode(result)
	})
}

// POST /v1/bookings
//
// createBooking returns a http.HandlerFunc that responds to booking creation
// requests. The new booking is offered to eligible translators before the
// response is written.
func createBooking(engine *services.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := decodeCreateParams(w, r)
		if !ok {
			return
		}
		start := time.Now()
		booking, err := engine.Create(p)
		go metrics.Time("bookings.create.latency", time.Since(start))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(booking)
		go metrics.Increment("bookings.create.success")
	})
}

// POST /v1/bookings/email
//
// Same as createBooking, but the admin is also emailed about the new booking
// so it can be handled immediately.
func createBookingEmail(engine *services.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := decodeCreateParams(w, r)
		if !ok {
			return
		}
		booking, err := engine.StoreEmail(p)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(booking)
		go metrics.Increment("bookings.create_email.success")
	})
}

func decodeCreateParams(w http.ResponseWriter, r *http.Request) (bookings.CreateParams, bool) {
	var p bookings.CreateParams
	if r.Body == nil {
		badRequest(w, r, createEmptyErr("language_to", r.URL.Path))
		return p, false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, r, invalidJSONErr())
		return p, false
	}
	if p.CustomerID == "" {
		p.CustomerID = actingUser(r)
	}
	return p, true
}

// GET /v1/bookings/history
//
// Returns completed or cancelled bookings the given user was involved in,
// either as the customer or as the assigned translator.
func bookingsHistory() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user_id")
		if user == "" {
			user = actingUser(r)
		}
		result, err := bookings.GetHistory(user)
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		if result == nil {
			result = []*models.Booking{}
		}
		json.NewEncoder(w).Encode(result)
	})
}

// GET /v1/bookings/potential
//
// Returns the open bookings the calling translator could accept. A caller
// with no translator profile gets an empty list.
func potentialBookings(engine *services.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := engine.PotentialJobs(actingUser(r))
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		if result == nil {
			result = []*models.Booking{}
		}
		json.NewEncoder(w).Encode(result)
	})
}

// An AcceptBookingRequest is sent in the body of a POST to
// /v1/bookings/accept.
type AcceptBookingRequest struct {
	BookingID string `json:"job_id"`
}

// POST /v1/bookings/accept
//
// Accepts the booking named in the request body on behalf of the calling
// translator. At most one caller wins; everyone else gets a 409.
func acceptBooking(engine *services.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			badRequest(w, r, createEmptyErr("job_id", r.URL.Path))
			return
		}
		defer r.Body.Close()
		var ar AcceptBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&ar); err != nil {
			badRequest(w, r, invalidJSONErr())
			return
		}
		if ar.BookingID == "" {
			badRequest(w, r, createEmptyErr("job_id", r.URL.Path))
			return
		}
		id, done := getId(w, r, ar.BookingID)
		if done {
			return
		}
		booking, err := engine.Accept(id, actingUser(r))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		json.NewEncoder(w).Encode(booking)
	})
}

// A BookingDetail is a booking together with the profile of the assigned
// translator, when one exists.
type BookingDetail struct {
	*models.Booking
	Translator *models.Translator `json:"translator,omitempty"`
}

// GET /v1/bookings/:id
func getBooking() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := bookingRoute.FindStringSubmatch(r.URL.Path)[1]
		id, done := getId(w, r, idStr)
		if done {
			return
		}
		booking, err := bookings.GetRetry(id, 3)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		detail := &BookingDetail{Booking: booking}
		if booking.TranslatorID.Valid {
			t, err := translators.Get(booking.TranslatorID.String)
			if err != nil && err != translators.ErrNotFound {
				writeServerError(w, r, err)
				return
			}
			detail.Translator = t
		}
		json.NewEncoder(w).Encode(detail)
	})
}

// PUT /v1/bookings/:id
//
// Applies a partial update to the booking's details. Omitted fields are left
// untouched.
func updateBooking(engine *services.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := bookingRoute.FindStringSubmatch(r.URL.Path)[1]
		id, done := getId(w, r, idStr)
		if done {
			return
		}
		if r.Body == nil {
			badRequest(w, r, invalidJSONErr())
			return
		}
		defer r.Body.Close()
		var p bookings.UpdateParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			badRequest(w, r, invalidJSONErr())
			return
		}
		booking, err := engine.Update(id, p)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		json.NewEncoder(w).Encode(booking)
	})
}

// An EndBookingRequest is sent in the body of a POST to
// /v1/bookings/:id/end. The body may be empty, in which case the session
// time is computed from the booking's due date.
type EndBookingRequest struct {
	SessionTime string `json:"session_time"`
}

// A DistanceFeedResponse reports the outcome of a combined distance/metadata
// update. "nothing_to_update" is a normal outcome, not an error.
type DistanceFeedResponse struct {
	Status          string `json:"status"`
	DistanceUpdated bool   `json:"distance_updated"`
	BookingUpdated  bool   `json:"booking_updated"`
}

// POST /v1/bookings/:id/:action
//
// bookingAction dispatches the lifecycle transitions: accept, start, cancel,
// end, reopen, not-call, and the distance feed.
func bookingAction(engine *services.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match := actionRoute.FindStringSubmatch(r.URL.Path)
		id, done := getId(w, r, match[1])
		if done {
			return
		}
		var booking *models.Booking
		var err error
		switch action := match[2]; action {
		case "accept":
			booking, err = engine.Accept(id, actingUser(r))
		case "start":
			booking, err = engine.Start(id)
		case "cancel":
			booking, err = engine.Cancel(id, actingUser(r))
		case "end":
			var er EndBookingRequest
			if decodeErr := decodeOptionalBody(r, &er); decodeErr != nil {
				badRequest(w, r, invalidJSONErr())
				return
			}
			booking, err = engine.End(id, er.SessionTime)
		case "reopen":
			booking, err = engine.Reopen(id)
		case "not-call":
			if err := engine.CustomerNotCall(id); err != nil {
				writeEngineError(w, r, err)
				return
			}
			booking, err = bookings.Get(id)
		case "distance":
			var p services.DistanceFeedParams
			if decodeErr := decodeOptionalBody(r, &p); decodeErr != nil {
				badRequest(w, r, invalidJSONErr())
				return
			}
			result, err := engine.DistanceFeed(id, p)
			if err != nil {
				writeEngineError(w, r, err)
				return
			}
			status := "updated"
			if !result.Updated() {
				status = "nothing_to_update"
			}
			json.NewEncoder(w).Encode(DistanceFeedResponse{
				Status:          status,
				DistanceUpdated: result.DistanceUpdated,
				BookingUpdated:  result.BookingUpdated,
			})
			return
		default:
			// The route regexp only admits the actions above.
			notFound(w, new404(r))
			return
		}
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		json.NewEncoder(w).Encode(booking)
		go metrics.Increment(fmt.Sprintf("bookings.%s.success", match[2]))
	})
}

// POST /v1/bookings/:id/notifications/:channel
//
// Re-sends the offer notification for a booking over the named channel to
// every eligible translator.
func resendNotification(engine *services.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match := resendRoute.FindStringSubmatch(r.URL.Path)
		id, done := getId(w, r, match[1])
		if done {
			return
		}
		var err error
		var label string
		if match[2] == "sms" {
			err = engine.ResendSMS(id)
			label = "SMS sent"
		} else {
			err = engine.ResendPush(id)
			label = "Push sent"
		}
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"success": label})
	})
}

// decodeOptionalBody decodes the request body into v, treating a missing or
// empty body as the zero value.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
