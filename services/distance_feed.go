package services

import (
	"database/sql"

	metrics "github.com/Shyp/go-simple-metrics"
	types "github.com/Shyp/go-types"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/models/distances"
)

// DistanceFeedParams carries the combined distance/metadata update. Every
// field is optional. The metadata fields apply individually; omitted ones
// are left untouched. The distance record is different: when distance or
// time is present the stored record is replaced as a unit, so sending a
// distance without a time clears the stored travel time.
type DistanceFeedParams struct {
	Distance        *float64 `json:"distance"`
	TravelTime      *string  `json:"time"`
	SessionTime     *string  `json:"session_time"`
	Flagged         *bool    `json:"flagged"`
	Comment         *string  `json:"admin_comment"`
	ManuallyHandled *bool    `json:"manually_handled"`
	ByAdmin         *bool    `json:"by_admin"`
}

// DistanceFeedResult reports which halves of the combined update wrote
// anything. Updated is false when neither half changed, the "nothing to
// update" outcome; that is a normal result, not an error.
type DistanceFeedResult struct {
	DistanceUpdated bool `json:"distance_updated"`
	BookingUpdated  bool `json:"booking_updated"`
}

// Updated reports whether either half of the feed wrote anything.
func (r DistanceFeedResult) Updated() bool {
	return r.DistanceUpdated || r.BookingUpdated
}

// DistanceFeed applies the combined distance/metadata update for a booking.
// The flagged/comment invariant is validated before either half writes:
// flagging without a non-empty comment fails with *ValidationError and
// leaves the database untouched. The two halves commit independently; each
// reports on its own whether it changed anything.
func (e *Engine) DistanceFeed(id types.PrefixUUID, p DistanceFeedParams) (DistanceFeedResult, error) {
	var res DistanceFeedResult
	if p.Flagged != nil && *p.Flagged && (p.Comment == nil || *p.Comment == "") {
		go metrics.Increment("distance_feed.flagged_without_comment")
		return res, &ValidationError{Field: "admin_comment", Message: "Please add a comment before flagging the booking"}
	}
	if _, err := bookings.Get(id); err != nil {
		return res, err
	}

	var distance sql.NullFloat64
	if p.Distance != nil {
		distance = sql.NullFloat64{Float64: *p.Distance, Valid: true}
	}
	var travelTime sql.NullString
	if p.TravelTime != nil {
		travelTime = sql.NullString{String: *p.TravelTime, Valid: true}
	}
	distanceUpdated, err := distances.Update(id, distance, travelTime)
	if err != nil {
		return res, err
	}
	res.DistanceUpdated = distanceUpdated

	bookingUpdated, err := bookings.UpdateAdminMeta(id, bookings.AdminMetaParams{
		Comment:         p.Comment,
		Flagged:         p.Flagged,
		SessionTime:     p.SessionTime,
		ManuallyHandled: p.ManuallyHandled,
		ByAdmin:         p.ByAdmin,
	})
	if err != nil {
		if err == bookings.ErrCommentRequired {
			return res, &ValidationError{Field: "admin_comment", Message: err.Error()}
		}
		// The distance half already committed on its own; report the
		// metadata failure as-is.
		return res, err
	}
	res.BookingUpdated = bookingUpdated

	if res.Updated() {
		go metrics.Increment("distance_feed.updated")
	} else {
		go metrics.Increment("distance_feed.noop")
	}
	return res, nil
}
