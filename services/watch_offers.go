package services

import (
	"log"
	"time"

	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/notify"
)

// RemindUnansweredOffers re-pushes every offered booking that nobody has
// accepted since the olderThan cutoff, then touches it so the next sweep
// skips it.
func (e *Engine) RemindUnansweredOffers(olderThan time.Duration) error {
	var cutoff time.Time
	if olderThan >= 0 {
		cutoff = time.Now().Add(-1 * olderThan)
	} else {
		cutoff = time.Now().Add(olderThan)
	}
	stale, err := bookings.GetStaleOffered(cutoff)
	if err != nil {
		return err
	}
	for _, b := range stale {
		err = e.Notifier.Notify(b, notify.AllEligible, notify.ChannelPush, "offer-reminder")
		if err != nil {
			// There may easily be race/delivery errors here; the next sweep
			// will pick the booking up again.
			log.Printf("Found unanswered offer %s but could not re-notify: %s", b.ID.String(), err.Error())
			continue
		}
		log.Printf("Re-notified translators about unanswered offer %s", b.ID.String())
		if terr := bookings.Touch(b.ID); terr != nil {
			log.Printf("Could not touch booking %s: %s", b.ID.String(), terr.Error())
		}
	}
	return nil
}

// WatchUnansweredOffers polls for offered bookings that haven't been updated
// in olderThan time, and re-notifies the eligible pool about each. It never
// transitions booking state; offer expiry is not this service's call.
func (e *Engine) WatchUnansweredOffers(interval time.Duration, olderThan time.Duration) {
	for range time.Tick(interval) {
		go func() {
			if err := e.RemindUnansweredOffers(olderThan); err != nil {
				log.Printf("Error re-notifying unanswered offers: %s\n", err.Error())
			}
		}()
	}
}
