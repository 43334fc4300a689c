package services

import (
	"fmt"

	types "github.com/Shyp/go-types"
	"github.com/lingora/booking/models"
)

// A ValidationError reports malformed or rule-violating input. Nothing is
// written when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// A ConflictError reports a lost race for a state transition, most often two
// translators accepting the same booking. Exactly one caller wins; everyone
// else gets this.
type ConflictError struct {
	ID      types.PrefixUUID
	Current models.BookingStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Booking %s was already taken (currently %s)", e.ID.String(), e.Current)
}

// An InvalidTransitionError reports an operation that is not legal from the
// booking's current state.
type InvalidTransitionError struct {
	Op      string
	Current models.BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Cannot %s a booking in the %s state", e.Op, e.Current)
}

// A NotEligibleError reports an actor who lacks translator capability for the
// booking's language pair and town.
type NotEligibleError struct {
	UserID string
	ID     types.PrefixUUID
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("User %s is not eligible for booking %s", e.UserID, e.ID.String())
}
