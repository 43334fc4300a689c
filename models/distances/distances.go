// Logic for interacting with the "distances" table.
package distances

import (
	"database/sql"
	"errors"
	"fmt"

	dberror "github.com/Shyp/go-dberror"
	types "github.com/Shyp/go-types"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/models/db"
)

// ErrNotFound indicates that no distance record exists for the booking.
var ErrNotFound = errors.New("Distance record not found")

var upsertStmt *sql.Stmt
var getStmt *sql.Stmt

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if upsertStmt != nil {
		return
	}

	query := `-- distances.Update
INSERT INTO distances (booking_id, distance, travel_time)
VALUES ($1, $2, $3)
ON CONFLICT (booking_id) DO UPDATE
SET distance = EXCLUDED.distance,
	travel_time = EXCLUDED.travel_time,
	updated_at = now()`
	upsertStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- distances.Get
SELECT %s
FROM distances
WHERE booking_id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	return
}

// Update upserts the distance record for a booking and reports whether a row
// was written. If both distance and travelTime are absent nothing is written
// and Update reports false; that outcome is not an error. The record is
// created on the first write and overwritten in place afterwards.
//
// Writes count by rows matched: resubmitting identical values still reports
// true, the store does not diff old and new values.
func Update(bookingID types.PrefixUUID, distance sql.NullFloat64, travelTime sql.NullString) (bool, error) {
	if !distance.Valid && !travelTime.Valid {
		return false, nil
	}
	res, err := upsertStmt.Exec(bookingID, distance, travelTime)
	if err != nil {
		return false, dberror.GetError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Get the distance record for a booking. If no record exists yet, the error
// will be distances.ErrNotFound.
func Get(bookingID types.PrefixUUID) (*models.DistanceRecord, error) {
	d := new(models.DistanceRecord)
	err := getStmt.QueryRow(bookingID).Scan(args(d)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return d, nil
}

func fields() string {
	return fmt.Sprintf(`'%s' || booking_id,
	distance,
	travel_time,
	updated_at`, bookings.Prefix)
}

func args(d *models.DistanceRecord) []interface{} {
	return []interface{}{
		&d.BookingID,
		&d.Distance,
		&d.TravelTime,
		&d.UpdatedAt,
	}
}
