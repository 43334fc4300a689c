// Logic for interacting with the "bookings" table.
package bookings

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	dberror "github.com/Shyp/go-dberror"
	types "github.com/Shyp/go-types"
	uuid "github.com/kevinburke/go.uuid"
	"github.com/lib/pq"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/db"
)

const Prefix = "job_"

// ErrNotFound indicates that the booking was not found.
var ErrNotFound = errors.New("Booking not found")

// ErrCommentRequired indicates an attempt to flag a booking without an admin
// comment.
var ErrCommentRequired = errors.New("Please add a comment before flagging the booking")

// A WrongStateError is returned when a conditional state transition matched
// zero rows because the booking exists but is not in a state the transition
// allows. Current is the state the booking was in when we re-read it.
type WrongStateError struct {
	Op      string
	Current models.BookingStatus
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("Cannot %s a booking in the %s state", e.Op, e.Current)
}

func init() {
	dberror.RegisterConstraint(flaggedCommentConstraint)
	dberror.RegisterConstraint(assigneeStatusConstraint)
}

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var allStmt *sql.Stmt
var forCustomerStmt *sql.Stmt
var historyStmt *sql.Stmt
var potentialStmt *sql.Stmt
var offerStmt *sql.Stmt
var acceptStmt *sql.Stmt
var startStmt *sql.Stmt
var cancelStmt *sql.Stmt
var endStmt *sql.Stmt
var reopenStmt *sql.Stmt
var notCallStmt *sql.Stmt
var updateStmt *sql.Stmt
var updateMetaStmt *sql.Stmt
var countsByStatusStmt *sql.Stmt
var staleOfferedStmt *sql.Stmt
var touchStmt *sql.Stmt

// StaleOfferLimit is the maximum number of unanswered offers to fetch in one
// database query.
var StaleOfferLimit = 100

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- bookings.Create
INSERT INTO bookings (%s)
VALUES ($1, $2, $3, $4, $5, $6, '%s')
RETURNING %s`, insertFields(), models.StatusCreated, fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.Get
SELECT %s
FROM bookings
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.GetAll
SELECT %s
FROM bookings
ORDER BY created_at DESC`, fields())
	allStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.GetForCustomer
SELECT %s
FROM bookings
WHERE customer_id = $1
ORDER BY created_at DESC`, fields())
	forCustomerStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.GetHistory
SELECT %s
FROM bookings
WHERE (customer_id = $1 OR translator_id = $1)
	AND status IN ('%s', '%s')
ORDER BY updated_at DESC`, fields(), models.StatusEnded, models.StatusCancelled)
	historyStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.GetPotential
SELECT %s
FROM bookings
WHERE status IN ('%s', '%s')
	AND language_to = ANY($1)
	AND town = $2
ORDER BY due ASC NULLS LAST, created_at ASC`, fields(), models.StatusOffered, models.StatusReopened)
	potentialStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.Offer
UPDATE bookings
SET status = '%s',
	updated_at = now()
WHERE id = $1
	AND status = '%s'
RETURNING %s`, models.StatusOffered, models.StatusCreated, fields())
	offerStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	// The single-winner acceptance guard. Multiple engine instances may race
	// on the same booking; the WHERE clause makes Postgres pick exactly one
	// winner, every loser matches zero rows.
	query = fmt.Sprintf(`-- bookings.Accept
UPDATE bookings
SET status = '%s',
	translator_id = $2,
	updated_at = now()
WHERE id = $1
	AND status IN ('%s', '%s')
	AND translator_id IS NULL
RETURNING %s`, models.StatusAccepted, models.StatusOffered, models.StatusReopened, fields())
	acceptStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.Start
UPDATE bookings
SET status = '%s',
	updated_at = now()
WHERE id = $1
	AND status = '%s'
RETURNING %s`, models.StatusInProgress, models.StatusAccepted, fields())
	startStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	// Only a booking with an assignee can be cancelled.
	query = fmt.Sprintf(`-- bookings.Cancel
UPDATE bookings
SET status = '%s',
	translator_id = NULL,
	updated_at = now()
WHERE id = $1
	AND status IN ('%s', '%s')
RETURNING %s`, models.StatusCancelled, models.StatusAccepted, models.StatusInProgress, fields())
	cancelStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	// The assignee is kept on an ended booking so it shows up in the
	// translator's history.
	query = fmt.Sprintf(`-- bookings.End
UPDATE bookings
SET status = '%s',
	session_time = $2,
	updated_at = now()
WHERE id = $1
	AND status = '%s'
RETURNING %s`, models.StatusEnded, models.StatusInProgress, fields())
	endStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	// Reopening an already-reopened booking matches a row and changes
	// nothing, which is what makes Reopen idempotent.
	query = fmt.Sprintf(`-- bookings.Reopen
UPDATE bookings
SET status = '%s',
	translator_id = NULL,
	updated_at = now()
WHERE id = $1
	AND status IN ('%s', '%s', '%s')
RETURNING %s`, models.StatusReopened, models.StatusEnded, models.StatusCancelled, models.StatusReopened, fields())
	reopenStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- bookings.MarkNotCalled
UPDATE bookings
SET not_called = true,
	updated_at = now()
WHERE id = $1`
	notCallStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.Update
UPDATE bookings
SET language_from = COALESCE($2, language_from),
	language_to = COALESCE($3, language_to),
	town = COALESCE($4, town),
	due = COALESCE($5, due),
	updated_at = now()
WHERE id = $1
RETURNING %s`, fields())
	updateStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- bookings.UpdateAdminMeta
UPDATE bookings
SET admin_comment = COALESCE($2, admin_comment),
	flagged = COALESCE($3, flagged),
	session_time = COALESCE($4, session_time),
	manually_handled = COALESCE($5, manually_handled),
	by_admin = COALESCE($6, by_admin),
	updated_at = now()
WHERE id = $1`
	updateMetaStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- bookings.CountByStatus
SELECT status, count(*) FROM bookings GROUP BY status`
	countsByStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- bookings.GetStaleOffered
SELECT %s FROM bookings
WHERE status = '%s' AND updated_at < $1
LIMIT %d`, fields(), models.StatusOffered, StaleOfferLimit)
	staleOfferedStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- bookings.Touch
UPDATE bookings
SET updated_at = now()
WHERE id = $1`
	touchStmt, err = db.Conn.Prepare(query)
	return
}

// CreateParams are the caller-supplied details for a new booking.
type CreateParams struct {
	CustomerID   string         `json:"customer_id"`
	LanguageFrom string         `json:"language_from"`
	LanguageTo   string         `json:"language_to"`
	Town         string         `json:"town"`
	Due          types.NullTime `json:"due"`
}

// Create inserts a new booking in the created state. A dberror.Error is
// returned if Postgres rejects the row.
func Create(id types.PrefixUUID, p CreateParams) (*models.Booking, error) {
	b := new(models.Booking)
	err := createStmt.QueryRow(id, p.CustomerID, p.LanguageFrom, p.LanguageTo, p.Town, p.Due).Scan(args(b)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return b, nil
}

// Get the booking with the given id. If no record could be found, the error
// will be bookings.ErrNotFound.
func Get(id types.PrefixUUID) (*models.Booking, error) {
	if id.UUID == uuid.Nil {
		return nil, errors.New("Invalid id")
	}
	b := new(models.Booking)
	err := getStmt.QueryRow(id).Scan(args(b)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return b, nil
}

// GetRetry attempts to retrieve the booking attempts times before giving up.
func GetRetry(id types.PrefixUUID, attempts uint8) (b *models.Booking, err error) {
	for i := uint8(0); i < attempts; i++ {
		b, err = Get(id)
		if err == nil || err == ErrNotFound {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return
}

// GetAll returns every booking, newest first.
func GetAll() ([]*models.Booking, error) {
	return list(allStmt.Query())
}

// GetForCustomer returns the bookings owned by the given customer.
func GetForCustomer(customerID string) ([]*models.Booking, error) {
	return list(forCustomerStmt.Query(customerID))
}

// GetHistory returns the ended and cancelled bookings the given user took
// part in, as customer or as translator.
func GetHistory(userID string) ([]*models.Booking, error) {
	return list(historyStmt.Query(userID))
}

// GetPotential returns the offer pool visible to a translator with the given
// languages and town: every offered or reopened booking matching both. The
// result is recomputed on every call.
func GetPotential(languages []string, town string) ([]*models.Booking, error) {
	return list(potentialStmt.Query(pq.Array(languages), town))
}

// Offer moves a created booking into the offer pool.
func Offer(id types.PrefixUUID) (*models.Booking, error) {
	return transition(offerStmt.QueryRow(id), id, "offer")
}

// Accept assigns the booking to the given translator if and only if it is
// still in the offer pool with no assignee. When several acceptances race,
// exactly one caller gets the booking back; every other caller receives
// a WrongStateError (or ErrNotFound if the id is unknown).
func Accept(id types.PrefixUUID, translatorID string) (*models.Booking, error) {
	return transition(acceptStmt.QueryRow(id, translatorID), id, "accept")
}

// Start moves an accepted booking to in-progress.
func Start(id types.PrefixUUID) (*models.Booking, error) {
	return transition(startStmt.QueryRow(id), id, "start")
}

// Cancel cancels an accepted or in-progress booking and releases the
// assignee slot.
func Cancel(id types.PrefixUUID) (*models.Booking, error) {
	return transition(cancelStmt.QueryRow(id), id, "cancel")
}

// End completes an in-progress booking, recording the session time.
func End(id types.PrefixUUID, sessionTime sql.NullString) (*models.Booking, error) {
	return transition(endStmt.QueryRow(id, sessionTime), id, "end")
}

// Reopen puts an ended or cancelled booking back in the offer pool with no
// assignee. Reopening an already-reopened booking succeeds and changes
// nothing; no second record is ever created.
func Reopen(id types.PrefixUUID) (*models.Booking, error) {
	return transition(reopenStmt.QueryRow(id), id, "reopen")
}

// MarkNotCalled records that the customer did not call for this booking. The
// lifecycle state is untouched.
func MarkNotCalled(id types.PrefixUUID) error {
	res, err := notCallStmt.Exec(id)
	if err != nil {
		return dberror.GetError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateParams is an explicit partial update: nil fields are left untouched.
type UpdateParams struct {
	LanguageFrom *string         `json:"language_from"`
	LanguageTo   *string         `json:"language_to"`
	Town         *string         `json:"town"`
	Due          *types.NullTime `json:"due"`
}

// Empty reports whether the update would touch no fields.
func (p UpdateParams) Empty() bool {
	return p.LanguageFrom == nil && p.LanguageTo == nil && p.Town == nil && p.Due == nil
}

// Update applies a partial update to the booking's details.
func Update(id types.PrefixUUID, p UpdateParams) (*models.Booking, error) {
	b := new(models.Booking)
	var due interface{}
	if p.Due != nil {
		due = *p.Due
	}
	err := updateStmt.QueryRow(id, p.LanguageFrom, p.LanguageTo, p.Town, due).Scan(args(b)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return b, nil
}

// AdminMetaParams is the administrative half of the distance feed: nil fields
// are left untouched.
type AdminMetaParams struct {
	Comment         *string `json:"admin_comment"`
	Flagged         *bool   `json:"flagged"`
	SessionTime     *string `json:"session_time"`
	ManuallyHandled *bool   `json:"manually_handled"`
	ByAdmin         *bool   `json:"by_admin"`
}

// Empty reports whether the update would touch no fields.
func (p AdminMetaParams) Empty() bool {
	return p.Comment == nil && p.Flagged == nil && p.SessionTime == nil &&
		p.ManuallyHandled == nil && p.ByAdmin == nil
}

// UpdateAdminMeta upserts the administrative metadata for a booking and
// reports whether a row was written. Flagging a booking without supplying a
// non-empty comment fails with ErrCommentRequired before anything is written.
//
// "Written" means the UPDATE matched the row; resubmitting identical values
// still reports true, the store does not diff old and new values.
func UpdateAdminMeta(id types.PrefixUUID, p AdminMetaParams) (bool, error) {
	if p.Flagged != nil && *p.Flagged && (p.Comment == nil || *p.Comment == "") {
		return false, ErrCommentRequired
	}
	if p.Empty() {
		return false, nil
	}
	res, err := updateMetaStmt.Exec(id, p.Comment, p.Flagged, p.SessionTime, p.ManuallyHandled, p.ByAdmin)
	if err != nil {
		return false, dberror.GetError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, ErrNotFound
	}
	return true, nil
}

// GetCountsByStatus returns the number of bookings in each lifecycle state.
func GetCountsByStatus() (map[models.BookingStatus]int64, error) {
	rows, err := countsByStatusStmt.Query()
	m := make(map[models.BookingStatus]int64)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var status models.BookingStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return m, err
		}
		m[status] = count
	}
	err = rows.Err()
	return m, err
}

// Touch bumps the booking's updated_at without changing anything else, so
// the stale-offer query stops returning a booking we just re-notified.
func Touch(id types.PrefixUUID) error {
	res, err := touchStmt.Exec(id)
	if err != nil {
		return dberror.GetError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStaleOffered finds offered bookings that haven't been touched since
// olderThan. A maximum of StaleOfferLimit bookings will be returned.
func GetStaleOffered(olderThan time.Time) ([]*models.Booking, error) {
	return list(staleOfferedStmt.Query(olderThan))
}

// transition scans the result of a conditional state UPDATE, and on zero rows
// re-reads the booking to tell "gone" apart from "in the wrong state".
func transition(row *sql.Row, id types.PrefixUUID, op string) (*models.Booking, error) {
	b := new(models.Booking)
	err := row.Scan(args(b)...)
	if err == nil {
		return b, nil
	}
	if err != sql.ErrNoRows {
		return nil, dberror.GetError(err)
	}
	current, gerr := Get(id)
	if gerr != nil {
		return nil, gerr
	}
	return nil, &WrongStateError{Op: op, Current: current.Status}
}

func list(rows *sql.Rows, err error) ([]*models.Booking, error) {
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	var bs []*models.Booking
	for rows.Next() {
		b := new(models.Booking)
		if err := rows.Scan(args(b)...); err != nil {
			return bs, err
		}
		bs = append(bs, b)
	}
	err = rows.Err()
	return bs, err
}

func insertFields() string {
	return `id,
	customer_id,
	language_from,
	language_to,
	town,
	due,
	status`
}

func fields() string {
	return fmt.Sprintf(`'%s' || id,
	customer_id,
	language_from,
	language_to,
	town,
	due,
	status,
	translator_id,
	admin_comment,
	flagged,
	manually_handled,
	by_admin,
	not_called,
	session_time,
	created_at,
	updated_at`, Prefix)
}

func args(b *models.Booking) []interface{} {
	return []interface{}{
		&b.ID,
		&b.CustomerID,
		&b.LanguageFrom,
		&b.LanguageTo,
		&b.Town,
		&b.Due,
		&b.Status,
		&b.TranslatorID,
		&b.AdminComment,
		&b.Flagged,
		&b.ManuallyHandled,
		&b.ByAdmin,
		&b.NotCalled,
		&b.SessionTime,
		&b.CreatedAt,
		&b.UpdatedAt,
	}
}

var flaggedCommentConstraint = &dberror.Constraint{
	Name: "bookings_flagged_comment_check",
	GetError: func(e *pq.Error) *dberror.Error {
		return &dberror.Error{
			Message:    "A flagged booking requires an admin comment",
			Constraint: e.Constraint,
			Table:      e.Table,
			Severity:   e.Severity,
			Detail:     e.Detail,
		}
	},
}

var assigneeStatusConstraint = &dberror.Constraint{
	Name: "bookings_assignee_status_check",
	GetError: func(e *pq.Error) *dberror.Error {
		return &dberror.Error{
			Message:    "A translator can only be assigned to an accepted or in-progress booking",
			Constraint: e.Constraint,
			Table:      e.Table,
			Severity:   e.Severity,
			Detail:     e.Detail,
		}
	},
}
