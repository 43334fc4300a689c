// Logic for interacting with the "translators" table.
//
// Translator profiles are reference data: this service reads them for
// eligibility checks and notification targeting, and only writes them from
// test factories.
package translators

import (
	"database/sql"
	"errors"
	"fmt"

	dberror "github.com/Shyp/go-dberror"
	"github.com/lib/pq"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/db"
)

// ErrNotFound indicates that the translator was not found.
var ErrNotFound = errors.New("Translator not found")

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var eligibleStmt *sql.Stmt

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- translators.Create
INSERT INTO translators (user_id, name, email, phone, push_token, town, languages)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING %s`, fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- translators.Get
SELECT %s
FROM translators
WHERE user_id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- translators.GetEligible
SELECT %s
FROM translators
WHERE $1 = ANY(languages)
	AND town = $2
ORDER BY created_at ASC`, fields())
	eligibleStmt, err = db.Conn.Prepare(query)
	return
}

// Create inserts a translator profile.
func Create(t models.Translator) (*models.Translator, error) {
	created := new(models.Translator)
	var langs pq.StringArray
	err := createStmt.QueryRow(t.UserID, t.Name, t.Email, t.Phone, t.PushToken, t.Town,
		pq.Array(t.Languages)).Scan(args(created, &langs)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	created.Languages = langs
	return created, nil
}

// Get the translator profile for the given user. If none exists, the error
// will be translators.ErrNotFound.
func Get(userID string) (*models.Translator, error) {
	t := new(models.Translator)
	var langs pq.StringArray
	err := getStmt.QueryRow(userID).Scan(args(t, &langs)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	t.Languages = langs
	return t, nil
}

// GetEligible returns every translator who can take a booking with the given
// target language and town. This is the offer pool for a single booking.
func GetEligible(languageTo string, town string) ([]*models.Translator, error) {
	rows, err := eligibleStmt.Query(languageTo, town)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	var ts []*models.Translator
	for rows.Next() {
		t := new(models.Translator)
		var langs pq.StringArray
		if err := rows.Scan(args(t, &langs)...); err != nil {
			return ts, err
		}
		t.Languages = langs
		ts = append(ts, t)
	}
	err = rows.Err()
	return ts, err
}

// Eligible reports whether the given translator can take the booking. The
// answer is false with no error when the profile does not exist.
func Eligible(userID string, b *models.Booking) (bool, error) {
	t, err := Get(userID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if t.Town != b.Town {
		return false, nil
	}
	for _, lang := range t.Languages {
		if lang == b.LanguageTo {
			return true, nil
		}
	}
	return false, nil
}

func fields() string {
	return `user_id,
	name,
	email,
	phone,
	push_token,
	town,
	languages,
	created_at`
}

func args(t *models.Translator, langs *pq.StringArray) []interface{} {
	return []interface{}{
		&t.UserID,
		&t.Name,
		&t.Email,
		&t.Phone,
		&t.PushToken,
		&t.Town,
		langs,
		&t.CreatedAt,
	}
}
