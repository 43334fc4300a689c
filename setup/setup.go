// Setup helps initialize applications.
package setup

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/models/db"
	"github.com/lingora/booking/models/distances"
	"github.com/lingora/booking/models/translators"
)

var mu sync.Mutex

// TODO not sure for the best place for this to live.
var activeQueriesStmt *sql.Stmt

func prepare() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	activeQueriesStmt, err = db.Conn.Prepare(`-- setup.GetActiveQueries
SELECT count(*) FROM pg_stat_activity
WHERE state='active'
	`)
	return
}

func GetActiveQueries() (count int64, err error) {
	err = activeQueriesStmt.QueryRow().Scan(&count)
	return
}

// TODO all of these should use a different database connection than the server
// or the worker, to avoid contention.
func MeasureActiveQueries(interval time.Duration) {
	for range time.Tick(interval) {
		count, err := GetActiveQueries()
		if err == nil {
			go metrics.Measure("active_queries.count", count)
		} else {
			go metrics.Increment("active_queries.error")
		}
	}
}

// MeasureOfferPool reports how many bookings are sitting in the offer pool
// (offered or reopened) waiting for a translator.
func MeasureOfferPool(interval time.Duration) {
	for range time.Tick(interval) {
		m, err := bookings.GetCountsByStatus()
		if err == nil {
			pool := m[models.StatusOffered] + m[models.StatusReopened]
			go metrics.Measure("bookings.offer_pool.depth", pool)
			go metrics.Measure("bookings.in_progress", m[models.StatusInProgress])
			go metrics.Measure("bookings.accepted", m[models.StatusAccepted])
		} else {
			go metrics.Increment("bookings.offer_pool.error")
		}
	}
}

// DB initializes a connection to the database, and prepares queries on all
// models.
func DB(connector db.Connector, dbConns int) error {
	mu.Lock()
	defer mu.Unlock()
	if db.Conn == nil {
		db.Conn = &sql.DB{}
	} else {
		if err := db.Conn.Ping(); err == nil {
			// Already connected.
			return nil
		}
	}
	if err := connector.Connect(db.Conn, dbConns); err != nil {
		return errors.New("Could not establish a database connection: " + err.Error())
	}
	if err := db.Conn.Ping(); err != nil {
		return errors.New("Could not establish a database connection: " + err.Error())
	}
	return PrepareAll()
}

func PrepareAll() error {
	if err := bookings.Setup(); err != nil {
		return err
	}
	if err := distances.Setup(); err != nil {
		return err
	}
	if err := translators.Setup(); err != nil {
		return err
	}
	if err := prepare(); err != nil {
		return err
	}
	return nil
}
