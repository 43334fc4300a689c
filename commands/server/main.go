// Run the booking server.
//
// All of the project defaults are used. There is one authenticated user for
// basic auth, the user is "test" and the password is "hymanbooking". You will
// want to copy this binary and add your own authentication scheme.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/gorilla/handlers"
	"github.com/lingora/booking/config"
	"github.com/lingora/booking/models/db"
	"github.com/lingora/booking/notify"
	"github.com/lingora/booking/server"
	"github.com/lingora/booking/services"
	"github.com/lingora/booking/setup"
)

// offerReminderAge is how long an offer can sit unanswered before eligible
// translators are reminded about it.
const offerReminderAge = 30 * time.Minute

func configure() (http.Handler, *services.Engine, error) {
	dbConns, err := config.GetInt("PG_SERVER_POOL_SIZE")
	if err != nil {
		log.Printf("Error getting database pool size: %s. Defaulting to 10", err)
		dbConns = 10
	}

	if err = setup.DB(db.DefaultConnection, dbConns); err != nil {
		return nil, nil, err
	}

	metrics.Namespace = "booking.server"
	metrics.Start("web")

	go setup.MeasureActiveQueries(5 * time.Second)
	go setup.MeasureOfferPool(5 * time.Second)

	httpConns, err := config.GetInt("HTTP_MAX_IDLE_CONNS")
	if err == nil {
		config.SetMaxIdleConnsPerHost(httpConns)
	} else {
		config.SetMaxIdleConnsPerHost(100)
	}

	gatewayURL := config.GetURLOrBail("NOTIFY_GATEWAY_URL")
	gatewayUser, gatewayToken, _ := strings.Cut(os.Getenv("NOTIFY_GATEWAY_AUTH"), ":")
	dispatcher := notify.NewDispatcher(notify.Config{
		GatewayURL:   gatewayURL.String(),
		GatewayUser:  gatewayUser,
		GatewayToken: gatewayToken,
		AdminEmail:   os.Getenv("BOOKING_ADMIN_EMAIL"),
	})
	engine := services.NewEngine(dispatcher)

	// If you run this in production, change these users.
	server.AddUser("test", "hymanbooking")
	server.AddUser("admin", "hymanbooking", server.CapabilityViewAllBookings)
	return server.Get(server.DefaultAuthorizer, engine), engine, nil
}

func main() {
	s, engine, err := configure()
	if err != nil {
		log.Fatal(err)
	}

	go engine.WatchUnansweredOffers(time.Minute, offerReminderAge)

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	log.Printf("Listening on port %s\n", port)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%s", port), handlers.LoggingHandler(os.Stdout, s)))
}
