// Run the booking server.
//
// All of the project defaults are used. There is one authenticated user for
// basic auth, the user is "test" and the password is "hymanbooking". You will
// want to copy this binary and add your own authentication scheme.
package booking

import (
	"log"
	"net/http"
	"os"
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

var serverDbConns int

func init() {
	var err error
	serverDbConns, err = config.GetInt("PG_SERVER_POOL_SIZE")
	if err != nil {
		log.Printf("Error getting database pool size: %s. Defaulting to 10", err)
		serverDbConns = 10
	}

	metrics.Namespace = "booking.server"

	// Change this user to a private value
	server.AddUser("test", "hymanbooking", server.CapabilityViewAllBookings)
}

func Example_server() {
	if err := setup.DB(db.DefaultConnection, serverDbConns); err != nil {
		log.Fatal(err)
	}

	metrics.Start("web")

	go setup.MeasureActiveQueries(5 * time.Second)

	dispatcher := notify.NewDispatcher(notify.Config{
		GatewayURL: os.Getenv("NOTIFY_GATEWAY_URL"),
		AdminEmail: os.Getenv("BOOKING_ADMIN_EMAIL"),
	})
	engine := services.NewEngine(dispatcher)

	log.Println("Listening on port 9090")
	log.Fatal(http.ListenAndServe(":9090", handlers.LoggingHandler(os.Stdout, server.Get(server.DefaultAuthorizer, engine))))
}
