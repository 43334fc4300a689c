package main

import (
	"log"

	"github.com/lingora/booking/models/db"
	"github.com/lingora/booking/setup"
	"github.com/lingora/booking/test"
)

func main() {
	if err := setup.DB(db.DefaultConnection, 1); err != nil {
		log.Fatal(err)
	}
	if err := test.TruncateTables(nil); err != nil {
		log.Fatal(err)
	}
}
