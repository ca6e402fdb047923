/*
This command provides an executable version of the esigate gateway.

For the list of command line options, run:

	esigate -help

The instances are configured from properties files:

	esigate -properties-file esigate.properties

For details about the instance properties, see the documentation of the
driver and the registry packages.
*/
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/FMHsieh/esigate"
	"github.com/FMHsieh/esigate/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	log.SetLevel(cfg.ApplicationLogLevel)

	if err := esigate.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
