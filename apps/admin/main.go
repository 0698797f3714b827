package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
	"github.com/trezcool/masomo-fees/services/events"
	"github.com/trezcool/masomo-fees/services/logger"
	"github.com/trezcool/masomo-fees/storage/database"
	"github.com/trezcool/masomo-fees/storage/database/sqlboiler"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)

	// set up DB (the database may not exist yet for `createdb`)
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	if len(os.Args) > 1 && os.Args[1] != "createdb" {
		if err = database.Ping(context.Background(), db); err != nil {
			logger.Fatal("pinging database", err)
		}
	}

	// start CLI
	cli := commandLine{
		conf: conf,
		db:   db,
		feeSvc: fee.NewService(
			boiledrepos.NewFeeRepository(db),
			nil, /* mailSvc */
			eventsvc.NewLogPublisher(logger),
			nil, /* statements */
			logger,
			conf,
		),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	logger.Close()
	if err != nil {
		if err != errHelp {
			log.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
