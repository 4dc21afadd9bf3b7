package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/pkg/errors"

	dig_container "github.com/trezcool/masomo-bulletins/apps/api/di/dig"
	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/results"
	"github.com/trezcool/masomo-bulletins/storage/database"
)

func main() {
	logger := log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	cli := commandLine{
		conf: conf,
		out:  os.Stdout,
		openDB: func() (*sql.DB, error) {
			db, err := database.Open(conf)
			if err != nil {
				return nil, err
			}
			return db.DB, nil
		},
		services: func() (services, error) {
			var svcs services
			err := dig_container.New().Invoke(func(res *results.Service, coordinator *bulletin.Coordinator) {
				svcs = services{results: res, coordinator: coordinator}
			})
			return svcs, errors.Wrap(err, "building services")
		},
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s [%s]\n", err, core.CodeOf(err))
		}
		os.Exit(1)
	}
}
