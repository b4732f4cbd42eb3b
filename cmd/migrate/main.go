package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"

	"github.com/rl1809/settlement/internal/adapter/storage"
	"github.com/rl1809/settlement/internal/config"
	"github.com/rl1809/settlement/internal/logger"
)

const usage = `usage: migrate [-steps N] up|down|version|force VERSION`

func main() {
	steps := flag.Int("steps", 0, "number of migrations to apply or revert (0 means all)")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to open mysql")
	}
	defer db.Close()

	m, err := storage.NewMigrator(db)
	if err != nil {
		log.WithError(err).Fatal("failed to create migrator")
	}

	switch cmd := flag.Arg(0); cmd {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "force":
		var version int
		if _, scanErr := fmt.Sscanf(flag.Arg(1), "%d", &version); scanErr != nil {
			log.Fatalf("force needs a version: %v", scanErr)
		}
		err = m.Force(version)
	case "version":
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.WithError(err).Fatal("migration failed")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("no migrations applied")
	case err != nil:
		log.WithError(err).Fatal("failed to read version")
	default:
		log.WithField("dirty", dirty).Infof("schema at version %d", version)
	}
}
