// Command ingest loads the item value table from a JSON export into the
// postgres catalog. The previous table is replaced in one transaction.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"trading-desk/internal/applog"
	"trading-desk/internal/catalog"
	"trading-desk/internal/domain"
	"trading-desk/internal/pricing"
	"trading-desk/internal/storage/migrations"
	pgstore "trading-desk/internal/storage/postgres"
)

func main() {
	catalogPath := flag.String("catalog", os.Getenv("CATALOG_PATH"), "Catalog JSON file to import")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	dryRun := flag.Bool("dry-run", false, "Validate the file without writing")
	timeout := flag.Duration("timeout", time.Minute, "Overall import timeout")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := applog.New(*logLevel, false)

	if *catalogPath == "" {
		logger.Fatal("--catalog is required")
	}
	if !*dryRun && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --dry-run to only validate)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	entries, err := catalog.NewFileSource(*catalogPath).LoadCatalog(ctx)
	if err != nil {
		logger.WithError(err).Fatal("read catalog")
	}

	stats := inspect(entries, logger)
	logger.WithFields(logrus.Fields{
		"entries":       len(entries),
		"clean_priced":  stats.clean,
		"duped_priced":  stats.duped,
		"unparseable":   stats.bad,
		"without_value": len(entries) - stats.clean,
	}).Info("catalog parsed")

	if *dryRun {
		return
	}

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.WithError(err).Fatal("connect to postgres")
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.WithError(err).Fatal("postgres migrations")
	}

	start := time.Now()
	if err := pgstore.NewCatalogStore(pool).ReplaceAll(ctx, entries); err != nil {
		logger.WithError(err).Fatal("import catalog")
	}
	logger.WithFields(logrus.Fields{
		"entries":  len(entries),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("catalog imported")
}

type catalogStats struct {
	clean int
	duped int
	bad   int
}

// inspect counts priced entries and warns on values that do not parse.
// Unparseable values are imported as-is and surface as unavailable at add time.
func inspect(entries []domain.CatalogEntry, logger *logrus.Logger) catalogStats {
	var s catalogStats
	for _, e := range entries {
		for _, c := range []domain.Condition{domain.ConditionClean, domain.ConditionDuped} {
			raw := e.RawValue(c)
			_, err := pricing.ParseValue(raw)
			if errors.Is(err, domain.ErrValueUnavailable) {
				continue
			}
			if err != nil {
				s.bad++
				logger.WithFields(logrus.Fields{
					"item":      e.Name,
					"condition": c,
					"value":     raw,
				}).Debug("value not parseable")
				continue
			}
			if c == domain.ConditionClean {
				s.clean++
			} else {
				s.duped++
			}
		}
	}
	return s
}
