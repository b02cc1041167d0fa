package main

import (
	"context"
	"flag"
	"log"

	"github.com/KENTA-CMC/learning-program/internal/config"
	"github.com/KENTA-CMC/learning-program/internal/database"
	"github.com/KENTA-CMC/learning-program/internal/observability"
)

func main() {
	steps := flag.Int("steps", 0, "number of migrations to apply or roll back (0 = all)")
	flag.Parse()

	action := "up"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	ctx := context.Background()
	logger := observability.NewLogger("migrate")

	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	dsn := cfg.Database.DSN()

	fields := map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Database,
		"action":   action,
	}

	switch action {
	case "up", "down":
		logger.Info(ctx, "Running migrations", fields)
		if err := database.Migrate(dsn, database.Direction(action), *steps); err != nil {
			logger.Error(ctx, "Migration failed", err, fields)
			log.Fatal(err)
		}
	case "version":
	default:
		log.Fatalf("unknown action %q (want up, down or version)", action)
	}

	status, err := database.Version(dsn)
	if err != nil {
		log.Fatal(err)
	}
	fields["version"] = status.Version
	fields["dirty"] = status.Dirty
	fields["applied"] = status.Applied
	logger.Info(ctx, "Schema version", fields)
}
