package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/KENTA-CMC/learning-program/internal/database"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the database, schema and Redis are reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		e, err := loadEnv(ctx, false)
		if err != nil {
			return err
		}

		failed := 0
		report := func(name string, err error) {
			if err != nil {
				failed++
				pterm.Error.Printfln("%s: %v", name, err)
				return
			}
			pterm.Success.Println(name)
		}

		db, err := sql.Open("postgres", e.cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer db.Close()
		report("database "+e.cfg.Database.Database, database.HealthCheck(ctx, db, e.cfg.Dataset.Table))

		if e.cfg.Redis.Enabled {
			rdb := redis.NewClient(&redis.Options{Addr: e.cfg.Redis.Addr, Password: e.cfg.Redis.Password, DB: e.cfg.Redis.DB})
			defer rdb.Close()
			report("redis "+e.cfg.Redis.Addr, rdb.Ping(ctx).Err())
		}

		if e.cfg.LLMAPIKey() == "" {
			pterm.Warning.Printfln("no %s API key; questions are answered from templates", e.cfg.LLM.Provider)
		}

		if failed > 0 {
			return fmt.Errorf("%d checks failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
