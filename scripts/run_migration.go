// Command run_migration applies schema changes against the configured
// Postgres database: either a single SQL file, or every *.sql file in a
// directory applied in lexical order and recorded in a schema_migrations
// table so a repeated run only applies what's new.
//
// Grounded on cmd/backtest/main.go's config/logger bootstrap (-config flag,
// config.Load, telemetry.New) so this script resolves its database URL and
// its logger the same way every long-running binary in this repo does,
// rather than carrying its own hardcoded default and fmt.Printf trail.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/config"
	"github.com/nitinkhare/tradeforge/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	dbURL := flag.String("db", "", "database URL (overrides config's database_url)")
	migrationFile := flag.String("file", "", "single migration SQL file to run")
	migrationDir := flag.String("dir", "", "directory of *.sql migrations to run in lexical order")
	flag.Parse()

	if *migrationFile == "" && *migrationDir == "" {
		fmt.Fprintln(os.Stderr, "usage: run_migration -file <path-to-sql-file> | -dir <migrations-dir> [-db <url>] [-config <path>]")
		os.Exit(1)
	}

	cfg, cfgErr := config.Load(*configPath)
	resolvedURL := *dbURL
	if resolvedURL == "" {
		if cfgErr != nil {
			fmt.Fprintf(os.Stderr, "run_migration: load config: %v (pass -db explicitly if no config file is available)\n", cfgErr)
			os.Exit(1)
		}
		resolvedURL = cfg.DatabaseURL
	}

	log := zerolog.Logger{}
	if cfgErr == nil {
		var err error
		log, err = telemetry.New(cfg.Logging, "run_migration")
		if err != nil {
			fmt.Fprintf(os.Stderr, "run_migration: %v\n", err)
			os.Exit(1)
		}
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", "run_migration").Logger()
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, resolvedURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database pool")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("connected to database")

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema_migrations table")
	}

	files, err := migrationFiles(*migrationFile, *migrationDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve migration files")
	}

	for _, path := range files {
		name := filepath.Base(path)

		var alreadyApplied bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).Scan(&alreadyApplied); err != nil {
			log.Fatal().Err(err).Str("file", name).Msg("failed to check schema_migrations")
		}
		if alreadyApplied {
			log.Info().Str("file", name).Msg("already applied, skipping")
			continue
		}

		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", name).Msg("failed to read migration file")
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
				return fmt.Errorf("execute migration: %w", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
				return fmt.Errorf("record migration: %w", err)
			}
			return nil
		})
		if err != nil {
			log.Fatal().Err(err).Str("file", name).Msg("migration failed")
		}
		log.Info().Str("file", name).Msg("migration applied")
	}
}

// migrationFiles resolves -file/-dir into an ordered list of paths to run.
// A directory is globbed for *.sql and sorted lexically, the convention
// every migration tool in the ecosystem relies on for numbered filenames
// (0001_init.sql, 0002_add_index.sql, ...).
func migrationFiles(file, dir string) ([]string, error) {
	if file != "" {
		return []string{file}, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
