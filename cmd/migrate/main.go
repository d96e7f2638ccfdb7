package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/db"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	// file-only commands work without config or a database
	if done, code := runOffline(opts, stdout, stderr); done {
		return code
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Output:      stderr,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "dir": opts.dir})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		return 1
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "database handle unavailable", err)
		return 1
	}

	if err := runOnline(ctx, sqlDB, opts, stdout); err != nil {
		logg.Error(ctx, "migrate failed", err)
		return 1
	}
	logg.Info(ctx, "migrate finished")
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.cmd, "cmd", "up", "up|down|status|redo|reset|pending|version|create|validate")
	fs.StringVar(&opts.dir, "dir", "", "migrations directory on disk; empty uses the embedded set")
	fs.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	fs.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	return opts, fs.Parse(args)
}

func runOffline(opts options, stdout, stderr io.Writer) (bool, int) {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			fmt.Fprintln(stderr, "missing -name for create")
			return true, 1
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name, time.Now())
		if err != nil {
			fmt.Fprintf(stderr, "create migration: %v\n", err)
			return true, 1
		}
		fmt.Fprintln(stdout, "created migration:", path)
		return true, 0
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			fmt.Fprintf(stderr, "migration validation failed: %v\n", err)
			return true, 1
		}
		fmt.Fprintln(stdout, "migration validation passed")
		return true, 0
	case "pending", "up", "down", "status", "redo", "reset", "version":
		if opts.cmd == "version" && opts.version == "" {
			fmt.Fprintln(stderr, "missing -version for version command")
			return true, 1
		}
		return false, 0
	default:
		fmt.Fprintln(stderr, "unknown -cmd value:", opts.cmd)
		return true, 1
	}
}

func runOnline(ctx context.Context, sqlDB *sql.DB, opts options, stdout io.Writer) error {
	switch opts.cmd {
	case "pending":
		n, err := migrate.Pending(sqlDB, opts.dir)
		if err != nil {
			return fmt.Errorf("pending check: %w", err)
		}
		fmt.Fprintln(stdout, "pending migrations:", n)
		return nil
	case "version":
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	default:
		return migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	}
}
