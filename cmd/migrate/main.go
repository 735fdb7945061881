package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"janseva.org/internal/migrate"
	"janseva.org/internal/obs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		obs.Logger().Error("migrate_failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	var (
		dsn            = flags.String("dsn", os.Getenv("PORTAL_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flags.String("migrations", "", "directory of *.up.sql/*.down.sql files (default: embedded schema)")
		seedsPath      = flags.String("seeds", "", "directory of SQL seed files")
		timeout        = flags.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|seed|status")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *dsn == "" {
		return errors.New("missing DSN: provide via --dsn or PORTAL_PG_DSN")
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("missing command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, dirFS(*migrationsPath), seedOption(*seedsPath)...)

	cmd := flags.Arg(0)
	var names []string
	switch cmd {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			names = []string{name}
		}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd, err)
	}
	obs.Logger().Info("migrate_complete", "command", cmd, "files", len(names))
	return nil
}

// dirFS returns nil for an empty path so the manager falls back to the embedded schema.
func dirFS(path string) fs.FS {
	if path == "" {
		return nil
	}
	return os.DirFS(path)
}

func seedOption(path string) []migrate.Option {
	if path == "" {
		return nil
	}
	return []migrate.Option{migrate.WithSeeds(os.DirFS(path))}
}
