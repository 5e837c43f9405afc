package db

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
)

// ErrUnknownMigrateAction is returned for an unrecognised migrate subcommand.
var ErrUnknownMigrateAction = errors.New("unknown migrate action")

// RunMigrateCommand handles the 'migrate' subcommand. Status output goes to
// out; progress is logged.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		if len(args) < 1 {
			return fmt.Errorf("%w: none given", ErrUnknownMigrateAction)
		}
		return nil
	}

	// Open without migrating: the schema is what this command manages.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		log.Printf("Running migrations...")
		if err := database.MigrateUp(); err != nil {
			return err
		}
		return printVersion(database, out)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(); err != nil {
			return err
		}
		return printVersion(database, out)

	case "status":
		return printStatus(database, out)

	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: racelog migrate %s <version_number>", action)
		}
		version, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if action == "force" {
			log.Printf("Forcing migration version to %d", version)
			if err := database.MigrateForce(int(version)); err != nil {
				return err
			}
		} else {
			log.Printf("Migrating to version %d...", version)
			if err := database.MigrateTo(uint(version)); err != nil {
				return err
			}
		}
		return printVersion(database, out)

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("%w: %s", ErrUnknownMigrateAction, action)
	}
}

func printVersion(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printStatus(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest available: %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	switch {
	case dirty:
		fmt.Fprintln(out, "Database is in a dirty state. Inspect it, then run: racelog migrate force <version>")
	case version < latest:
		fmt.Fprintf(out, "Database is %d version(s) behind. Run: racelog migrate up\n", latest-version)
	default:
		fmt.Fprintln(out, "Database is up to date.")
	}
	return nil
}

// PrintMigrateHelp writes the usage of the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Database Migration Commands

Usage: racelog migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  help            Show this help message
`)
}
