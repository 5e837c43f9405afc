// Command racelog records track sessions from GPS and accelerometer serial
// feeds and serves the live state and the race archive over HTTP.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/racelog/internal/version"
)

var errUnknownCommand = errors.New("unknown command")

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	command := flag.Arg(0)
	if err := run(command, flag.Args()[1:], os.Stdout); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			os.Exit(2)
		case errors.Is(err, errUnknownCommand), errors.Is(err, errUsage):
			fmt.Fprintln(os.Stderr, err)
			printUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatalf("%s: %v", command, err)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "serve":
		return runServe(args)
	case "history":
		return runHistory(args, out)
	case "show":
		return runShow(args, out)
	case "export":
		return runExport(args, out)
	case "delete":
		return runDelete(args, out)
	case "status":
		return runStatus(args, out)
	case "migrate":
		return runMigrate(args, out)
	case "version":
		fmt.Fprintln(out, version.String())
		return nil
	case "help":
		printUsage(out)
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `racelog - track session recorder

Usage: racelog <command> [options]

Commands:
  serve              Record sessions from the sensors and serve the HTTP API
  history            List archived races, newest first
  show <start>       Show a race with its lap times
  export <start> [file]
                     Write a race record to file (default: <start>-<name>.json)
  delete <start>     Remove a race from the archive
  status             Show the live state of a running server
  migrate <action>   Manage the SQLite schema (up, down, status, version, force)
  version            Show build information
  help               Show this help message

Common Flags:
  -config <file>     JSON configuration file
  -db-path <file>    SQLite database (store "sqlite")
  -store <name>      Race store: sqlite or files
  -races-dir <dir>   Record directory (store "files")
  -units <system>    metric or imperial

Environment:
  RACELOG_* variables override the configuration file, e.g. RACELOG_GPS_PORT.
  Flags override both.
`)
}
