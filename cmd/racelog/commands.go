package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/racelog/internal/config"
	"github.com/banshee-data/racelog/internal/db"
	"github.com/banshee-data/racelog/internal/httputil"
	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/security"
	"github.com/banshee-data/racelog/internal/session"
	"github.com/banshee-data/racelog/internal/units"
)

var errUsage = errors.New("usage")

// archiveCommand parses the common flags, opens the archive and hands the
// remaining arguments to fn.
func archiveCommand(name string, args []string, fn func(cfg *config.Config, store archive, args []string) error) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	store, closeStore, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(cfg, store, fs.Args())
}

func parseStart(arg string) (int64, error) {
	start, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || start <= 0 {
		return 0, fmt.Errorf("invalid race start time %q", arg)
	}
	return start, nil
}

func timezone(cfg *config.Config) (*time.Location, error) {
	return units.Location(cfg.GetTimezone())
}

func runHistory(args []string, out io.Writer) error {
	return archiveCommand("history", args, func(cfg *config.Config, store archive, _ []string) error {
		loc, err := timezone(cfg)
		if err != nil {
			return err
		}
		races, err := session.NewManager(store, session.ManagerOptions{}).History(context.Background())
		if err != nil {
			return err
		}
		if len(races) == 0 {
			fmt.Fprintln(out, "No races recorded.")
			return nil
		}
		return printHistory(out, races, cfg.GetUnits(), loc)
	})
}

func printHistory(out io.Writer, races []*race.Race, system string, loc *time.Location) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tEND\tNAME\tLAPS\tDISTANCE\tAVG SPEED\tMAX SPEED\tFASTEST LAP")
	for _, r := range races {
		s := r.Summary()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			s.StartTime,
			units.FormatStartTime(s.StartTime, loc),
			units.FormatEndTime(s.EndTime, loc),
			s.Name,
			s.RoundCount,
			units.FormatDistance(float64(s.TotalDistance), system),
			units.FormatSpeed(s.AverageSpeed, system),
			units.FormatSpeed(s.MaximumSpeed, system),
			lapTime(s.FastestRoundTime, s.FastestRoundTime > 0),
		)
	}
	return tw.Flush()
}

func lapTime(seconds int64, finished bool) string {
	if !finished {
		return "-"
	}
	return units.FormatDuration(seconds)
}

func runShow(args []string, out io.Writer) error {
	return archiveCommand("show", args, func(cfg *config.Config, store archive, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: racelog show [flags] <start>", errUsage)
		}
		start, err := parseStart(args[0])
		if err != nil {
			return err
		}
		loc, err := timezone(cfg)
		if err != nil {
			return err
		}
		r, err := store.Race(context.Background(), start)
		if err != nil {
			return err
		}
		return printRace(out, r, cfg.GetUnits(), loc)
	})
}

func printRace(out io.Writer, r *race.Race, system string, loc *time.Location) error {
	s := r.Summary()
	fmt.Fprintf(out, "%s\n", s.Name)
	fmt.Fprintf(out, "Start:        %s\n", units.FormatStartTime(s.StartTime, loc))
	fmt.Fprintf(out, "End:          %s\n", units.FormatEndTime(s.EndTime, loc))
	fmt.Fprintf(out, "Distance:     %s\n", units.FormatDistance(float64(s.TotalDistance), system))
	fmt.Fprintf(out, "Avg speed:    %s\n", units.FormatSpeed(s.AverageSpeed, system))
	fmt.Fprintf(out, "Max speed:    %s (p85 %s)\n", units.FormatSpeed(s.MaximumSpeed, system), units.FormatSpeed(s.P85Speed, system))
	fmt.Fprintf(out, "Max tilt:     %s\n", units.FormatTilt(s.MaxTilt))
	fmt.Fprintf(out, "Max G-force:  %s\n", units.FormatGForce(s.MaximumForce))
	fmt.Fprintf(out, "Fastest lap:  %s\n", lapTime(s.FastestRoundTime, s.FastestRoundTime > 0))
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LAP\tTIME\tDISTANCE\tPOINTS")
	for _, l := range r.Laps() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n",
			l.Number,
			lapTime(l.Duration, l.Finished),
			units.FormatDistance(float64(l.Distance), system),
			l.Points,
		)
	}
	return tw.Flush()
}

func runExport(args []string, out io.Writer) error {
	return archiveCommand("export", args, func(cfg *config.Config, store archive, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("%w: racelog export [flags] <start> [file]", errUsage)
		}
		start, err := parseStart(args[0])
		if err != nil {
			return err
		}
		data, err := store.RaceRecord(context.Background(), start)
		if err != nil {
			return err
		}

		path := ""
		if len(args) == 2 {
			path = args[1]
		} else {
			r, err := race.Decode(data)
			if err != nil {
				return err
			}
			path = security.RaceExportName(r.Name(), r.StartTime())
		}
		if err := security.ValidateExportPath(path); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(out, "Exported race %d to %s\n", start, path)
		return nil
	})
}

func runDelete(args []string, out io.Writer) error {
	return archiveCommand("delete", args, func(_ *config.Config, store archive, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: racelog delete [flags] <start>", errUsage)
		}
		start, err := parseStart(args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteRace(context.Background(), start); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted race %d\n", start)
		return nil
	})
}

// liveStatus is the subset of /api/live printed by the status command.
type liveStatus struct {
	SessionID     string `json:"sessionId"`
	Phase         string `json:"phase"`
	Name          string `json:"name"`
	Rounds        int    `json:"rounds"`
	Points        int    `json:"points"`
	SpeedText     string `json:"speedText"`
	MaxSpeedText  string `json:"maxSpeedText"`
	MaxTiltText   string `json:"maxTiltText"`
	MaxGForceText string `json:"maxGForceText"`
	RoundTimeText string `json:"roundTimeText"`
	TotalTimeText string `json:"totalTimeText"`
}

// statusClient is the HTTP client of the status command.
var statusClient httputil.HTTPClient = httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})

func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "Base URL of a running racelog server")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var st liveStatus
	if err := httputil.DoJSON(context.Background(), statusClient, http.MethodGet, *server+"/api/live", nil, &st); err != nil {
		return err
	}
	if st.Phase != session.Racing.String() {
		fmt.Fprintln(out, "Not racing.")
		return nil
	}
	fmt.Fprintf(out, "Racing: %s (session %s)\n", st.Name, st.SessionID)
	fmt.Fprintf(out, "Lap %d  %s  total %s  %d points\n", st.Rounds, st.RoundTimeText, st.TotalTimeText, st.Points)
	fmt.Fprintf(out, "Speed %s  max %s  tilt %s  G %s\n", st.SpeedText, st.MaxSpeedText, st.MaxTiltText, st.MaxGForceText)
	return nil
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	if cfg.GetStore() != config.StoreSQLite {
		return fmt.Errorf("migrate needs the %s store, configured store is %s", config.StoreSQLite, cfg.GetStore())
	}
	return db.RunMigrateCommand(fs.Args(), cfg.GetDBPath(), out)
}
