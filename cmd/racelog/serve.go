package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/racelog/internal/api"
	"github.com/banshee-data/racelog/internal/config"
	"github.com/banshee-data/racelog/internal/db"
	"github.com/banshee-data/racelog/internal/sensors"
	"github.com/banshee-data/racelog/internal/serialmux"
	"github.com/banshee-data/racelog/internal/session"
	"github.com/banshee-data/racelog/internal/units"
)

// Replay pacing of the dev recording: GGA and RMC for one fix every second,
// accelerometer samples at 20 Hz.
const (
	devNMEAInterval   = 500 * time.Millisecond
	devMotionInterval = 50 * time.Millisecond
)

const shutdownTimeout = 5 * time.Second

// serveOptions selects where sensor lines come from.
type serveOptions struct {
	dev      bool
	fixtures string

	nmeaInterval   time.Duration
	motionInterval time.Duration
}

// app is a running racelog: the archive, one mux and source per sensor, the
// session manager and the HTTP handler in front of it.
type app struct {
	store      archive
	closeStore func() error

	gpsMux serialmux.SerialMuxInterface
	imuMux serialmux.SerialMuxInterface
	gps    *sensors.GPSSource
	imu    *sensors.IMUSource

	hub     *api.LiveHub
	manager *session.Manager
	handler http.Handler
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	listen := fs.String("listen", "", "Listen address (overrides config)")
	devMode := fs.Bool("dev", false, "Replay the fixtures recording instead of opening serial ports")
	fixtures := fs.String("fixtures", "fixtures/session.txt", "Recording replayed in dev mode")
	gpsPort := fs.String("gps-port", "", "GPS serial device (overrides config)")
	imuPort := fs.String("imu-port", "", "Accelerometer serial device (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	override(&cfg.Listen, *listen)
	override(&cfg.GPSPort, *gpsPort)
	override(&cfg.IMUPort, *imuPort)
	if cfg.GetListen() == "" {
		return errors.New("listen address is required")
	}

	a, err := newApp(cfg, serveOptions{
		dev:            *devMode,
		fixtures:       *fixtures,
		nmeaInterval:   devNMEAInterval,
		motionInterval: devMotionInterval,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.GetListen())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GetListen(), err)
	}
	log.Printf("listening on %s (store %s, units %s)", ln.Addr(), cfg.GetStore(), cfg.GetUnits())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.run(ctx, ln); err != nil {
		return err
	}
	log.Printf("Graceful shutdown complete")
	return nil
}

func newApp(cfg *config.Config, opts serveOptions) (*app, error) {
	loc, err := units.Location(cfg.GetTimezone())
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openArchive(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, closeStore: closeStore}

	if err := a.openSensors(cfg, opts); err != nil {
		a.Close()
		return nil, err
	}

	a.gps = sensors.NewGPSSource(a.gpsMux, sensors.GPSOptions{
		ReportInterval: cfg.GetPositionReportInterval(),
		MinAccuracy:    cfg.GetMinAccuracyM(),
	})
	a.imu = sensors.NewIMUSource(a.imuMux, sensors.IMUOptions{
		ReportInterval: cfg.GetMotionReportInterval(),
	})
	if err := a.gps.Initialize(a.gpsMux); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialise gps: %w", err)
	}

	a.hub = api.NewLiveHub()
	a.manager = session.NewManager(store, session.ManagerOptions{
		Positions: a.gps,
		Motion:    a.imu,
		View:      a.hub,
	})

	mux := api.NewServer(api.Options{
		Manager:  a.manager,
		Records:  store,
		Hub:      a.hub,
		Units:    cfg.GetUnits(),
		Location: loc,
	}).ServeMux()

	// admin debugging routes, reachable from localhost or over Tailscale
	if d, ok := store.(*db.DB); ok {
		d.AttachAdminRoutes(mux)
	}
	a.gpsMux.AttachAdminRoutes(mux)
	a.imuMux.AttachAdminRoutes(mux)

	a.handler = api.LoggingMiddleware(mux)
	return a, nil
}

// openSensors creates the GPS and IMU muxes: replayed from the recording in
// dev mode, real serial ports when configured, disabled otherwise.
func (a *app) openSensors(cfg *config.Config, opts serveOptions) error {
	if opts.dev {
		f, err := os.Open(opts.fixtures)
		if err != nil {
			return fmt.Errorf("failed to open fixtures file: %w", err)
		}
		defer f.Close()
		nmea, motion, err := serialmux.SplitRecording(f)
		if err != nil {
			return fmt.Errorf("failed to read fixtures file: %w", err)
		}
		log.Printf("dev mode: replaying %d NMEA and %d motion lines from %s", len(nmea), len(motion), opts.fixtures)
		a.gpsMux = serialmux.NewReplaySerialMux("gps", nmea, opts.nmeaInterval)
		a.imuMux = serialmux.NewReplaySerialMux("imu", motion, opts.motionInterval)
		return nil
	}

	var err error
	a.gpsMux, err = openSensor("gps", cfg.GetGPSPort(), cfg.GetGPSSerial())
	if err != nil {
		return err
	}
	a.imuMux, err = openSensor("imu", cfg.GetIMUPort(), cfg.GetIMUSerial())
	return err
}

func openSensor(name, port string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	if port == "" {
		log.Printf("%s: no serial port configured, sensor disabled", name)
		return serialmux.NewDisabledSerialMux(name), nil
	}
	m, err := serialmux.NewRealSerialMux(name, port, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s port: %w", name, err)
	}
	log.Printf("%s: opened %s at %d baud", name, port, opts.BaudRate)
	return m, nil
}

// run serves ln and the sensor loops until ctx is done. On the way down an
// active race is ended and saved before the server stops.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range []serialmux.SerialMuxInterface{a.gpsMux, a.imuMux} {
		g.Go(func() error {
			if err := m.Monitor(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := a.gps.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("gps source stopped: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.imu.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("imu source stopped: %v", err)
		}
		return nil
	})

	server := &http.Server{Handler: a.handler}
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.endActiveRace()

		// Live streams only return once the hub is closed.
		a.hub.Close()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
		return nil
	})

	return g.Wait()
}

func (a *app) endActiveRace() {
	if a.manager.Phase() != session.Racing {
		return
	}
	r, err := a.manager.End(context.Background())
	if err != nil {
		log.Printf("failed to save active race on shutdown: %v", err)
		return
	}
	log.Printf("saved active race %q (%d)", r.Name(), r.StartTime())
}

// Close releases the sensors and the archive.
func (a *app) Close() error {
	var errs []error
	for _, m := range []serialmux.SerialMuxInterface{a.gpsMux, a.imuMux} {
		if m != nil {
			errs = append(errs, m.Close())
		}
	}
	if a.closeStore != nil {
		errs = append(errs, a.closeStore())
	}
	return errors.Join(errs...)
}
