package sensors

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/racelog/internal/monitoring"
	"github.com/banshee-data/racelog/internal/timeutil"
)

var gpsLog = monitoring.Prefix("gps")

const (
	// DefaultPositionInterval is the default minimum spacing of position events.
	DefaultPositionInterval = 100 * time.Millisecond

	// DefaultMinAccuracy is the default worst horizontal accuracy, in metres,
	// for which a fix is still reported.
	DefaultMinAccuracy = 25.0

	// metresPerHDOP converts horizontal dilution of precision into an
	// approximate horizontal error for a consumer grade receiver.
	metresPerHDOP = 5.0

	knotsToMetresPerSecond = 1852.0 / 3600.0
)

// GPSOptions configures a GPSSource.
type GPSOptions struct {
	// ReportInterval is the minimum time between two position events.
	ReportInterval time.Duration
	// MinAccuracy is the largest accepted horizontal error in metres.
	MinAccuracy float64
	Clock       timeutil.Clock
}

func (o GPSOptions) withDefaults() GPSOptions {
	if o.ReportInterval <= 0 {
		o.ReportInterval = DefaultPositionInterval
	}
	if o.MinAccuracy <= 0 {
		o.MinAccuracy = DefaultMinAccuracy
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// GPSSource reads NMEA 0183 sentences and publishes position events built
// from RMC sentences. The accuracy of a fix comes from the HDOP of the most
// recent GGA sentence; RMC sentences seen before any GGA are not reported.
type GPSSource struct {
	lines LineSource
	opts  GPSOptions
	feed  *feed[PositionEvent]

	mu       sync.Mutex
	hdop     float64
	haveHDOP bool
	throttle throttle
}

// NewGPSSource creates a position source reading from lines.
func NewGPSSource(lines LineSource, opts GPSOptions) *GPSSource {
	opts = opts.withDefaults()
	return &GPSSource{
		lines:    lines,
		opts:     opts,
		feed:     newFeed[PositionEvent](),
		throttle: throttle{interval: opts.ReportInterval},
	}
}

// SubscribePositions registers a new position subscriber.
func (g *GPSSource) SubscribePositions() (string, <-chan PositionEvent) {
	return g.feed.subscribe()
}

// Unsubscribe removes a subscriber and closes its channel.
func (g *GPSSource) Unsubscribe(id string) {
	g.feed.unsubscribe(id)
}

// InitCommands returns the PMTK commands that set the receiver's fix rate from
// the report interval and restrict its output to the RMC and GGA sentences the
// source consumes.
func (g *GPSSource) InitCommands() []string {
	rate := g.opts.ReportInterval.Milliseconds()
	if rate < 100 {
		// MTK receivers cannot fix faster than 10 Hz.
		rate = 100
	}
	return []string{
		PMTKCommand(fmt.Sprintf("PMTK220,%d", rate)),
		PMTKCommand("PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0"),
	}
}

// Initialize writes InitCommands to the receiver.
func (g *GPSSource) Initialize(dev Device) error {
	return dev.Initialize(g.InitCommands()...)
}

// PMTKCommand frames an NMEA command body with its leading '$' and checksum.
func PMTKCommand(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", body, sum)
}

// Run consumes lines until ctx is done or the line source closes the
// subscription, then closes every position subscription. Malformed sentences
// are logged and skipped.
func (g *GPSSource) Run(ctx context.Context) error {
	id, lines := g.lines.Subscribe()
	defer g.lines.Unsubscribe(id)
	defer g.feed.close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := g.HandleSentence(line); err != nil {
				gpsLog("%v", err)
			}
		}
	}
}

// HandleSentence parses one NMEA sentence and publishes a position event when
// it yields a fix that passes the accuracy gate and the report interval.
// Unsupported sentence types are ignored.
func (g *GPSSource) HandleSentence(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return nil
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			g.haveHDOP = false
			return nil
		}
		g.hdop, g.haveHDOP = s.HDOP, true
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC || !g.haveHDOP {
			return nil
		}
		accuracy := g.hdop * metresPerHDOP
		if accuracy > g.opts.MinAccuracy {
			return nil
		}
		now := g.opts.Clock.Now()
		if !g.throttle.allow(now) {
			return nil
		}
		g.feed.publish(PositionEvent{
			Longitude: s.Longitude,
			Latitude:  s.Latitude,
			Speed:     s.Speed * knotsToMetresPerSecond,
			Heading:   s.Course,
			Accuracy:  accuracy,
			Time:      fixTime(s, now),
		})
	}
	return nil
}

// fixTime returns the UTC time of the fix, or fallback when the sentence
// carries no valid date and time.
func fixTime(s nmea.RMC, fallback time.Time) time.Time {
	if !s.Date.Valid || !s.Time.Valid {
		return fallback
	}
	return time.Date(2000+s.Date.YY, time.Month(s.Date.MM), s.Date.DD,
		s.Time.Hour, s.Time.Minute, s.Time.Second, s.Time.Millisecond*int(time.Millisecond), time.UTC)
}
