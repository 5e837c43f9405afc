package sensors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/racelog/internal/monitoring"
	"github.com/banshee-data/racelog/internal/timeutil"
)

var imuLog = monitoring.Prefix("imu")

// DefaultMotionInterval is the default minimum spacing of motion events.
const DefaultMotionInterval = 50 * time.Millisecond

// IMUOptions configures an IMUSource.
type IMUOptions struct {
	// ReportInterval is the minimum time between two motion events.
	ReportInterval time.Duration
	Clock          timeutil.Clock
}

// IMUSource reads accelerometer samples written as "ax,ay,az" lines, each axis
// in multiples of standard gravity. Blank lines and lines starting with '#'
// are ignored.
type IMUSource struct {
	lines LineSource
	clock timeutil.Clock
	feed  *feed[MotionEvent]

	mu       sync.Mutex
	throttle throttle
}

// NewIMUSource creates a motion source reading from lines.
func NewIMUSource(lines LineSource, opts IMUOptions) *IMUSource {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultMotionInterval
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &IMUSource{
		lines:    lines,
		clock:    opts.Clock,
		feed:     newFeed[MotionEvent](),
		throttle: throttle{interval: opts.ReportInterval},
	}
}

// SubscribeMotion registers a new motion subscriber.
func (m *IMUSource) SubscribeMotion() (string, <-chan MotionEvent) {
	return m.feed.subscribe()
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *IMUSource) Unsubscribe(id string) {
	m.feed.unsubscribe(id)
}

// Run consumes lines until ctx is done or the line source closes the
// subscription, then closes every motion subscription.
func (m *IMUSource) Run(ctx context.Context) error {
	id, lines := m.lines.Subscribe()
	defer m.lines.Unsubscribe(id)
	defer m.feed.close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := m.HandleLine(line); err != nil {
				imuLog("%v", err)
			}
		}
	}
}

// HandleLine parses one sample and publishes it if the report interval has
// elapsed since the previous event.
func (m *IMUSource) HandleLine(line string) error {
	ev, ok, err := ParseMotion(line)
	if err != nil || !ok {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if !m.throttle.allow(now) {
		return nil
	}
	ev.Time = now
	m.feed.publish(ev)
	return nil
}

// ParseMotion parses an "ax,ay,az" sample. ok is false for blank and comment
// lines.
func ParseMotion(line string) (ev MotionEvent, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return MotionEvent{}, false, nil
	}
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return MotionEvent{}, false, fmt.Errorf("motion sample %q: want 3 fields, got %d", line, len(fields))
	}
	var axes [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return MotionEvent{}, false, fmt.Errorf("motion sample %q: %w", line, err)
		}
		axes[i] = v
	}
	return MotionEvent{X: axes[0], Y: axes[1], Z: axes[2]}, true, nil
}
