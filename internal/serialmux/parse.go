package serialmux

import (
	"bufio"
	"io"
	"strings"
)

// Line kinds found in a combined sensor recording.
const (
	LineKindNMEA    = "nmea"
	LineKindMotion  = "motion"
	LineKindUnknown = "unknown"
)

// ClassifyLine inspects a line and returns which sensor produced it: NMEA
// sentences start with '$', accelerometer samples are three comma separated
// fields. Blank lines and '#' comments are unknown.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "" || strings.HasPrefix(line, "#"):
		return LineKindUnknown
	case strings.HasPrefix(line, "$"):
		return LineKindNMEA
	case strings.Count(line, ",") == 2:
		return LineKindMotion
	default:
		return LineKindUnknown
	}
}

// SplitRecording reads a recording that interleaves GPS and IMU output and
// returns the lines of each sensor in order. Unknown lines are skipped.
func SplitRecording(r io.Reader) (nmea, motion []string, err error) {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		switch ClassifyLine(line) {
		case LineKindNMEA:
			nmea = append(nmea, line)
		case LineKindMotion:
			motion = append(motion, line)
		}
	}
	return nmea, motion, scan.Err()
}
