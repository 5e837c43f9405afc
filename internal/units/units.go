// Package units converts racelog's SI values (m/s, metres, Unix seconds) into
// the metric or imperial strings shown on the history and race pages.
package units

import (
	"fmt"
	"math"
	"strings"
)

// Unit systems.
const (
	Metric   = "metric"
	Imperial = "imperial"
)

// ValidSystems contains all valid unit systems.
var ValidSystems = []string{Metric, Imperial}

const (
	mpsToKMPH   = 3.6
	mpsToMPH    = 2.2369362920544
	metresPerKM = 1000.0
	metresPerMi = 1609.344
)

// IsValid checks if the given unit system is known.
func IsValid(system string) bool {
	for _, s := range ValidSystems {
		if system == s {
			return true
		}
	}
	return false
}

// GetValidSystemsString returns the valid systems for error messages.
func GetValidSystemsString() string {
	return strings.Join(ValidSystems, ", ")
}

// ConvertSpeed converts m/s to km/h, or to mph for the imperial system.
func ConvertSpeed(speedMPS float64, system string) float64 {
	if system == Imperial {
		return speedMPS * mpsToMPH
	}
	return speedMPS * mpsToKMPH
}

// ConvertDistance converts metres to kilometres, or to miles for the imperial
// system.
func ConvertDistance(metres float64, system string) float64 {
	if system == Imperial {
		return metres / metresPerMi
	}
	return metres / metresPerKM
}

// SpeedUnit returns the speed unit label of system.
func SpeedUnit(system string) string {
	if system == Imperial {
		return "mph"
	}
	return "km/h"
}

// DistanceUnit returns the distance unit label of system.
func DistanceUnit(system string) string {
	if system == Imperial {
		return "mi"
	}
	return "km"
}

// FormatSpeed renders a speed rounded to a whole unit, e.g. "36 km/h".
func FormatSpeed(speedMPS float64, system string) string {
	return fmt.Sprintf("%.0f %s", ConvertSpeed(speedMPS, system), SpeedUnit(system))
}

// FormatDistance renders a distance with two decimals, e.g. "1.25 km".
func FormatDistance(metres float64, system string) string {
	return fmt.Sprintf("%.2f %s", ConvertDistance(metres, system), DistanceUnit(system))
}

// FormatTilt renders a lean angle in whole degrees.
func FormatTilt(degrees float64) string {
	return fmt.Sprintf("%.0f°", degrees)
}

// FormatGForce renders an acceleration magnitude with two decimals.
func FormatGForce(g float64) string {
	return fmt.Sprintf("%.2f g", g)
}

// FormatDuration renders whole seconds as m:ss, or h:mm:ss from one hour up.
// Negative durations render as 0:00.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
