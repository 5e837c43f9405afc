package race

import "errors"

var (
	// ErrCorruptRecord is returned when a stored race record is missing a
	// required field or cannot be parsed.
	ErrCorruptRecord = errors.New("corrupt race record")

	// ErrRaceNotFound is returned by archives when no race is stored under the
	// requested start time, or when the archive is empty.
	ErrRaceNotFound = errors.New("race not found")

	// ErrRaceFinished is returned when a finished race is asked to record
	// points or start another round.
	ErrRaceFinished = errors.New("race already finished")

	// ErrRoundEnded is returned when points are appended to an ended round.
	ErrRoundEnded = errors.New("round already ended")
)

func isCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptRecord)
}
