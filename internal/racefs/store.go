// Package racefs stores race records as one JSON file per race,
// <dir>/<startTime>.json, on an fsutil.FileSystem.
package racefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/racelog/internal/fsutil"
	"github.com/banshee-data/racelog/internal/race"
)

const recordExt = ".json"

// Store is a race archive backed by a directory of record files.
type Store struct {
	fs  fsutil.FileSystem
	dir string
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(fsys fsutil.FileSystem, dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("racefs: empty directory")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("racefs: create %s: %w", dir, err)
	}
	return &Store{fs: fsys, dir: filepath.Clean(dir)}, nil
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(startTime int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(startTime, 10)+recordExt)
}

// SaveRace writes the race record, replacing any record with the same start
// time. The write is atomic on the OS filesystem.
func (s *Store) SaveRace(ctx context.Context, r *race.Race) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := r.Encode()
	if err != nil {
		return fmt.Errorf("encode race %d: %w", r.StartTime(), err)
	}
	if err := s.fs.WriteFile(s.path(r.StartTime()), record, 0o644); err != nil {
		return fmt.Errorf("save race %d: %w", r.StartTime(), err)
	}
	return nil
}

// RaceRecord returns the raw record of the race started at startTime.
func (s *Store) RaceRecord(ctx context.Context, startTime int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(s.path(startTime))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", race.ErrRaceNotFound, startTime)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Race returns the race started at startTime.
func (s *Store) Race(ctx context.Context, startTime int64) (*race.Race, error) {
	data, err := s.RaceRecord(ctx, startTime)
	if err != nil {
		return nil, err
	}
	r, err := race.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("race %d: %w", startTime, err)
	}
	return r, nil
}

// startTimes lists the keys of the stored records in ascending order. Files
// not named <integer>.json are ignored.
func (s *Store) startTimes() ([]int64, error) {
	names, err := s.fs.Glob(filepath.Join(s.dir, "*"+recordExt))
	if err != nil {
		return nil, err
	}
	var starts []int64
	for _, name := range names {
		base := strings.TrimSuffix(filepath.Base(name), recordExt)
		start, err := strconv.ParseInt(base, 10, 64)
		if err != nil {
			continue
		}
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts, nil
}

// Races returns every stored race in ascending start time order.
func (s *Store) Races(ctx context.Context) ([]*race.Race, error) {
	starts, err := s.startTimes()
	if err != nil {
		return nil, err
	}
	races := make([]*race.Race, 0, len(starts))
	for _, start := range starts {
		r, err := s.Race(ctx, start)
		if err != nil {
			return nil, err
		}
		races = append(races, r)
	}
	return races, nil
}

// LatestRace returns the most recently started race.
func (s *Store) LatestRace(ctx context.Context) (*race.Race, error) {
	starts, err := s.startTimes()
	if err != nil {
		return nil, err
	}
	if len(starts) == 0 {
		return nil, race.ErrRaceNotFound
	}
	return s.Race(ctx, starts[len(starts)-1])
}

// DeleteRace removes the record of the race started at startTime.
func (s *Store) DeleteRace(ctx context.Context, startTime int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.fs.Remove(s.path(startTime))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %d", race.ErrRaceNotFound, startTime)
	}
	return err
}
