// Package schedule serves the merged schedule to the read path, rebuilding it
// at most once per fingerprint change across all server processes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/artifact"
)

// Rebuilder produces a fresh merged schedule on disk.
type Rebuilder interface {
	Merge(ctx context.Context) error
}

// Snapshot is one immutable load of the merged schedule and calendar map.
// Callers must not mutate it.
type Snapshot struct {
	Schedule    artifact.Schedule
	CalendarMap artifact.CalendarMap
	Fingerprint artifact.Fingerprint
	LoadedAt    time.Time
}

// Cache keeps the latest snapshot in memory and coordinates rebuilds with an
// advisory file lock, so concurrent workers trigger at most one merge per
// fingerprint transition.
type Cache struct {
	dir       *artifact.Dir
	merger    Rebuilder
	staleness time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	current *Snapshot

	lastErrMu sync.Mutex
	lastErr   string
}

func NewCache(dir *artifact.Dir, merger Rebuilder, logger zerolog.Logger) *Cache {
	return &Cache{
		dir:       dir,
		merger:    merger,
		staleness: 60 * time.Second,
		logger:    logger.With().Str("component", "schedule").Logger(),
	}
}

// Ensure returns a schedule snapshot that matches the current artifact
// fingerprint, rebuilding on disk when necessary.
func (c *Cache) Ensure(ctx context.Context) (*Snapshot, error) {
	fp, err := c.dir.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	if snap := c.fresh(fp); snap != nil {
		return snap, nil
	}

	lock := flock.New(c.dir.Path(artifact.RebuildLockFile))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire rebuild lock: %w", err)
	}
	defer lock.Unlock()

	// Another worker may have rebuilt while we waited on the lock.
	if snap := c.fresh(fp); snap != nil {
		return snap, nil
	}

	diskFp, ok, err := c.dir.ReadFingerprint()
	if err != nil {
		return nil, fmt.Errorf("read fingerprint: %w", err)
	}
	if !ok || !diskFp.Equal(fp) {
		if err := c.merger.Merge(ctx); err != nil {
			c.recordError(err)
			// Stale-but-consistent beats failing the read path.
			if snap := c.load(fp); snap != nil {
				return snap, nil
			}
			return nil, err
		}
		c.recordError(nil)
	}

	snap := c.load(fp)
	if snap == nil {
		return nil, fmt.Errorf("merged schedule missing after rebuild")
	}
	return snap, nil
}

// fresh returns the in-memory snapshot when it matches fp and is young enough.
func (c *Cache) fresh(fp artifact.Fingerprint) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	if !c.current.Fingerprint.Equal(fp) {
		return nil
	}
	if time.Since(c.current.LoadedAt) >= c.staleness {
		return nil
	}
	return c.current
}

// load reads the on-disk schedule and calendar map into the in-memory slot.
// Returns nil when the schedule has never been merged.
func (c *Cache) load(fp artifact.Fingerprint) *Snapshot {
	var sched artifact.Schedule
	if err := c.dir.ReadJSON(artifact.ScheduleFile, &sched); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Msg("failed to load merged schedule")
		}
		return nil
	}
	calMap := artifact.CalendarMap{}
	if err := c.dir.ReadJSON(artifact.CalendarMapFile, &calMap); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn().Err(err).Msg("failed to load calendar map")
	}

	snap := &Snapshot{
		Schedule:    sched,
		CalendarMap: calMap,
		Fingerprint: fp,
		LoadedAt:    time.Now(),
	}
	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()
	return snap
}

func (c *Cache) recordError(err error) {
	c.lastErrMu.Lock()
	defer c.lastErrMu.Unlock()
	if err == nil {
		c.lastErr = ""
		return
	}
	c.lastErr = err.Error()
}

// LastError reports the most recent rebuild failure, empty when the last
// rebuild succeeded.
func (c *Cache) LastError() string {
	c.lastErrMu.Lock()
	defer c.lastErrMu.Unlock()
	return c.lastErr
}
